package client

import (
	"context"
	"net/http"
	"os"

	"github.com/gabriel-vasile/mimetype"

	"github.com/milan604/netkit/pkg/response"
	"github.com/milan604/netkit/pkg/retry"
	"github.com/milan604/netkit/pkg/router"
	"github.com/milan604/netkit/pkg/session"
	"github.com/milan604/netkit/pkg/upload"
)

// HTTP performs downloads and uploads reported as event streams.
type HTTP struct {
	base
}

// NewHTTP returns an HTTP client. A nil interceptor never adapts or retries.
func NewHTTP(sess *session.Session, ic retry.Interceptor, opts ...Option) *HTTP {
	return &HTTP{base: newBase(sess, ic, opts)}
}

// DownloadResult acknowledges a finished download. Path is empty for in-memory downloads;
// Data is nil for downloads saved to disk.
type DownloadResult struct {
	Path       string
	Data       []byte
	Size       int64
	MIMEType   string
	StatusCode int
}

// Download fetches r into memory.
func (c *HTTP) Download(r router.Router) *Operation[DownloadResult] {
	return c.download(r, "")
}

// DownloadTo fetches r into the file at path, replacing it only once the body is complete.
func (c *HTTP) DownloadTo(r router.Router, path string) *Operation[DownloadResult] {
	return c.download(r, path)
}

func (c *HTTP) download(r router.Router, path string) *Operation[DownloadResult] {
	return newOperation(func(ctx context.Context, progress func(float64)) (DownloadResult, error) {
		return call(ctx, &c.base, r, func(ctx context.Context, req *http.Request) (DownloadResult, error) {
			raw, err := c.sess.Download(ctx, req, path, progress)
			if err != nil {
				return DownloadResult{}, err
			}
			if err := response.Verify[response.DefaultErrorBody](raw); err != nil {
				return DownloadResult{}, err
			}
			return describeDownload(raw, path)
		})
	})
}

func describeDownload(raw *response.Raw, path string) (DownloadResult, error) {
	res := DownloadResult{Path: path, StatusCode: raw.StatusCode()}
	if path == "" {
		res.Data = raw.Body
		res.Size = int64(len(raw.Body))
		res.MIMEType = mimetype.Detect(raw.Body).String()
		return res, nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return res, err
	}
	res.Size = info.Size()
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return res, err
	}
	res.MIMEType = mt.String()
	return res, nil
}

// UploadFile sends f as the raw request body and decodes the response as T.
func UploadFile[T any](c *HTTP, r router.Router, f *upload.File) *Operation[T] {
	return UploadFileAs[T, response.DefaultErrorBody, response.DefaultAPIError](c, r, f)
}

// UploadFileAs is UploadFile with caller supplied error shapes.
func UploadFileAs[T, E, AE any](c *HTTP, r router.Router, f *upload.File) *Operation[T] {
	return uploadOperation[T, E, AE](c, r, func() (*upload.Body, error) { return c.enc.EncodeFile(f) })
}

// UploadForm sends form as multipart/form-data and decodes the response as T.
func UploadForm[T any](c *HTTP, r router.Router, form *upload.FormData) *Operation[T] {
	return UploadFormAs[T, response.DefaultErrorBody, response.DefaultAPIError](c, r, form)
}

// UploadFormAs is UploadForm with caller supplied error shapes.
func UploadFormAs[T, E, AE any](c *HTTP, r router.Router, form *upload.FormData) *Operation[T] {
	return uploadOperation[T, E, AE](c, r, func() (*upload.Body, error) { return c.enc.EncodeForm(form) })
}

// uploadOperation encodes the body once per Run and resends it on every attempt.
func uploadOperation[T, E, AE any](c *HTTP, r router.Router, encode func() (*upload.Body, error)) *Operation[T] {
	return newOperation(func(ctx context.Context, progress func(float64)) (T, error) {
		body, err := encode()
		if err != nil {
			var zero T
			return zero, err
		}
		return call(ctx, &c.base, r, func(ctx context.Context, req *http.Request) (T, error) {
			raw, err := c.sess.Upload(ctx, req, body.Bytes, body.ContentType, progress)
			return response.Pipeline[T, E, AE](raw, err)
		})
	})
}

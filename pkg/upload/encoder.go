package upload

import (
	"bytes"
	"fmt"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/milan604/netkit/pkg/logger"
)

const lineBreak = "\r\n"

// Body is an encoded request payload.
type Body struct {
	Bytes       []byte
	ContentType string
	// Boundary is empty for single-file bodies.
	Boundary string
}

// Encoder builds upload bodies.
type Encoder struct {
	log           logger.LogManager
	newBoundary   func() string
	maxBoundTries int
}

// EncoderOption configures an Encoder.
type EncoderOption func(*Encoder)

// WithLogger sets the logger used for advisories and skipped files.
func WithLogger(l logger.LogManager) EncoderOption {
	return func(e *Encoder) { e.log = l }
}

// WithBoundaryGenerator replaces the random boundary source.
func WithBoundaryGenerator(fn func() string) EncoderOption {
	return func(e *Encoder) { e.newBoundary = fn }
}

// NewEncoder returns an Encoder.
func NewEncoder(opts ...EncoderOption) *Encoder {
	e := &Encoder{
		newBoundary:   func() string { return "Boundary-" + uuid.NewString() },
		maxBoundTries: 16,
	}
	for _, o := range opts {
		o(e)
	}
	e.log = logger.OrNop(e.log)
	return e
}

// EncodeFile returns the raw file bytes with the file's MIME type as the content type.
func (e *Encoder) EncodeFile(f *File) (*Body, error) {
	b, err := f.bytes()
	if err != nil {
		return nil, err
	}
	e.sniff(f.Name, f.MIMEType, b)
	return &Body{Bytes: b, ContentType: f.MIMEType}, nil
}

// EncodeForm builds a multipart/form-data body. Files whose content cannot be read are
// skipped with a warning.
func (e *Encoder) EncodeForm(form *FormData) (*Body, error) {
	type part struct {
		file *FormFile
		data []byte
	}
	parts := make([]part, 0, len(form.files))
	for _, f := range form.files {
		data, err := f.bytes()
		if err != nil {
			e.log.WarnF("skipping form file %q (key %q): %v", f.Name, f.Key, err)
			continue
		}
		if f.InMemory() && f.Size > LargeFileThreshold {
			f.adviseOnce.Do(func() {
				e.log.WarnF("holding a large file for upload in memory (%s > %s): %q; performance may suffer when memory is low",
					FormattedSize(f.Size), FormattedSize(LargeFileThreshold), f.Name)
			})
		}
		e.sniff(f.Name, f.MIMEType, data)
		parts = append(parts, part{file: f, data: data})
	}

	contents := make([][]byte, 0, len(form.fields)*2+len(parts)*2)
	for _, fd := range form.fields {
		contents = append(contents, []byte(fd.key), []byte(fd.value))
	}
	for _, p := range parts {
		contents = append(contents, []byte(p.file.Key), []byte(p.file.Name), p.data)
	}
	boundary, err := e.boundaryFor(contents)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	for _, fd := range form.fields {
		buf.WriteString("--" + boundary + lineBreak)
		fmt.Fprintf(&buf, "Content-Disposition: form-data; name=\"%s\"%s%s", fd.key, lineBreak, lineBreak)
		buf.WriteString(fd.value + lineBreak)
	}
	for _, p := range parts {
		buf.WriteString("--" + boundary + lineBreak)
		fmt.Fprintf(&buf, "Content-Disposition: form-data; name=\"%s\"; filename=\"%s\"%s", p.file.Key, p.file.Name, lineBreak)
		buf.WriteString("Content-Type: " + p.file.MIMEType + lineBreak + lineBreak)
		buf.Write(p.data)
		buf.WriteString(lineBreak)
	}
	buf.WriteString("--" + boundary + "--" + lineBreak)

	return &Body{
		Bytes:       buf.Bytes(),
		ContentType: "multipart/form-data; boundary=" + boundary,
		Boundary:    boundary,
	}, nil
}

// boundaryFor draws boundaries until one appears in none of contents.
func (e *Encoder) boundaryFor(contents [][]byte) (string, error) {
	for i := 0; i < e.maxBoundTries; i++ {
		b := e.newBoundary()
		if b == "" {
			continue
		}
		clash := false
		for _, c := range contents {
			if bytes.Contains(c, []byte(b)) {
				clash = true
				break
			}
		}
		if !clash {
			return b, nil
		}
	}
	return "", fmt.Errorf("upload: no collision-free boundary after %d attempts", e.maxBoundTries)
}

// sniff logs when the detected content type disagrees with the declared one.
func (e *Encoder) sniff(name, declared string, data []byte) {
	if len(data) == 0 {
		return
	}
	detected := mimetype.Detect(data)
	if detected.Is(declared) || detected.Is("application/octet-stream") || detected.Is("text/plain") {
		return
	}
	e.log.DebugF("upload %q declared as %s but content looks like %s", name, declared, detected.String())
}

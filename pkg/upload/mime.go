package upload

import (
	"path/filepath"
	"strings"

	"github.com/milan604/netkit/pkg/errors"
)

// mimeTypes maps lower-case file extensions to MIME types.
var mimeTypes = map[string]string{
	"aac":  "audio/aac",
	"avif": "image/avif",
	"bmp":  "image/bmp",
	"csv":  "text/csv",
	"doc":  "application/msword",
	"docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"gz":   "application/gzip",
	"gif":  "image/gif",
	"html": "text/html",
	"ico":  "image/vnd.microsoft.icon",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"json": "application/json",
	"mp3":  "audio/mpeg",
	"mp4":  "video/mp4",
	"mpeg": "video/mpeg",
	"png":  "image/png",
	"pdf":  "application/pdf",
	"ppt":  "application/vnd.ms-powerpoint",
	"pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	"rar":  "application/vnd.rar",
	"rtf":  "application/rtf",
	"7z":   "application/x-7z-compressed",
	"svg":  "image/svg+xml",
	"tar":  "application/x-tar",
	"txt":  "text/plain",
	"wav":  "audio/wav",
	"webp": "image/webp",
	"xls":  "application/vnd.ms-excel",
	"xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"xml":  "application/xml",
	"zip":  "application/zip",
}

// MIMETypeForExtension looks up ext, with or without a leading dot.
func MIMETypeForExtension(ext string) (string, error) {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if m, ok := mimeTypes[ext]; ok {
		return m, nil
	}
	return "", errors.Wrapf(errors.ErrUnsupportedMIMEType, "extension %q", ext)
}

// MIMETypeForFileName looks up the extension of name.
func MIMETypeForFileName(name string) (string, error) {
	return MIMETypeForExtension(filepath.Ext(name))
}

// splitNameAndExtension splits "photo.png" into "photo" and "png".
func splitNameAndExtension(fileName string) (string, string) {
	ext := filepath.Ext(fileName)
	return strings.TrimSuffix(fileName, ext), strings.TrimPrefix(ext, ".")
}

// Package upload holds single-file and multipart upload payloads and their encoders.
package upload

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/milan604/netkit/pkg/errors"
)

// LargeFileThreshold is the in-memory size above which encoding logs a memory advisory.
const LargeFileThreshold int64 = 20 << 20

// File is a single-file upload body. Exactly one of Data or Path is set.
type File struct {
	Name     string
	MIMEType string
	Data     []byte
	Path     string
}

// NewFileFromData creates an in-memory file, use it for relatively small files.
func NewFileFromData(name string, data []byte) (*File, error) {
	mime, err := MIMETypeForFileName(name)
	if err != nil {
		return nil, err
	}
	return &File{Name: name, MIMEType: mime, Data: data}, nil
}

// NewFileFromPath creates a file read from disk at encode time.
func NewFileFromPath(path string) (*File, error) {
	name := filepath.Base(path)
	mime, err := MIMETypeForFileName(name)
	if err != nil {
		return nil, err
	}
	return &File{Name: name, MIMEType: mime, Path: path}, nil
}

func (f *File) bytes() ([]byte, error) {
	return readSource(f.Data, f.Path)
}

// FormFile is a file record inside a multipart form.
type FormFile struct {
	Key      string
	Name     string
	MIMEType string
	Data     []byte
	Path     string
	Size     int64

	adviseOnce sync.Once
}

// NewFormFileFromData creates an in-memory form file (relatively small files, < 20MB).
func NewFormFileFromData(key, name, ext string, data []byte) (*FormFile, error) {
	mime, err := MIMETypeForExtension(ext)
	if err != nil {
		return nil, err
	}
	return &FormFile{
		Key:      key,
		Name:     name,
		MIMEType: mime,
		Data:     data,
		Size:     int64(len(data)),
	}, nil
}

// NewFormFileFromPath creates a form file streamed from disk (relatively large files, > 20MB).
// The file must exist so its size can be recorded.
func NewFormFileFromPath(key, path string) (*FormFile, error) {
	name, ext := splitNameAndExtension(filepath.Base(path))
	mime, err := MIMETypeForExtension(ext)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrNoFileData, "stat %s: %v", path, err)
	}
	if info.IsDir() {
		return nil, errors.Wrapf(errors.ErrNoFileData, "%s is a directory", path)
	}
	return &FormFile{
		Key:      key,
		Name:     name,
		MIMEType: mime,
		Path:     path,
		Size:     info.Size(),
	}, nil
}

// InMemory reports whether the file content is held in memory.
func (f *FormFile) InMemory() bool { return f.Data != nil }

func (f *FormFile) bytes() ([]byte, error) {
	return readSource(f.Data, f.Path)
}

func readSource(data []byte, path string) ([]byte, error) {
	if data != nil {
		return data, nil
	}
	if path == "" {
		return nil, errors.ErrNoFileData
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrNoFileData, "read %s: %v", path, err)
	}
	return b, nil
}

// FormData is an ordered set of text fields and files.
// Keys are not checked for duplicates.
type FormData struct {
	fields []field
	files  []*FormFile
}

type field struct {
	key, value string
}

// NewFormData returns an empty form.
func NewFormData() *FormData { return &FormData{} }

// AddField appends a text field.
func (f *FormData) AddField(key, value string) *FormData {
	f.fields = append(f.fields, field{key: key, value: value})
	return f
}

// AddFile appends a file.
func (f *FormData) AddFile(file *FormFile) *FormData {
	if file != nil {
		f.files = append(f.files, file)
	}
	return f
}

// Files returns the form's files in insertion order.
func (f *FormData) Files() []*FormFile { return f.files }

// FormattedSize renders a byte count as KB/MB/GB.
func FormattedSize(n int64) string {
	const unit = 1000
	switch {
	case n < unit*unit:
		return fmt.Sprintf("%.1f KB", float64(n)/unit)
	case n < unit*unit*unit:
		return fmt.Sprintf("%.1f MB", float64(n)/(unit*unit))
	default:
		return fmt.Sprintf("%.1f GB", float64(n)/(unit*unit*unit))
	}
}

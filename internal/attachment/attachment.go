// Package attachment validates files before they are uploaded to the
// support backend.
package attachment

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// MaxSize is the largest accepted attachment, in bytes (250 MiB).
const MaxSize int64 = 250 * 1024 * 1024

var (
	ErrTooLarge        = errors.New("file too large")
	ErrUnsupportedType = errors.New("unsupported file type")
)

// allowedTypes is the fixed MIME whitelist shared with the backend.
var allowedTypes = map[string]bool{
	"image/jpeg":         true,
	"image/png":          true,
	"image/gif":          true,
	"application/pdf":    true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"application/vnd.ms-excel": true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": true,
	"text/plain":      true,
	"video/mp4":       true,
	"video/quicktime": true,
}

// File is a candidate attachment. Open is called once per upload attempt.
type File struct {
	Name     string
	Size     int64
	MIMEType string
	Open     func() (io.ReadCloser, error)
}

// Validator checks files against the size limit and MIME whitelist.
type Validator struct {
	maxSize int64
}

// NewValidator creates a Validator with the standard limits.
func NewValidator() *Validator {
	return &Validator{maxSize: MaxSize}
}

// Validate returns nil when f may be uploaded, or an error matching
// ErrTooLarge or ErrUnsupportedType.
func (v *Validator) Validate(f File) error {
	if f.Size > v.maxSize {
		return fmt.Errorf("attachment: %s is %d bytes (max %d): %w", f.Name, f.Size, v.maxSize, ErrTooLarge)
	}
	if !allowedTypes[BaseType(f.MIMEType)] {
		return fmt.Errorf("attachment: %s has type %q: %w", f.Name, f.MIMEType, ErrUnsupportedType)
	}
	return nil
}

// BaseType strips parameters and normalizes case ("Text/Plain; charset=utf-8"
// becomes "text/plain").
func BaseType(mimeType string) string {
	base, _, _ := strings.Cut(mimeType, ";")
	return strings.ToLower(strings.TrimSpace(base))
}

// FromPath builds a File backed by a file on disk. The MIME type comes from
// the extension when it is known to the whitelist, otherwise from content
// sniffing.
func FromPath(path string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return File{}, fmt.Errorf("attachment: stat %s: %w", path, err)
	}
	if info.IsDir() {
		return File{}, fmt.Errorf("attachment: %s is a directory", path)
	}

	mimeType := BaseType(mime.TypeByExtension(filepath.Ext(path)))
	if !allowedTypes[mimeType] {
		detected, err := mimetype.DetectFile(path)
		if err != nil {
			return File{}, fmt.Errorf("attachment: detect type of %s: %w", path, err)
		}
		mimeType = BaseType(detected.String())
	}

	return File{
		Name:     filepath.Base(path),
		Size:     info.Size(),
		MIMEType: mimeType,
		Open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}, nil
}

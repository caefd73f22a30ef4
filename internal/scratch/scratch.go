// Package scratch stores uploads in uniquely named temporary files.
package scratch

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// DefaultSuffix is used when the upload name has no usable extension.
const DefaultSuffix = ".audio"

// ErrEmptyUpload is returned for a zero-byte upload.
var ErrEmptyUpload = errors.New("scratch: uploaded file is empty")

// File is an upload written to disk. The owner must call Remove.
type File struct {
	Path string
	Size int64

	once sync.Once
	err  error
}

// Save copies the upload into a new file in dir. Nothing is left behind when
// it fails.
func Save(dir string, header *multipart.FileHeader) (*File, error) {
	if header.Size == 0 {
		return nil, ErrEmptyUpload
	}

	src, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("scratch: open upload: %w", err)
	}
	defer src.Close()

	dst, err := os.CreateTemp(dir, "upload-*"+Suffix(header.Filename))
	if err != nil {
		return nil, fmt.Errorf("scratch: create file: %w", err)
	}
	f := &File{Path: dst.Name()}

	n, copyErr := io.Copy(dst, src)
	closeErr := dst.Close()
	switch {
	case copyErr != nil:
		f.Remove()
		return nil, fmt.Errorf("scratch: write upload: %w", copyErr)
	case closeErr != nil:
		f.Remove()
		return nil, fmt.Errorf("scratch: close file: %w", closeErr)
	case n == 0:
		f.Remove()
		return nil, ErrEmptyUpload
	}
	f.Size = n
	return f, nil
}

// Suffix returns the extension of the uploaded file name, or DefaultSuffix.
func Suffix(filename string) string {
	ext := filepath.Ext(filepath.Base(filename))
	if ext == "" || ext == "." || strings.ContainsAny(ext, `/\`) {
		return DefaultSuffix
	}
	return ext
}

// Remove deletes the file. It is safe to call more than once; a file that is
// already gone is not an error.
func (f *File) Remove() error {
	f.once.Do(func() {
		if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
			f.err = fmt.Errorf("scratch: remove %s: %w", f.Path, err)
		}
	})
	return f.err
}

// Package previewstore holds uploaded images between selection and analysis.
// A storage key doubles as the preview handle served at /preview/{key}; it
// must be deleted once the image is superseded or its session ends.
package previewstore

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when a key does not exist or was already released.
var ErrNotFound = errors.New("preview not found")

type PreviewStore interface {
	Save(ctx context.Context, prefix, mimeType string, r io.Reader) (storageKey string, err error)
	Get(ctx context.Context, storageKey string) (io.ReadCloser, string, error)
	Delete(ctx context.Context, storageKey string) error
}

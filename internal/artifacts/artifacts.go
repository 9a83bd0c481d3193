// Package artifacts stores the downloadable blueprint files.
package artifacts

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when no object exists for a key.
var ErrNotFound = errors.New("artifacts: object not found")

// ContentTypeJSON is the only artifact type the store accepts.
const ContentTypeJSON = "application/json"

// Object is an open artifact. The caller must close Body.
type Object struct {
	Body        io.ReadCloser
	Size        int64 // -1 when unknown
	ContentType string
}

// Store reads and writes artifact bytes by key.
type Store interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	Get(ctx context.Context, key string) (*Object, error)
}

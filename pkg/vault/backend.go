package vault

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned when a stored record does not exist.
var ErrNotFound = errors.New("not found")

// ObjectInfo describes a stored object or directory.
type ObjectInfo struct {
	Path    string
	Size    int64
	ModTime time.Time
	IsDir   bool
}

// Backend abstracts the storage system holding record payloads.
// Implementations wrap rclone backends.
type Backend interface {
	// Name returns the configured name of this backend.
	Name() string

	// Type returns the backend type (e.g. "local", "s3", "azureblob").
	Type() string

	// List returns objects and directories under the given prefix.
	// Returns direct children only.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Stat returns info for a single object.
	Stat(ctx context.Context, path string) (ObjectInfo, error)

	// Open returns a reader for the entire object.
	Open(ctx context.Context, path string) (io.ReadCloser, error)

	// Write writes data to the given path. Creates or overwrites.
	Write(ctx context.Context, path string, r io.Reader, size int64) error

	// Close releases resources held by this backend.
	Close() error
}

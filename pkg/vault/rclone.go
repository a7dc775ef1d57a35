package vault

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	// Register rclone backends via blank imports.
	_ "github.com/rclone/rclone/backend/azureblob"
	_ "github.com/rclone/rclone/backend/local"
	_ "github.com/rclone/rclone/backend/s3"

	"github.com/rclone/rclone/fs"
	"github.com/rclone/rclone/fs/config/configmap"
	"github.com/rclone/rclone/fs/object"
)

// RcloneBackend wraps an rclone fs.Fs as a Backend.
type RcloneBackend struct {
	name     string
	backType string
	rfs      fs.Fs
}

// NewRcloneBackend creates a backend from config.
// backendType is the rclone backend name (e.g. "local", "s3", "azureblob").
// root is the bucket/container or directory holding record payloads.
// params maps rclone config keys to values.
func NewRcloneBackend(name, backendType, root string, params map[string]string) (*RcloneBackend, error) {
	m := configmap.Simple(params)

	regInfo, err := fs.Find(backendType)
	if err != nil {
		return nil, fmt.Errorf("vault.NewRcloneBackend: unknown type %q: %w", backendType, err)
	}

	rfs, err := regInfo.NewFs(context.Background(), name, root, m)
	if err != nil {
		return nil, fmt.Errorf("vault.NewRcloneBackend: create %q (%s): %w", name, backendType, err)
	}

	slog.Info("Vault backend created",
		"component", "vault", "name", name,
		"type", backendType, "root", root,
	)

	return &RcloneBackend{name: name, backType: backendType, rfs: rfs}, nil
}

func (b *RcloneBackend) Name() string { return b.name }
func (b *RcloneBackend) Type() string { return b.backType }

// List returns objects and directories under the given prefix.
func (b *RcloneBackend) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	entries, err := b.rfs.List(ctx, prefix)
	if err != nil {
		if err == fs.ErrorDirNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("vault backend %s: List %q: %w", b.name, prefix, err)
	}

	result := make([]ObjectInfo, 0, len(entries))
	for _, entry := range entries {
		oi := ObjectInfo{
			Path:    entry.Remote(),
			ModTime: entry.ModTime(ctx),
		}

		switch e := entry.(type) {
		case fs.Object:
			oi.Size = e.Size()
		case fs.Directory:
			oi.IsDir = true
			oi.Size = e.Size()
		}

		// Strip prefix to get just the child name.
		if prefix != "" {
			oi.Path = strings.TrimPrefix(oi.Path, prefix)
			oi.Path = strings.TrimPrefix(oi.Path, "/")
		}

		result = append(result, oi)
	}

	return result, nil
}

// Stat returns info for a single object.
func (b *RcloneBackend) Stat(ctx context.Context, path string) (ObjectInfo, error) {
	obj, err := b.rfs.NewObject(ctx, path)
	if err != nil {
		if err == fs.ErrorObjectNotFound {
			return ObjectInfo{}, fmt.Errorf("vault backend %s: Stat %q: %w", b.name, path, ErrNotFound)
		}
		return ObjectInfo{}, fmt.Errorf("vault backend %s: Stat %q: %w", b.name, path, err)
	}
	return ObjectInfo{
		Path:    obj.Remote(),
		Size:    obj.Size(),
		ModTime: obj.ModTime(ctx),
	}, nil
}

// Open returns a reader for the entire object.
func (b *RcloneBackend) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	obj, err := b.rfs.NewObject(ctx, path)
	if err != nil {
		if err == fs.ErrorObjectNotFound {
			return nil, fmt.Errorf("vault backend %s: Open %q: %w", b.name, path, ErrNotFound)
		}
		return nil, fmt.Errorf("vault backend %s: Open %q: %w", b.name, path, err)
	}

	rc, err := obj.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("vault backend %s: Open %q: %w", b.name, path, err)
	}
	return rc, nil
}

// Write writes data to the given path.
func (b *RcloneBackend) Write(ctx context.Context, path string, r io.Reader, size int64) error {
	info := object.NewStaticObjectInfo(path, time.Now(), size, true, nil, nil)
	if _, err := b.rfs.Put(ctx, r, info); err != nil {
		return fmt.Errorf("vault backend %s: Write %q: %w", b.name, path, err)
	}
	return nil
}

// Close releases resources.
func (b *RcloneBackend) Close() error {
	slog.Info("Vault backend closed", "component", "vault", "name", b.name)
	return nil
}

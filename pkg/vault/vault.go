// Package vault stores medical record payloads in a pluggable storage
// backend and keeps a badger index of file metadata for fast listing.
package vault

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/medivault/medivault/pkg/config"
	"github.com/medivault/medivault/pkg/metrics"
)

// StatusLabel is the storage status reported for every vault record.
const StatusLabel = "ENCRYPTED (AES-256)"

const fileKeyPrefix = "file:"

// FileRecord is stored as JSON in badger for each vault file.
type FileRecord struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	Status     string    `json:"status"`
	UploadedAt time.Time `json:"uploaded_at"`
	Checksum   string    `json:"checksum,omitempty"`
}

// Vault couples a storage backend with a metadata index.
type Vault struct {
	backend Backend
	db      *badger.DB
}

// Open creates the vault from config, opening both the storage backend
// and the badger index.
func Open(cfg config.VaultConfig) (*Vault, error) {
	if cfg.Backend == "local" {
		if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
			return nil, fmt.Errorf("vault.Open: create root %s: %w", cfg.Root, err)
		}
	}

	be, err := NewRcloneBackend("vault", cfg.Backend, cfg.Root, cfg.Params)
	if err != nil {
		return nil, fmt.Errorf("vault.Open: %w", err)
	}

	opts := badger.DefaultOptions(cfg.IndexDir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		_ = be.Close()
		return nil, fmt.Errorf("vault.Open: index at %s: %w", cfg.IndexDir, err)
	}

	v := &Vault{backend: be, db: db}

	// Pick up any payloads written outside the index (e.g. seeded files).
	if err := v.Reindex(context.Background()); err != nil {
		slog.Warn("vault reindex failed", "error", err)
	}

	return v, nil
}

func fileKey(name string) []byte {
	return []byte(fileKeyPrefix + name)
}

// Store writes a payload to the backend and upserts its index record.
func (v *Vault) Store(ctx context.Context, name string, r io.Reader) (FileRecord, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		metrics.VaultErrors.WithLabelValues("store").Inc()
		return FileRecord{}, fmt.Errorf("vault.Store %q: read payload: %w", name, err)
	}

	sum := sha256.Sum256(data)

	if err := v.backend.Write(ctx, name, bytes.NewReader(data), int64(len(data))); err != nil {
		metrics.VaultErrors.WithLabelValues("store").Inc()
		return FileRecord{}, fmt.Errorf("vault.Store %q: %w", name, err)
	}

	rec := FileRecord{
		Name:       name,
		Size:       int64(len(data)),
		Status:     StatusLabel,
		UploadedAt: time.Now().UTC(),
		Checksum:   hex.EncodeToString(sum[:]),
	}

	if err := v.putRecord(rec); err != nil {
		metrics.VaultErrors.WithLabelValues("store").Inc()
		return FileRecord{}, err
	}

	metrics.UploadBytes.Add(float64(rec.Size))
	slog.Info("vault stored file", "name", name, "size", rec.Size)
	return rec, nil
}

// Retrieve opens a stored payload together with its index record.
// Returns ErrNotFound (wrapped) for unknown names.
func (v *Vault) Retrieve(ctx context.Context, name string) (io.ReadCloser, FileRecord, error) {
	rec, err := v.Record(name)
	if err != nil {
		return nil, FileRecord{}, err
	}

	rc, err := v.backend.Open(ctx, name)
	if err != nil {
		metrics.VaultErrors.WithLabelValues("retrieve").Inc()
		return nil, FileRecord{}, err
	}

	metrics.DownloadBytes.Add(float64(rec.Size))
	return rc, rec, nil
}

// Record returns the index record for a single file.
func (v *Vault) Record(name string) (FileRecord, error) {
	var rec FileRecord
	err := v.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(fileKey(name))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err == badger.ErrKeyNotFound {
		return FileRecord{}, fmt.Errorf("vault.Record %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return FileRecord{}, fmt.Errorf("vault.Record %q: %w", name, err)
	}
	return rec, nil
}

// List returns all index records sorted by name.
func (v *Vault) List() ([]FileRecord, error) {
	var records []FileRecord
	err := v.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(fileKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var rec FileRecord
				if err := json.Unmarshal(val, &rec); err != nil {
					return nil // skip corrupt entries
				}
				records = append(records, rec)
				return nil
			})
			if err != nil {
				continue
			}
		}
		return nil
	})
	if err != nil {
		metrics.VaultErrors.WithLabelValues("list").Inc()
		return nil, fmt.Errorf("vault.List: %w", err)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Name < records[j].Name
	})
	return records, nil
}

// Reindex lists the backend and upserts a record for every payload that
// the index does not know about yet. Existing records win.
func (v *Vault) Reindex(ctx context.Context) error {
	objects, err := v.backend.List(ctx, "")
	if err != nil {
		metrics.VaultErrors.WithLabelValues("reindex").Inc()
		return fmt.Errorf("vault.Reindex: %w", err)
	}

	indexed := 0
	for _, obj := range objects {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if obj.IsDir {
			continue
		}

		name := strings.TrimPrefix(obj.Path, "/")
		if _, err := v.Record(name); err == nil {
			continue
		}

		rec := FileRecord{
			Name:       name,
			Size:       obj.Size,
			Status:     StatusLabel,
			UploadedAt: obj.ModTime.UTC(),
		}
		if err := v.putRecord(rec); err != nil {
			slog.Warn("reindex upsert failed", "name", name, "error", err)
			continue
		}
		indexed++
	}

	if indexed > 0 {
		slog.Info("vault reindexed", "new_records", indexed)
	}
	return nil
}

func (v *Vault) putRecord(rec FileRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("vault: marshal record %q: %w", rec.Name, err)
	}
	err = v.db.Update(func(txn *badger.Txn) error {
		return txn.Set(fileKey(rec.Name), data)
	})
	if err != nil {
		return fmt.Errorf("vault: index record %q: %w", rec.Name, err)
	}
	return nil
}

// Close closes the index and the storage backend.
func (v *Vault) Close() error {
	var firstErr error
	if err := v.db.Close(); err != nil {
		firstErr = fmt.Errorf("vault.Close: index: %w", err)
	}
	if err := v.backend.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("vault.Close: backend: %w", err)
	}
	return firstErr
}

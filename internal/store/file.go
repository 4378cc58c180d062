package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/clawinfra/rapport/internal/queue"
)

// File persists one queue as a versioned, checksummed JSON record. Writes go
// to a temp file that is renamed into place, so a crash leaves either the
// old or the new record.
type File struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

// NewFile creates a file store for the record at path, creating its
// directory if needed.
func NewFile(path string, logger *slog.Logger) (*File, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &File{
		path:   path,
		logger: logger.With("component", "store", "backend", "file"),
	}, nil
}

// Path returns the record location.
func (f *File) Path() string { return f.path }

// Read returns the stored items. A missing file is an empty queue; an
// unreadable or corrupt record is logged and also reads as empty.
func (f *File) Read(ctx context.Context) ([]queue.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read queue file: %w", err)
	}

	items, err := decodeRecord(data)
	if err != nil {
		f.logger.Warn("discarding unreadable queue record", "path", f.path, "error", err)
		return nil, nil
	}
	return items, nil
}

// Write replaces the stored record.
func (f *File) Write(ctx context.Context, items []queue.Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := encodeRecord(items)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp record: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp record: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp record: %w", err)
	}
	if err := os.Chmod(tmpName, 0640); err != nil {
		return fmt.Errorf("chmod temp record: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("rename record: %w", err)
	}
	return nil
}

var _ queue.Store = (*File)(nil)

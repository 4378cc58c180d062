package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/clawinfra/rapport/internal/config"
	"github.com/clawinfra/rapport/internal/queue"
)

// Set holds one store per queue kind on a shared backend.
type Set struct {
	Backend string
	stores  map[queue.Kind]queue.Store
	closers []io.Closer
}

// Queue returns the store for kind.
func (s *Set) Queue(kind queue.Kind) queue.Store {
	return s.stores[kind]
}

// Close releases the backend's resources.
func (s *Set) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Open builds the stores for every queue kind from cfg.Store.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Set, error) {
	if logger == nil {
		logger = slog.Default()
	}
	set := &Set{
		Backend: cfg.Store.Backend,
		stores:  make(map[queue.Kind]queue.Store, len(queue.Kinds)),
	}

	switch cfg.Store.Backend {
	case config.BackendMemory:
		for _, k := range queue.Kinds {
			set.stores[k] = NewMemory()
		}

	case config.BackendFile, "":
		dir := cfg.StorePath()
		for _, k := range queue.Kinds {
			f, err := NewFile(filepath.Join(dir, string(k)+".json"), logger)
			if err != nil {
				return nil, err
			}
			set.stores[k] = f
		}

	case config.BackendSQLite:
		db, err := OpenSQLite(cfg.StorePath(), logger)
		if err != nil {
			return nil, err
		}
		set.closers = append(set.closers, db)
		for _, k := range queue.Kinds {
			set.stores[k] = db.Queue(k)
		}

	case config.BackendRedis:
		prefs, err := NewRedisPrefsFromURL(ctx, cfg.Store.RedisURL, logger)
		if err != nil {
			return nil, err
		}
		set.closers = append(set.closers, prefs)
		for _, k := range queue.Kinds {
			set.stores[k] = NewPrefs(prefs, k, logger)
		}

	default:
		return nil, fmt.Errorf("unknown store backend: %q", cfg.Store.Backend)
	}

	logger.Debug("queue stores opened", "component", "store", "backend", set.Backend)
	return set, nil
}

package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/clawinfra/rapport/internal/queue"
)

// Preferences is a string key-value slot, the shape of a mobile platform's
// shared preferences.
type Preferences interface {
	GetString(ctx context.Context, key string) (string, bool, error)
	SetString(ctx context.Context, key, value string) error
}

// QueueKey is the preference key holding a queue's record.
func QueueKey(kind queue.Kind) string {
	return "rapport_offline_" + string(kind) + "_queue"
}

// Prefs stores one queue as a record blob under a single preference key.
type Prefs struct {
	prefs  Preferences
	key    string
	logger *slog.Logger
}

// NewPrefs creates a queue store on top of prefs.
func NewPrefs(prefs Preferences, kind queue.Kind, logger *slog.Logger) *Prefs {
	if logger == nil {
		logger = slog.Default()
	}
	return &Prefs{
		prefs:  prefs,
		key:    QueueKey(kind),
		logger: logger.With("component", "store", "backend", "prefs"),
	}
}

// Read returns the queue. A missing key is empty; a malformed blob is
// logged and reads as empty.
func (p *Prefs) Read(ctx context.Context) ([]queue.Item, error) {
	raw, ok, err := p.prefs.GetString(ctx, p.key)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p.key, err)
	}
	if !ok || raw == "" {
		return nil, nil
	}

	items, err := decodeRecord([]byte(raw))
	if err != nil {
		p.logger.Warn("discarding unreadable queue record", "key", p.key, "error", err)
		return nil, nil
	}
	return items, nil
}

// Write replaces the blob.
func (p *Prefs) Write(ctx context.Context, items []queue.Item) error {
	data, err := encodeRecord(items)
	if err != nil {
		return err
	}
	if err := p.prefs.SetString(ctx, p.key, string(data)); err != nil {
		return fmt.Errorf("write %s: %w", p.key, err)
	}
	return nil
}

// MapPrefs is an in-memory Preferences.
type MapPrefs struct {
	mu sync.RWMutex
	m  map[string]string
}

// NewMapPrefs creates an empty MapPrefs.
func NewMapPrefs() *MapPrefs {
	return &MapPrefs{m: make(map[string]string)}
}

func (p *MapPrefs) GetString(_ context.Context, key string) (string, bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.m[key]
	return v, ok, nil
}

func (p *MapPrefs) SetString(_ context.Context, key, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.m[key] = value
	return nil
}

var (
	_ queue.Store = (*Prefs)(nil)
	_ Preferences = (*MapPrefs)(nil)
)

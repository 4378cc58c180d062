package store

import (
	"context"
	"sync"

	"github.com/clawinfra/rapport/internal/queue"
)

// Memory keeps a queue in process memory. Contents are lost on exit.
type Memory struct {
	mu    sync.Mutex
	items []queue.Item
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Read(_ context.Context) ([]queue.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]queue.Item, len(m.items))
	copy(out, m.items)
	return out, nil
}

func (m *Memory) Write(_ context.Context, items []queue.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = make([]queue.Item, len(items))
	copy(m.items, items)
	return nil
}

var _ queue.Store = (*Memory)(nil)

package cache

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultMemoryCacheSize = 4096

// Memory implements Cache with a bounded in-process LRU. Used when no
// Redis address is configured, and by tests.
type Memory struct {
	entries *lru.Cache[string, []byte]
}

func NewMemory(size int) (*Memory, error) {
	if size <= 0 {
		size = defaultMemoryCacheSize
	}
	entries, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	return &Memory{entries: entries}, nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	val, ok := m.entries.Get(key)
	if !ok {
		return nil, ErrMiss
	}
	return val, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	m.entries.Add(key, value)
	return nil
}

func (m *Memory) Del(_ context.Context, key string) error {
	m.entries.Remove(key)
	return nil
}

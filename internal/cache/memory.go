package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the in-process Store used when Redis is not configured.
// A janitor goroutine sweeps expired entries so short-TTL churn does not
// accumulate.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]memEntry

	stop chan struct{}
	once sync.Once
}

type memEntry struct {
	value     []byte
	expiresAt time.Time
}

const janitorInterval = time.Minute

func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{
		items: make(map[string]memEntry),
		stop:  make(chan struct{}),
	}
	go m.janitor()
	return m
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	e, ok := m.items[key]
	m.mu.RUnlock()
	if !ok || time.Now().After(e.expiresAt) {
		return nil, nil
	}
	return e.value, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	m.items[key] = memEntry{value: value, expiresAt: time.Now().Add(ttl)}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	m.items = make(map[string]memEntry)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Close() error {
	m.once.Do(func() { close(m.stop) })
	return nil
}

func (m *MemoryStore) janitor() {
	t := time.NewTicker(janitorInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			now := time.Now()
			m.mu.Lock()
			for k, e := range m.items {
				if now.After(e.expiresAt) {
					delete(m.items, k)
				}
			}
			m.mu.Unlock()
		case <-m.stop:
			return
		}
	}
}

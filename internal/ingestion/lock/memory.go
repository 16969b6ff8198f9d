package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryManager is a single-process Manager with the same lease semantics as
// RedisManager.
type MemoryManager struct {
	mu    sync.Mutex
	lease time.Duration
	now   func() time.Time
	held  map[string]memoryLease
}

type memoryLease struct {
	token   string
	expires time.Time
}

func NewMemoryManager(lease time.Duration) *MemoryManager {
	if lease <= 0 {
		lease = DefaultLease
	}
	return &MemoryManager{lease: lease, now: time.Now, held: map[string]memoryLease{}}
}

func (m *MemoryManager) Acquire(_ context.Context, key string) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if cur, ok := m.held[key]; ok && now.Before(cur.expires) {
		return nil, nil
	}
	token := uuid.NewString()
	m.held[key] = memoryLease{token: token, expires: now.Add(m.lease)}
	extend := func(context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		now := m.now()
		cur, ok := m.held[key]
		if !ok || cur.token != token || !now.Before(cur.expires) {
			return ErrNotHeld
		}
		m.held[key] = memoryLease{token: token, expires: now.Add(m.lease)}
		return nil
	}
	return newHandle(key, token, m.lease, extend, func(context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		if cur, ok := m.held[key]; !ok || cur.token != token {
			return ErrNotHeld
		}
		delete(m.held, key)
		return nil
	}), nil
}

// Held reports whether key is currently leased.
func (m *MemoryManager) Held(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.held[key]
	return ok && m.now().Before(cur.expires)
}

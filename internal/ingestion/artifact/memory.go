package artifact

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-process Store used by local runs and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
	uploads map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: map[string][]byte{}, uploads: map[string]int{}}
}

func (s *MemoryStore) Upload(_ context.Context, key string, data []byte) (Receipt, error) {
	cp := append([]byte(nil), data...)
	sum := md5.Sum(cp)
	s.mu.Lock()
	s.objects[key] = cp
	s.uploads[key]++
	s.mu.Unlock()
	return Receipt{Key: key, Size: int64(len(cp)), ETag: hex.EncodeToString(sum[:])}, nil
}

func (s *MemoryStore) Download(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return append([]byte(nil), data...), nil
}

// Uploads returns how many times key was written.
func (s *MemoryStore) Uploads(key string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.uploads[key]
}

// UploadsWithPrefix sums writes across every key under prefix.
func (s *MemoryStore) UploadsWithPrefix(prefix string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for k, c := range s.uploads {
		if strings.HasPrefix(k, prefix) {
			n += c
		}
	}
	return n
}

func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.objects))
	for k := range s.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

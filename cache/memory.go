package cache

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore keeps everything in process memory. State is lost on restart.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]string),
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	val, ok := s.data[key]
	if !ok {
		return "", ErrKeyNotFound
	}

	return val, nil
}

func (s *MemoryStore) Put(_ context.Context, key string, val string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = val
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range key {
		delete(s.data, k)
	}
	return nil
}

func (s *MemoryStore) Scan(_ context.Context, prefix string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ret := make(map[string]string)
	for k, v := range s.data {
		if strings.HasPrefix(k, prefix) {
			ret[k] = v
		}
	}

	return ret, nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.data)
}

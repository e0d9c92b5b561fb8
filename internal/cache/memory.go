package cache

import (
	"context"
	"sync"
	"time"
)

// Memory is a process-local Medium. Capacity, when positive, bounds the
// number of rows and makes Save fail with ErrStorageFull once reached.
type Memory struct {
	mu       sync.RWMutex
	m        map[string]Entry
	capacity int
}

func NewMemory() *Memory { return &Memory{m: make(map[string]Entry)} }

func NewMemoryWithCapacity(capacity int) *Memory {
	return &Memory{m: make(map[string]Entry), capacity: capacity}
}

func (s *Memory) Load(_ context.Context, key string) (Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.m[key]
	return e, ok, nil
}

func (s *Memory) Save(_ context.Context, key string, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.m[key]; !exists && s.capacity > 0 && len(s.m) >= s.capacity {
		return ErrStorageFull
	}
	s.m[key] = e
	return nil
}

func (s *Memory) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}

func (s *Memory) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for k, e := range s.m {
		if e.Expired(now) {
			delete(s.m, k)
			n++
		}
	}
	return n, nil
}

// Len is the number of stored rows, expired or not.
func (s *Memory) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

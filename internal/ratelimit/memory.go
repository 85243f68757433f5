package ratelimit

import (
	"context"
	"sync"
	"time"
)

type hit struct {
	at    time.Time
	entry string
}

// MemoryStore keeps a timestamp log per key. It is per process; use RedisStore
// when several instances share a quota.
type MemoryStore struct {
	mu   sync.Mutex
	logs map[string][]hit
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{logs: make(map[string][]hit)}
}

func (s *MemoryStore) Hit(_ context.Context, key, entry string, now time.Time, window time.Duration, quota int) (HitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	windowStart := now.Add(-window)
	events := s.logs[key]
	trimmed := events[:0]
	for _, h := range events {
		if h.at.After(windowStart) {
			trimmed = append(trimmed, h)
		}
	}

	res := HitResult{Count: len(trimmed)}
	if len(trimmed) > 0 {
		res.Oldest = trimmed[0].at
	}

	if len(trimmed) >= quota {
		s.store(key, trimmed)
		return res, nil
	}

	trimmed = append(trimmed, hit{at: now, entry: entry})
	s.store(key, trimmed)

	res.Admitted = true
	res.Count = len(trimmed)
	if res.Oldest.IsZero() {
		res.Oldest = now
	}
	return res, nil
}

func (s *MemoryStore) Remove(_ context.Context, key, entry string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := s.logs[key]
	for i, h := range events {
		if h.entry == entry {
			s.store(key, append(events[:i:i], events[i+1:]...))
			return nil
		}
	}
	return nil
}

func (s *MemoryStore) store(key string, events []hit) {
	if len(events) == 0 {
		delete(s.logs, key)
		return
	}
	s.logs[key] = append([]hit(nil), events...)
}

package cache

import (
	"context"
	"sync"
	"time"

	"photosort-server-go/internal/domain/moderation"
)

type memoryEntry struct {
	result    moderation.Result
	expiresAt time.Time
}

type memoryStore struct {
	mutex       sync.RWMutex
	items       map[string]memoryEntry
	ttl         time.Duration
	cleanupFreq time.Duration
	stop        chan struct{}
	stopOnce    sync.Once
}

// NewMemory builds an in-memory result cache with background expiry.
func NewMemory(cfg Config) Store {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	cleanup := 5 * time.Minute
	if cfg.Memory != nil && cfg.Memory.GCInterval > 0 {
		cleanup = cfg.Memory.GCInterval
	}
	s := &memoryStore{
		items:       make(map[string]memoryEntry),
		ttl:         ttl,
		cleanupFreq: cleanup,
		stop:        make(chan struct{}),
	}
	go s.gcLoop()
	return s
}

func (s *memoryStore) gcLoop() {
	ticker := time.NewTicker(s.cleanupFreq)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.cleanupExpired()
		case <-s.stop:
			return
		}
	}
}

func (s *memoryStore) cleanupExpired() {
	now := time.Now()
	s.mutex.Lock()
	for key, entry := range s.items {
		if now.After(entry.expiresAt) {
			delete(s.items, key)
		}
	}
	s.mutex.Unlock()
}

func (s *memoryStore) Get(_ context.Context, key string) (moderation.Result, bool, error) {
	s.mutex.RLock()
	entry, ok := s.items[key]
	s.mutex.RUnlock()
	if !ok || time.Now().After(entry.expiresAt) {
		return moderation.Result{}, false, nil
	}
	return entry.result, true, nil
}

func (s *memoryStore) Set(_ context.Context, key string, result moderation.Result) error {
	s.mutex.Lock()
	s.items[key] = memoryEntry{
		result:    result,
		expiresAt: time.Now().Add(s.ttl),
	}
	s.mutex.Unlock()
	return nil
}

func (s *memoryStore) Stats(_ context.Context) (map[string]any, error) {
	now := time.Now()
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	active := 0
	for _, entry := range s.items {
		if now.Before(entry.expiresAt) {
			active++
		}
	}
	return map[string]any{
		"type":        "memory",
		"total":       len(s.items),
		"active":      active,
		"ttl_seconds": int(s.ttl.Seconds()),
	}, nil
}

func (s *memoryStore) Close(_ context.Context) error {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	return nil
}

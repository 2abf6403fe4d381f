package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Result is the outcome of a quota check for one identifier.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Store decides whether a request from the given identifier fits inside
// the current window. Implementations must treat Allow as a combined
// check-and-increment: an allowed call consumes one unit of quota.
type Store interface {
	Allow(ctx context.Context, key string) (Result, error)
}

// Config holds the window parameters shared by all store implementations.
type Config struct {
	Window time.Duration
	Max    int
}

// DefaultConfig matches the public chat quota: 20 requests per 60 seconds.
func DefaultConfig() Config {
	return Config{Window: 60 * time.Second, Max: 20}
}

type entry struct {
	count   int
	resetAt time.Time
}

// MemoryStore is a fixed-interval window counter kept in process memory.
// The window resets Config.Window after the first request from a key, not
// continuously. Suitable for a single instance only; use RedisStore when
// running more than one replica.
type MemoryStore struct {
	mu      sync.Mutex
	cfg     Config
	entries map[string]*entry
	now     func() time.Time
}

func NewMemoryStore(cfg Config) *MemoryStore {
	s := &MemoryStore{
		cfg:     cfg,
		entries: make(map[string]*entry),
		now:     time.Now,
	}
	// Sweep expired windows so idle identifiers do not accumulate forever.
	go func() {
		ticker := time.NewTicker(cfg.Window)
		defer ticker.Stop()
		for range ticker.C {
			s.cleanup()
		}
	}()
	return s
}

func (s *MemoryStore) Allow(_ context.Context, key string) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, ok := s.entries[key]
	if !ok || now.After(e.resetAt) {
		e = &entry{count: 1, resetAt: now.Add(s.cfg.Window)}
		s.entries[key] = e
		return Result{Allowed: true, Remaining: s.cfg.Max - 1, ResetAt: e.resetAt}, nil
	}
	if e.count >= s.cfg.Max {
		return Result{Allowed: false, Remaining: 0, ResetAt: e.resetAt}, nil
	}
	e.count++
	return Result{Allowed: true, Remaining: s.cfg.Max - e.count, ResetAt: e.resetAt}, nil
}

func (s *MemoryStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, e := range s.entries {
		if now.After(e.resetAt) {
			delete(s.entries, k)
		}
	}
}

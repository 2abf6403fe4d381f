package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestStore(cfg Config, now *time.Time) *MemoryStore {
	s := &MemoryStore{
		cfg:     cfg,
		entries: make(map[string]*entry),
		now:     func() time.Time { return *now },
	}
	return s
}

func TestMemoryStoreQuotaExhaustion(t *testing.T) {
	now := time.Now()
	s := newTestStore(Config{Window: time.Minute, Max: 20}, &now)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		res, err := s.Allow(ctx, "1.2.3.4")
		assert.NoError(t, err)
		assert.True(t, res.Allowed, "request %d should be allowed", i+1)
		assert.Equal(t, 19-i, res.Remaining)
	}

	res, err := s.Allow(ctx, "1.2.3.4")
	assert.NoError(t, err)
	assert.False(t, res.Allowed, "21st request must be rejected")
	assert.Equal(t, 0, res.Remaining)
}

func TestMemoryStoreWindowRollover(t *testing.T) {
	now := time.Now()
	s := newTestStore(Config{Window: time.Minute, Max: 20}, &now)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		res, _ := s.Allow(ctx, "1.2.3.4")
		assert.True(t, res.Allowed)
	}
	res, _ := s.Allow(ctx, "1.2.3.4")
	assert.False(t, res.Allowed)

	// First request of the next window is accepted with a fresh budget.
	now = now.Add(61 * time.Second)
	res, _ = s.Allow(ctx, "1.2.3.4")
	assert.True(t, res.Allowed)
	assert.Equal(t, 19, res.Remaining)
}

func TestMemoryStoreIsolatesIdentifiers(t *testing.T) {
	now := time.Now()
	s := newTestStore(Config{Window: time.Minute, Max: 2}, &now)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, _ := s.Allow(ctx, "a")
		assert.True(t, res.Allowed)
	}
	res, _ := s.Allow(ctx, "a")
	assert.False(t, res.Allowed)

	res, _ = s.Allow(ctx, "b")
	assert.True(t, res.Allowed, "other identifiers keep their own budget")
}

func TestMemoryStoreCleanupDropsExpiredWindows(t *testing.T) {
	now := time.Now()
	s := newTestStore(Config{Window: time.Minute, Max: 5}, &now)
	ctx := context.Background()

	_, _ = s.Allow(ctx, "a")
	_, _ = s.Allow(ctx, "b")
	assert.Len(t, s.entries, 2)

	now = now.Add(2 * time.Minute)
	s.cleanup()
	assert.Empty(t, s.entries)
}

func TestMemoryStoreResetAt(t *testing.T) {
	now := time.Now()
	s := newTestStore(Config{Window: time.Minute, Max: 5}, &now)

	res, _ := s.Allow(context.Background(), "a")
	assert.Equal(t, now.Add(time.Minute), res.ResetAt)
}

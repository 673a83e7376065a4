package cache

import (
	"context"
	"time"

	"github.com/maypok86/otter/v2"
	"github.com/maypok86/otter/v2/stats"
)

// Memory keeps tokens in a size-bounded otter cache local to this process.
type Memory[T any] struct {
	entries *otter.Cache[string, T]
	stats   *stats.Counter
	ttl     time.Duration
}

// NewMemory creates a cache holding at most maxSize tokens. Each entry lives
// for ttl after it is written, or until the token's own expiry if sooner.
func NewMemory[T any](ttl time.Duration, maxSize int) (*Memory[T], error) {
	counter := stats.NewCounter()

	entries, err := otter.New(&otter.Options[string, T]{
		MaximumSize:   maxSize,
		StatsRecorder: counter,
		ExpiryCalculator: otter.ExpiryWritingFunc(func(e otter.Entry[string, T]) time.Duration {
			return lifetime(e.Value, ttl, time.Now())
		}),
	})
	if err != nil {
		return nil, err
	}

	return &Memory[T]{entries: entries, stats: counter, ttl: ttl}, nil
}

func (m *Memory[T]) Get(_ context.Context, key string) (T, bool, error) {
	token, ok := m.entries.GetIfPresent(key)
	return token, ok, nil
}

// Set stores token, replacing any entry for key. An already expired token
// only removes the existing entry.
func (m *Memory[T]) Set(_ context.Context, key string, token T) error {
	if lifetime(token, m.ttl, time.Now()) <= 0 {
		m.entries.Invalidate(key)
		return nil
	}
	m.entries.Set(key, token)
	return nil
}

func (m *Memory[T]) Invalidate(_ context.Context, key string) error {
	m.entries.Invalidate(key)
	return nil
}

// Close drops all entries. The cache remains usable afterwards.
func (m *Memory[T]) Close() error {
	m.entries.InvalidateAll()
	return nil
}

// Stats returns a snapshot of the hit and miss counters.
func (m *Memory[T]) Stats() stats.Stats {
	return m.stats.Snapshot()
}

package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CounterStore is the atomic counter behind the limiter. Incr creates the
// counter with the window as its TTL on first use and returns the count
// after increment plus the time left in the window. Implementations must
// be safe for concurrent use across processes where applicable.
type CounterStore interface {
	Incr(ctx context.Context, key string, window time.Duration) (count int64, remaining time.Duration, err error)
}

// RedisStore shares counters across server processes.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	pipe := s.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	pttl := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, err
	}

	remaining := pttl.Val()
	if remaining < 0 {
		remaining = window
	}
	return incr.Val(), remaining, nil
}

// MemoryStore keeps counters in process memory. Single-process deployments
// and tests only; production uses RedisStore.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*memCounter
	now      func() time.Time
}

type memCounter struct {
	count   int64
	expires time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counters: make(map[string]*memCounter),
		now:      time.Now,
	}
}

func (s *MemoryStore) Incr(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	c, exists := s.counters[key]
	if !exists || now.After(c.expires) {
		c = &memCounter{expires: now.Add(window)}
		s.counters[key] = c
	}
	c.count++
	return c.count, c.expires.Sub(now), nil
}

func (s *MemoryStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, c := range s.counters {
		if now.After(c.expires) {
			delete(s.counters, key)
		}
	}
}

func (s *MemoryStore) StartCleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for range ticker.C {
			s.Cleanup()
		}
	}()
}

package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateStore counts requests per key within a rolling window.
type RateStore interface {
	Increment(ctx context.Context, key string, window time.Duration) (count int64, resetIn time.Duration, err error)
}

type memoryRateStore struct {
	mu    sync.Mutex
	data  map[string]*memoryCounter
	clock func() time.Time
}

type memoryCounter struct {
	count     int64
	windowEnd time.Time
}

// NewMemoryRateStore builds a process-local rate store for single-instance
// deployments and tests.
func NewMemoryRateStore() RateStore {
	store := &memoryRateStore{
		data:  make(map[string]*memoryCounter),
		clock: time.Now,
	}

	go func() {
		tick := time.NewTicker(time.Minute)
		for range tick.C {
			now := store.clock()
			store.mu.Lock()
			for key, counter := range store.data {
				if now.After(counter.windowEnd) {
					delete(store.data, key)
				}
			}
			store.mu.Unlock()
		}
	}()

	return store
}

func (s *memoryRateStore) Increment(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	now := s.clock()

	s.mu.Lock()
	defer s.mu.Unlock()

	counter, ok := s.data[key]
	if !ok || now.After(counter.windowEnd) {
		counter = &memoryCounter{windowEnd: now.Add(window)}
		s.data[key] = counter
	}
	counter.count++

	return counter.count, counter.windowEnd.Sub(now), nil
}

type redisRateStore struct {
	client *redis.Client
}

// NewRedisRateStore builds a Redis-backed rate store shared across instances.
func NewRedisRateStore(client *redis.Client) RateStore {
	return &redisRateStore{client: client}
}

func (s *redisRateStore) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	key = "pulsecare:rate:" + key

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, 0, err
	}
	if count == 1 {
		if err := s.client.PExpire(ctx, key, window).Err(); err != nil {
			return 0, 0, err
		}
	}

	ttl, err := s.client.PTTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		return count, window, nil
	}
	return count, ttl, nil
}

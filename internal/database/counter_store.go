package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CounterStore keeps keyed counters that reset after a window
type CounterStore interface {
	// Increment adds one to key and returns the new count and the time left
	// until the window resets
	Increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// ============================================================================
// REDIS
// ============================================================================

// incrementScript bumps a counter and starts its window on first use. A key
// that somehow lost its TTL gets a fresh one so it cannot block forever.
var incrementScript = redis.NewScript(`
	local count = redis.call('INCR', KEYS[1])
	if count == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	local ttl = redis.call('PTTL', KEYS[1])
	if ttl < 0 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
		ttl = tonumber(ARGV[1])
	end
	return { count, ttl }
`)

// RedisCounterStore keeps counters in Redis so limits hold across instances
type RedisCounterStore struct {
	client *redis.Client
	prefix string
}

// NewRedisCounterStore creates a counter store backed by client
func NewRedisCounterStore(client *redis.Client, prefix string) *RedisCounterStore {
	return &RedisCounterStore{client: client, prefix: prefix}
}

// Increment bumps the counter and starts its TTL on first use
func (s *RedisCounterStore) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	fullKey := s.prefix + key

	vals, err := incrementScript.Run(ctx, s.client, []string{fullKey}, window.Milliseconds()).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to increment counter %s: %w", fullKey, err)
	}

	arr, ok := vals.([]interface{})
	if !ok || len(arr) != 2 {
		return 0, 0, fmt.Errorf("unexpected counter script result for %s: %#v", fullKey, vals)
	}
	count, ok := arr[0].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected counter value for %s: %#v", fullKey, arr[0])
	}
	ttlMs, _ := arr[1].(int64)

	remaining := time.Duration(ttlMs) * time.Millisecond
	if remaining <= 0 {
		remaining = window
	}
	return count, remaining, nil
}

// ============================================================================
// IN-PROCESS FALLBACK
// ============================================================================

// memoryEvictInterval is how often Increment drops expired counters
const memoryEvictInterval = time.Minute

type counterEntry struct {
	count     int64
	expiresAt time.Time
}

// MemoryCounterStore keeps counters in process memory. Used when Redis is
// not configured; limits are then per instance.
type MemoryCounterStore struct {
	mu        sync.Mutex
	entries   map[string]*counterEntry
	lastEvict time.Time
	now       func() time.Time
}

// NewMemoryCounterStore creates an empty in-process counter store
func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{
		entries: make(map[string]*counterEntry),
		now:     time.Now,
	}
}

// Increment bumps the counter, resetting it when its window has passed.
// Expired counters of other keys are dropped at most once per interval.
func (s *MemoryCounterStore) Increment(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.lastEvict) >= memoryEvictInterval {
		s.evictExpired(now)
		s.lastEvict = now
	}

	entry, ok := s.entries[key]
	if !ok || !now.Before(entry.expiresAt) {
		entry = &counterEntry{expiresAt: now.Add(window)}
		s.entries[key] = entry
	}
	entry.count++

	return entry.count, entry.expiresAt.Sub(now), nil
}

func (s *MemoryCounterStore) evictExpired(now time.Time) {
	for key, entry := range s.entries {
		if !now.Before(entry.expiresAt) {
			delete(s.entries, key)
		}
	}
}

package utils

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Email outcomes recorded in the stats store
const (
	EmailOutcomeQueued  = "queued"
	EmailOutcomeSent    = "sent"
	EmailOutcomeFailed  = "failed"
	EmailOutcomeTimeout = "timeout"
)

// EmailStatsStore counts email outcomes. Counters expire after a period without
// increments so that the numbers describe recent activity.
type EmailStatsStore interface {
	Incr(ctx context.Context, outcome string) error
	Snapshot(ctx context.Context) (map[string]int64, error)
}

type statCounter struct {
	value     int64
	expiresAt time.Time
}

// MemoryEmailStats keeps counters in process memory
type MemoryEmailStats struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	counters map[string]*statCounter
}

// NewMemoryEmailStats creates a store whose counters expire ttl after their
// last increment. A ttl of zero keeps counters forever.
func NewMemoryEmailStats(ttl time.Duration) *MemoryEmailStats {
	return &MemoryEmailStats{
		ttl:      ttl,
		now:      time.Now,
		counters: make(map[string]*statCounter),
	}
}

func (s *MemoryEmailStats) expired(c *statCounter, now time.Time) bool {
	return s.ttl > 0 && !now.Before(c.expiresAt)
}

func (s *MemoryEmailStats) Incr(_ context.Context, outcome string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	c, ok := s.counters[outcome]
	if !ok || s.expired(c, now) {
		c = &statCounter{}
		s.counters[outcome] = c
	}
	c.value++
	c.expiresAt = now.Add(s.ttl)
	return nil
}

func (s *MemoryEmailStats) Snapshot(_ context.Context) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	out := make(map[string]int64, len(s.counters))
	for outcome, c := range s.counters {
		if s.expired(c, now) {
			delete(s.counters, outcome)
			continue
		}
		out[outcome] = c.value
	}
	return out, nil
}

const emailStatsKey = "featureforge:email_stats"

// RedisEmailStats keeps counters in a Redis hash shared by every instance
type RedisEmailStats struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

func NewRedisEmailStats(client *redis.Client, ttl time.Duration) *RedisEmailStats {
	return &RedisEmailStats{client: client, key: emailStatsKey, ttl: ttl}
}

func (s *RedisEmailStats) Incr(ctx context.Context, outcome string) error {
	pipe := s.client.TxPipeline()
	pipe.HIncrBy(ctx, s.key, outcome, 1)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.key, s.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisEmailStats) Snapshot(ctx context.Context) (map[string]int64, error) {
	raw, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(raw))
	for outcome, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		out[outcome] = n
	}
	return out, nil
}

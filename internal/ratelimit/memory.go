package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 32

type bucket struct {
	day   string
	count int
}

type shard struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

// Memory is a striped-mutex, calendar-day-bucketed in-process Limiter. It
// satisfies spec.md §5's "mutate under a per-key or striped lock"
// discipline for rate-limiter buckets.
type Memory struct {
	limit  int
	shards [shardCount]*shard
	now    func() time.Time
}

func NewMemory(limit int) *Memory {
	m := &Memory{limit: limit, now: time.Now}
	for i := range m.shards {
		m.shards[i] = &shard{buckets: make(map[string]*bucket)}
	}
	return m
}

func (m *Memory) shardFor(userID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return m.shards[h.Sum32()%shardCount]
}

func (m *Memory) today() string {
	return m.now().UTC().Format("2006-01-02")
}

func (m *Memory) Test(_ context.Context, userID string) (bool, error) {
	s := m.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[userID]
	if !ok || b.day != m.today() {
		return true, nil
	}
	return b.count < m.limit, nil
}

func (m *Memory) Hit(_ context.Context, userID string) (bool, error) {
	s := m.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	day := m.today()
	b, ok := s.buckets[userID]
	if !ok || b.day != day {
		b = &bucket{day: day, count: 0}
		s.buckets[userID] = b
	}
	if b.count >= m.limit {
		return false, nil
	}
	b.count++
	return true, nil
}

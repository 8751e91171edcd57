package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LimiterStore keeps one token bucket per client key, bounded in size.
type LimiterStore struct {
	mu       sync.Mutex
	limiters map[uint64]*timestampedLimiter
	maxSize  int
	rate     int
}

type timestampedLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLimiterStore creates a new limiter store allowing rateLimit queries
// per minute for each key.
func NewLimiterStore(maxSize, rateLimit int) *LimiterStore {
	return &LimiterStore{
		limiters: make(map[uint64]*timestampedLimiter),
		maxSize:  maxSize,
		rate:     rateLimit,
	}
}

// Get retrieves or creates the limiter for the given key
func (s *LimiterStore) Get(key uint64) *rate.Limiter {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if tl, ok := s.limiters[key]; ok {
		tl.lastSeen = now
		return tl.limiter
	}

	if len(s.limiters) >= s.maxSize {
		s.evictOne()
	}

	limit := rate.Limit(0)
	if s.rate > 0 {
		limit = rate.Every(time.Minute / time.Duration(s.rate))
	}

	rl := rate.NewLimiter(limit, s.rate)

	s.limiters[key] = &timestampedLimiter{limiter: rl, lastSeen: now}

	return rl
}

// Len returns the number of tracked clients.
func (s *LimiterStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.limiters)
}

// evictOne removes the least recently seen entry of a sample.
func (s *LimiterStore) evictOne() {
	var oldestKey uint64
	var oldestTime time.Time

	checked := 0
	for k, v := range s.limiters {
		if checked == 0 || v.lastSeen.Before(oldestTime) {
			oldestKey = k
			oldestTime = v.lastSeen
		}

		checked++
		if checked >= evictSample {
			break
		}
	}

	delete(s.limiters, oldestKey)
}

const evictSample = 100

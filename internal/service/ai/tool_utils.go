package ai

import (
	"errors"
	"sync"
	"time"
)

const (
	FindRowsLimitDefault = 20
	FindRowsLimitMax     = 200
	TableToolRateLimit   = 30
	TableToolRateWindow  = time.Minute
)

var errRateLimited = errors.New("table tool rate limit exceeded, please retry in a minute")

var tableToolLimiter = newToolRateLimiter(TableToolRateLimit, TableToolRateWindow)

// toolRateLimiter is a sliding window counter per key.
type toolRateLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time
	mu     sync.Mutex
	hits   map[string][]time.Time
}

func newToolRateLimiter(limit int, window time.Duration) *toolRateLimiter {
	return &toolRateLimiter{limit: limit, window: window, now: time.Now, hits: make(map[string][]time.Time)}
}

func (l *toolRateLimiter) Allow(key string) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	queue := l.hits[key]
	cutoff := now.Add(-l.window)
	idx := 0
	for _, t := range queue {
		if t.After(cutoff) {
			break
		}
		idx++
	}
	if idx > 0 {
		queue = queue[idx:]
	}
	if len(queue) >= l.limit {
		l.hits[key] = queue
		return false
	}
	l.hits[key] = append(queue, now)
	return true
}

// Forget drops the window of a closed session.
func (l *toolRateLimiter) Forget(key string) {
	l.mu.Lock()
	delete(l.hits, key)
	l.mu.Unlock()
}

func clampLimit(n int) int {
	if n <= 0 {
		return FindRowsLimitDefault
	}
	if n > FindRowsLimitMax {
		return FindRowsLimitMax
	}
	return n
}

package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	cleanupInterval = time.Minute
	staleAfter      = 3 * time.Minute
)

// Limiter is an in-memory keyed token bucket. Each key gets its own
// rate.Limiter created on first sight; entries unused for a few
// minutes are evicted by a background sweep.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry

	limit rate.Limit
	burst int
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLimiter builds an in-memory keyed limiter for the quota.
func NewLimiter(q Quota) (*Limiter, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	limit, burst := q.limit()
	l := &Limiter{
		entries: make(map[string]*entry),
		limit:   limit,
		burst:   burst,
	}
	go l.sweep()
	return l, nil
}

// Allow consumes one token for key if available. On deny it reports
// the wait until the next token; the failed reservation is cancelled
// so denied requests do not consume future quota.
func (l *Limiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	lim := l.get(key)

	now := time.Now()
	res := lim.ReserveN(now, 1)
	if !res.OK() {
		return false, 0, nil
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay, nil
	}
	return true, 0, nil
}

func (l *Limiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[key] = e
	}
	e.lastSeen = time.Now()
	return e.limiter
}

// sweep evicts keys not seen recently to keep the map bounded.
func (l *Limiter) sweep() {
	for {
		time.Sleep(cleanupInterval)
		l.mu.Lock()
		for key, e := range l.entries {
			if time.Since(e.lastSeen) > staleAfter {
				delete(l.entries, key)
			}
		}
		l.mu.Unlock()
	}
}

package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Local is an in-process token bucket per key. A full bucket holds Limit
// tokens and refills at Limit per Window.
type Local struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	every    rate.Limit
	burst    int
	ttl      time.Duration
	now      func() time.Time
}

// NewLocal creates an in-process limiter for p.
func NewLocal(p Policy) *Local {
	limit := p.Limit
	if limit < 1 {
		limit = 1
	}
	return &Local{
		visitors: make(map[string]*visitor),
		every:    rate.Every(p.Window / time.Duration(limit)),
		burst:    limit,
		ttl:      p.Window,
		now:      time.Now,
	}
}

// Allow takes one token from key's bucket.
func (l *Local) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.every, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1), nil
}

// Run evicts idle keys every window until ctx is done.
func (l *Local) Run(ctx context.Context) {
	ticker := time.NewTicker(l.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.cleanup()
		}
	}
}

// A key idle for a whole window has a full bucket again, so dropping it is lossless.
func (l *Local) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, v := range l.visitors {
		if now.Sub(v.lastSeen) > l.ttl {
			delete(l.visitors, key)
		}
	}
}

func (l *Local) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// idleTTL is how long an unused key keeps its bucket.
const idleTTL = 10 * time.Minute

type entry struct {
	lim  *rate.Limiter
	seen time.Time
}

// Limiter keeps one token bucket per caller and endpoint key.
type Limiter struct {
	mu    sync.Mutex
	m     map[string]*entry
	calls int
	now   func() time.Time
}

func New() *Limiter { return &Limiter{m: make(map[string]*entry), now: time.Now} }

// Allow consumes one token for key from a bucket of the given burst that
// refills at perSec tokens per second.
func (l *Limiter) Allow(key string, burst, perSec float64) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.m[key]
	if !ok {
		e = &entry{lim: rate.NewLimiter(rate.Limit(perSec), int(burst))}
		l.m[key] = e
	}
	e.seen = now

	if l.calls++; l.calls%1024 == 0 {
		for k, v := range l.m {
			if now.Sub(v.seen) > idleTTL {
				delete(l.m, k)
			}
		}
	}
	return e.lim.AllowN(now, 1)
}

// Len reports how many keys hold a bucket.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}

package httpx

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiterPool applies a token bucket per remote host and evicts entries
// that have been idle for longer than idleTTL. A nil pool admits everything.
type limiterPool struct {
	mu      sync.Mutex
	m       map[string]*limiterEntry
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	hits    uint64
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newLimiterPool(rps float64, burst int, idleTTL time.Duration) *limiterPool {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	return &limiterPool{
		m:       make(map[string]*limiterEntry),
		limit:   rate.Limit(rps),
		burst:   burst,
		idleTTL: idleTTL,
	}
}

func (p *limiterPool) Allow(key string, now time.Time) bool {
	if p == nil {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.m[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(p.limit, p.burst)}
		p.m[key] = e
	}
	e.lastSeen = now
	allowed := e.limiter.AllowN(now, 1)

	p.hits++
	if p.hits%512 == 0 {
		cutoff := now.Add(-p.idleTTL)
		for k, v := range p.m {
			if v.lastSeen.Before(cutoff) {
				delete(p.m, k)
			}
		}
	}
	return allowed
}

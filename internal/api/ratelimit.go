package api

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ClientLimiter keeps one token bucket per client key. Buckets idle for longer
// than idleTTL are dropped on the next sweep.
type ClientLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time
	sweptAt time.Time
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// NewClientLimiter allows perSecond requests per client with the given burst. A
// non-positive perSecond disables limiting.
func NewClientLimiter(perSecond float64, burst int) *ClientLimiter {
	l := rate.Limit(perSecond)
	if perSecond <= 0 {
		l = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &ClientLimiter{
		buckets: make(map[string]*bucket),
		limit:   l,
		burst:   burst,
		idleTTL: 10 * time.Minute,
		now:     time.Now,
	}
}

func (cl *ClientLimiter) Allow(key string) bool {
	cl.mu.Lock()
	now := cl.now()
	if now.Sub(cl.sweptAt) > cl.idleTTL {
		for k, b := range cl.buckets {
			if now.Sub(b.seen) > cl.idleTTL {
				delete(cl.buckets, k)
			}
		}
		cl.sweptAt = now
	}
	b, ok := cl.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(cl.limit, cl.burst)}
		cl.buckets[key] = b
	}
	b.seen = now
	cl.mu.Unlock()

	return b.lim.AllowN(now, 1)
}

// Reset forgets the bucket of key.
func (cl *ClientLimiter) Reset(key string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	delete(cl.buckets, key)
}

func (cl *ClientLimiter) Len() int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return len(cl.buckets)
}

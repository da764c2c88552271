package artifacts

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Cached wraps a Provider so each name is loaded at most once per process.
// Concurrent first loads share one fetch. Failed loads are not cached.
type Cached struct {
	next  Provider
	log   *zap.Logger
	group singleflight.Group

	mu     sync.RWMutex
	loaded map[string]*Artifacts
}

func NewCached(next Provider, log *zap.Logger) *Cached {
	if log == nil {
		log = zap.NewNop()
	}
	return &Cached{next: next, log: log, loaded: make(map[string]*Artifacts)}
}

func (c *Cached) Load(ctx context.Context, name string) (*Artifacts, error) {
	c.mu.RLock()
	a, ok := c.loaded[name]
	c.mu.RUnlock()
	if ok {
		return a, nil
	}

	v, err, _ := c.group.Do(name, func() (interface{}, error) {
		start := time.Now()
		a, err := c.next.Load(ctx, name)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.loaded[name] = a
		c.mu.Unlock()
		c.log.Info("artifacts loaded",
			zap.String("circuit", name),
			zap.Bool("prove", a.CanProve()),
			zap.Bool("verify", a.CanVerify()),
			zap.Duration("took", time.Since(start)),
		)
		return a, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Artifacts), nil
}

// Put seeds the cache, e.g. with artifacts produced by Setup.
func (c *Cached) Put(a *Artifacts) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loaded[a.Name] = a
}

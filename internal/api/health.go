package api

import (
	"context"
	"sort"
	"sync"
	"time"
)

type HealthStatus string

const (
	Healthy   HealthStatus = "healthy"
	Degraded  HealthStatus = "degraded"
	Unhealthy HealthStatus = "unhealthy"
)

type ComponentHealth struct {
	Name      string        `json:"name"`
	Status    HealthStatus  `json:"status"`
	Message   string        `json:"message"`
	LastCheck time.Time     `json:"lastCheck"`
	Latency   time.Duration `json:"latency,omitempty"`
}

type SystemHealth struct {
	Status     HealthStatus      `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components []ComponentHealth `json:"components"`
	Uptime     string            `json:"uptime"`
	Version    string            `json:"version"`
}

// Check returns nil when healthy. Returning a DegradedError marks the component
// degraded instead of unhealthy.
type Check func(ctx context.Context) error

type DegradedError struct{ Reason string }

func (e DegradedError) Error() string { return e.Reason }

type HealthChecker struct {
	mu      sync.Mutex
	checks  map[string]Check
	last    map[string]ComponentHealth
	started time.Time
	version string
}

func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		checks:  make(map[string]Check),
		last:    make(map[string]ComponentHealth),
		started: time.Now(),
		version: version,
	}
}

func (hc *HealthChecker) Register(name string, check Check) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks[name] = check
}

// CheckHealth runs every check and folds the results into one status.
func (hc *HealthChecker) CheckHealth(ctx context.Context) SystemHealth {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	overall := Healthy
	names := make([]string, 0, len(hc.checks))
	for name := range hc.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]ComponentHealth, 0, len(names))
	for _, name := range names {
		start := time.Now()
		err := hc.checks[name](ctx)
		ch := ComponentHealth{Name: name, Status: Healthy, Message: "OK", LastCheck: time.Now(), Latency: time.Since(start)}
		if err != nil {
			ch.Message = err.Error()
			if _, ok := err.(DegradedError); ok {
				ch.Status = Degraded
			} else {
				ch.Status = Unhealthy
			}
		}
		switch {
		case ch.Status == Unhealthy:
			overall = Unhealthy
		case ch.Status == Degraded && overall == Healthy:
			overall = Degraded
		}
		hc.last[name] = ch
		out = append(out, ch)
	}
	return SystemHealth{
		Status:     overall,
		Timestamp:  time.Now().UTC(),
		Components: out,
		Uptime:     time.Since(hc.started).Round(time.Second).String(),
		Version:    hc.version,
	}
}

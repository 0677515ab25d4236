// Package health aggregates component checks into a readiness report for
// the management API's /healthz endpoint.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"grimm.is/warden/internal/clock"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Check is the result of one health check.
type Check struct {
	Name        string        `json:"name"`
	Status      Status        `json:"status"`
	Message     string        `json:"message,omitempty"`
	LastChecked time.Time     `json:"last_checked"`
	Duration    time.Duration `json:"duration_ms"`
}

// Report is the overall health report. Its status is the worst status of
// any check.
type Report struct {
	Status    Status           `json:"status"`
	Checks    map[string]Check `json:"checks"`
	Timestamp time.Time        `json:"timestamp"`
}

// CheckFunc performs a health check. Name, LastChecked and Duration are
// filled in by the Checker.
type CheckFunc func(ctx context.Context) Check

// Checker runs registered checks concurrently and caches the report.
type Checker struct {
	mu     sync.RWMutex
	checks map[string]CheckFunc
	cache  *Report
	ttl    time.Duration
	clock  clock.Clock
}

// NewChecker creates a checker with no checks. Reports are cached for ttl.
func NewChecker(ttl time.Duration, c clock.Clock) *Checker {
	return &Checker{
		checks: make(map[string]CheckFunc),
		ttl:    ttl,
		clock:  clock.Or(c),
	}
}

// Register adds or replaces a health check.
func (c *Checker) Register(name string, fn CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = fn
	c.cache = nil
}

// Check runs all health checks and returns a report.
func (c *Checker) Check(ctx context.Context) Report {
	now := c.clock.Now()
	c.mu.RLock()
	if c.cache != nil && now.Sub(c.cache.Timestamp) < c.ttl {
		report := *c.cache
		c.mu.RUnlock()
		return report
	}
	funcs := make(map[string]CheckFunc, len(c.checks))
	for name, fn := range c.checks {
		funcs[name] = fn
	}
	c.mu.RUnlock()

	report := Report{
		Status:    StatusHealthy,
		Checks:    make(map[string]Check, len(funcs)),
		Timestamp: now,
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	for name, fn := range funcs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := c.clock.Now()
			check := fn(ctx)
			check.Name = name
			check.LastChecked = start
			check.Duration = c.clock.Since(start)

			mu.Lock()
			defer mu.Unlock()
			report.Checks[name] = check
			report.Status = worse(report.Status, check.Status)
		}()
	}
	wg.Wait()

	c.mu.Lock()
	c.cache = &report
	c.mu.Unlock()
	return report
}

func rank(s Status) int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

func worse(a, b Status) Status {
	if rank(b) > rank(a) {
		return b
	}
	return a
}

// Handler serves the report as JSON: 200 when healthy or degraded, 503
// when unhealthy.
func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		report := c.Check(ctx)

		w.Header().Set("Content-Type", "application/json")
		if report.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		json.NewEncoder(w).Encode(report)
	}
}

// Capture reports the capture loop. A loop that stopped with an error is
// unhealthy; one stopped cleanly is degraded.
func Capture(status func() (running bool, source, lastErr string)) CheckFunc {
	return func(ctx context.Context) Check {
		running, source, lastErr := status()
		switch {
		case running:
			return Check{Status: StatusHealthy, Message: "capturing on " + source}
		case lastErr != "":
			return Check{Status: StatusUnhealthy, Message: "capture failed: " + lastErr}
		default:
			return Check{Status: StatusDegraded, Message: "capture stopped"}
		}
	}
}

// Rules reports rules with unparseable specifiers as degraded.
func Rules(defects func() int) CheckFunc {
	return func(ctx context.Context) Check {
		if n := defects(); n > 0 {
			return Check{Status: StatusDegraded, Message: fmt.Sprintf("%d rule(s) will never match", n)}
		}
		return Check{Status: StatusHealthy, Message: "all rules valid"}
	}
}

// Store reports the persistent state store.
func Store(ping func(ctx context.Context) error) CheckFunc {
	return func(ctx context.Context) Check {
		if err := ping(ctx); err != nil {
			return Check{Status: StatusUnhealthy, Message: fmt.Sprintf("state store: %v", err)}
		}
		return Check{Status: StatusHealthy, Message: "state store reachable"}
	}
}

// Disk verifies dir is writable.
func Disk(dir string) CheckFunc {
	return func(ctx context.Context) Check {
		f, err := os.CreateTemp(dir, ".health_check")
		if err != nil {
			return Check{Status: StatusDegraded, Message: fmt.Sprintf("disk write failed: %v", err)}
		}
		name := f.Name()
		f.Close()
		os.Remove(name)
		return Check{Status: StatusHealthy, Message: filepath.Clean(dir) + " writable"}
	}
}

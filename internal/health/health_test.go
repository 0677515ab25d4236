package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/warden/internal/clock"
)

func fixed(s Status) CheckFunc {
	return func(context.Context) Check { return Check{Status: s, Message: string(s)} }
}

func TestCheckerWorstStatusWins(t *testing.T) {
	tests := []struct {
		name   string
		checks []Status
		want   Status
	}{
		{"none", nil, StatusHealthy},
		{"all healthy", []Status{StatusHealthy, StatusHealthy}, StatusHealthy},
		{"one degraded", []Status{StatusHealthy, StatusDegraded}, StatusDegraded},
		{"unhealthy beats degraded", []Status{StatusDegraded, StatusUnhealthy, StatusHealthy}, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker(0, nil)
			for i, s := range tt.checks {
				c.Register(string(rune('a'+i)), fixed(s))
			}
			r := c.Check(context.Background())
			assert.Equal(t, tt.want, r.Status)
			assert.Len(t, r.Checks, len(tt.checks))
			for name, check := range r.Checks {
				assert.Equal(t, name, check.Name)
			}
		})
	}
}

func TestCheckerCache(t *testing.T) {
	mc := clock.NewMockClock(time.Unix(1700000000, 0))
	c := NewChecker(5*time.Second, mc)
	var calls atomic.Int32
	c.Register("count", func(context.Context) Check {
		calls.Add(1)
		return Check{Status: StatusHealthy}
	})

	c.Check(context.Background())
	c.Check(context.Background())
	assert.Equal(t, int32(1), calls.Load())

	mc.Advance(5 * time.Second)
	c.Check(context.Background())
	assert.Equal(t, int32(2), calls.Load())

	c.Register("other", fixed(StatusHealthy))
	c.Check(context.Background())
	assert.Equal(t, int32(3), calls.Load())
}

func TestHandler(t *testing.T) {
	c := NewChecker(0, nil)
	c.Register("ok", fixed(StatusHealthy))

	rr := httptest.NewRecorder()
	c.Handler()(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	var r Report
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&r))
	assert.Equal(t, StatusHealthy, r.Status)

	c.Register("bad", fixed(StatusUnhealthy))
	rr = httptest.NewRecorder()
	c.Handler()(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestComponentChecks(t *testing.T) {
	ctx := context.Background()

	running := Capture(func() (bool, string, string) { return true, "afpacket:eth0", "" })
	assert.Equal(t, StatusHealthy, running(ctx).Status)
	failed := Capture(func() (bool, string, string) { return false, "afpacket:eth0", "link down" })
	assert.Equal(t, StatusUnhealthy, failed(ctx).Status)
	stopped := Capture(func() (bool, string, string) { return false, "", "" })
	assert.Equal(t, StatusDegraded, stopped(ctx).Status)

	assert.Equal(t, StatusHealthy, Rules(func() int { return 0 })(ctx).Status)
	assert.Equal(t, StatusDegraded, Rules(func() int { return 2 })(ctx).Status)

	assert.Equal(t, StatusHealthy, Store(func(context.Context) error { return nil })(ctx).Status)
	assert.Equal(t, StatusUnhealthy, Store(func(context.Context) error { return errors.New("closed") })(ctx).Status)

	assert.Equal(t, StatusHealthy, Disk(t.TempDir())(ctx).Status)
	assert.Equal(t, StatusDegraded, Disk(filepath.Join(t.TempDir(), "missing"))(ctx).Status)

	assert.Equal(t, StatusUnhealthy, Interface("does-not-exist0")(ctx).Status)
}

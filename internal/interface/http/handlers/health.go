package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type HealthChecker interface {
	Check(ctx context.Context) HealthStatus
}

// HealthCheckFunc returns nil when the dependency answers.
type HealthCheckFunc func(ctx context.Context) error

// HealthStatus is what /health serves. Healthy means every check passed;
// Ready means every critical one did.
type HealthStatus struct {
	Healthy   bool                   `json:"healthy"`
	Ready     bool                   `json:"ready"`
	Message   string                 `json:"message,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Uptime    string                 `json:"uptime,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
}

type CheckResult struct {
	Healthy  bool   `json:"healthy"`
	Critical bool   `json:"critical"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// Pinger is satisfied by the postgres pool and the Redis cache.
type Pinger interface {
	Ping(ctx context.Context) error
}

func PingCheck(p Pinger) HealthCheckFunc { return p.Ping }

type registeredCheck struct {
	name     string
	fn       HealthCheckFunc
	critical bool
}

// CompositeHealthChecker runs its checks concurrently, each with its own
// deadline.
type CompositeHealthChecker struct {
	version string
	started time.Time

	mu      sync.RWMutex
	timeout time.Duration
	checks  []registeredCheck
}

func NewCompositeHealthChecker(version string) *CompositeHealthChecker {
	return &CompositeHealthChecker{version: version, started: time.Now(), timeout: 5 * time.Second}
}

func (c *CompositeHealthChecker) SetTimeout(d time.Duration) {
	c.mu.Lock()
	c.timeout = d
	c.mu.Unlock()
}

// AddCheck registers fn under name, replacing an earlier check of that name.
func (c *CompositeHealthChecker) AddCheck(name string, fn HealthCheckFunc, critical bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rc := registeredCheck{name: name, fn: fn, critical: critical}
	if i := slices.IndexFunc(c.checks, func(x registeredCheck) bool { return x.name == name }); i >= 0 {
		c.checks[i] = rc
		return
	}
	c.checks = append(c.checks, rc)
}

func (c *CompositeHealthChecker) Check(ctx context.Context) HealthStatus {
	c.mu.RLock()
	checks := slices.Clone(c.checks)
	timeout := c.timeout
	c.mu.RUnlock()

	out := HealthStatus{
		Healthy:   true,
		Ready:     true,
		Uptime:    time.Since(c.started).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
		Version:   c.version,
	}
	if len(checks) == 0 {
		out.Message = "No health checks registered"
		return out
	}

	results := make([]CheckResult, len(checks))
	var g errgroup.Group
	for i, chk := range checks {
		g.Go(func() error {
			results[i] = runCheck(ctx, chk, timeout)
			return nil
		})
	}
	_ = g.Wait()

	out.Checks = make(map[string]CheckResult, len(checks))
	var failed []string
	for i, chk := range checks {
		res := results[i]
		out.Checks[chk.name] = res
		if res.Healthy {
			continue
		}
		failed = append(failed, chk.name)
		out.Healthy = false
		out.Ready = out.Ready && !res.Critical
	}

	if out.Healthy {
		out.Message = "All checks passed"
	} else {
		slices.Sort(failed)
		out.Message = "Some checks failed: " + strings.Join(failed, ", ")
	}
	return out
}

func runCheck(ctx context.Context, chk registeredCheck, timeout time.Duration) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := chk.fn(ctx)
	res := CheckResult{
		Healthy:  err == nil,
		Critical: chk.critical,
		Message:  "OK",
		Duration: time.Since(start).Round(time.Millisecond).String(),
	}
	if err != nil {
		res.Message = err.Error()
	}
	return res
}

// HealthHandler serves the bare status, 503 when not ready. The worker uses
// it; the API server wraps the status in its own envelope.
func HealthHandler(c HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := c.Check(r.Context())
		code := http.StatusOK
		if !status.Ready {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	}
}

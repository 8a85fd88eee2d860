// Package health reports whether the editor endpoint can do its job: a host
// is attached over the bridge and the lifecycle journal answers pings.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"sync"
	"time"
)

// Status is the health of one component or of the whole endpoint.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	// StatusUnknown is reported for components that were never checked.
	StatusUnknown Status = "unknown"
)

const defaultTimeout = 5 * time.Second

// CheckResult is the outcome of one check run.
type CheckResult struct {
	Status      Status         `json:"status"`
	Message     string         `json:"message,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	LastChecked time.Time      `json:"last_checked"`
	Duration    time.Duration  `json:"duration_ns"`
	Error       string         `json:"error,omitempty"`
}

// Check inspects one component.
type Check func(ctx context.Context) CheckResult

// Component is a registered check. A failing critical component makes the
// endpoint unhealthy; a failing optional one only degrades it.
type Component struct {
	Name     string
	Critical bool
	Check    Check
	Timeout  time.Duration
}

// Checker runs registered checks and serves their results over HTTP.
type Checker struct {
	mu         sync.RWMutex
	components map[string]*Component
	results    map[string]CheckResult
	started    time.Time
	ready      bool
}

func NewChecker() *Checker {
	return &Checker{
		components: make(map[string]*Component),
		results:    make(map[string]CheckResult),
		started:    time.Now(),
	}
}

// Register adds or replaces a component. Its result starts as unknown.
func (c *Checker) Register(comp *Component) {
	if comp.Timeout <= 0 {
		comp.Timeout = defaultTimeout
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.components[comp.Name] = comp
	c.results[comp.Name] = CheckResult{Status: StatusUnknown}
}

func (c *Checker) RegisterFunc(name string, critical bool, check Check) {
	c.Register(&Component{Name: name, Critical: critical, Check: check})
}

func (c *Checker) Unregister(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.components, name)
	delete(c.results, name)
}

// SetReady flips the readiness answer. serve sets it once every listener is up.
func (c *Checker) SetReady(ready bool) {
	c.mu.Lock()
	c.ready = ready
	c.mu.Unlock()
}

func (c *Checker) IsReady() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

// run executes comp.Check under its timeout. A check that panics or
// overruns is reported unhealthy; an overrunning check keeps running in the
// background and its late result is dropped.
func run(ctx context.Context, comp *Component) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, comp.Timeout)
	defer cancel()

	start := time.Now()
	done := make(chan CheckResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- CheckResult{
					Status:  StatusUnhealthy,
					Message: "check panicked",
					Error:   fmt.Sprint(r),
				}
			}
		}()
		done <- comp.Check(ctx)
	}()

	var res CheckResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res = CheckResult{
			Status:  StatusUnhealthy,
			Message: "check timed out",
			Error:   ctx.Err().Error(),
		}
	}
	res.LastChecked = start
	res.Duration = time.Since(start)
	return res
}

func (c *Checker) record(name string, res CheckResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Unregistered while running.
	if _, ok := c.components[name]; ok {
		c.results[name] = res
	}
}

// Check runs every component concurrently and returns this round's results.
func (c *Checker) Check(ctx context.Context) map[string]CheckResult {
	c.mu.RLock()
	comps := make([]*Component, 0, len(c.components))
	for _, comp := range c.components {
		comps = append(comps, comp)
	}
	c.mu.RUnlock()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make(map[string]CheckResult, len(comps))
	)
	for _, comp := range comps {
		comp := comp
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := run(ctx, comp)
			c.record(comp.Name, res)
			mu.Lock()
			results[comp.Name] = res
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}

// CheckComponent runs a single component. ok is false for unknown names.
func (c *Checker) CheckComponent(ctx context.Context, name string) (res CheckResult, ok bool) {
	c.mu.RLock()
	comp, ok := c.components[name]
	c.mu.RUnlock()
	if !ok {
		return CheckResult{}, false
	}
	res = run(ctx, comp)
	c.record(name, res)
	return res, true
}

// Result returns the last recorded result for name.
func (c *Checker) Result(name string) (CheckResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	res, ok := c.results[name]
	return res, ok
}

// Results returns a copy of every last recorded result.
func (c *Checker) Results() map[string]CheckResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.results)
}

// OverallStatus folds the last results. Unhealthy critical components win,
// then unchecked critical ones, then anything degraded.
func (c *Checker) OverallStatus() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	overall := StatusHealthy
	unknown := false
	for name, res := range c.results {
		comp := c.components[name]
		switch res.Status {
		case StatusUnhealthy:
			if comp.Critical {
				return StatusUnhealthy
			}
			overall = StatusDegraded
		case StatusDegraded:
			overall = StatusDegraded
		case StatusUnknown:
			unknown = unknown || comp.Critical
		}
	}
	if unknown {
		return StatusUnknown
	}
	return overall
}

// HealthResponse is the body of the /healthz endpoint.
type HealthResponse struct {
	Status     Status                 `json:"status"`
	Ready      bool                   `json:"ready"`
	Uptime     string                 `json:"uptime"`
	Components map[string]CheckResult `json:"components,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// HealthResponse runs every check and returns the aggregated response.
func (c *Checker) HealthResponse(ctx context.Context) HealthResponse {
	components := c.Check(ctx)

	c.mu.RLock()
	ready, uptime := c.ready, time.Since(c.started)
	c.mu.RUnlock()

	return HealthResponse{
		Status:     c.OverallStatus(),
		Ready:      ready,
		Uptime:     uptime.Round(time.Second).String(),
		Components: components,
		Timestamp:  time.Now(),
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// HealthHandler serves the full report. Degraded still answers 200.
func (c *Checker) HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := c.HealthResponse(r.Context())
		code := http.StatusOK
		if resp.Status != StatusHealthy && resp.Status != StatusDegraded {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, resp)
	})
}

// ReadinessHandler answers 200 once SetReady(true) was called.
func (c *Checker) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !c.IsReady() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ready": true})
	})
}

// LivenessHandler answers 200 while the process can serve HTTP at all.
func (c *Checker) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"alive":  true,
			"uptime": time.Since(c.started).Round(time.Second).String(),
		})
	})
}

// DatabaseCheck wraps a ping function, such as the journal store's.
func DatabaseCheck(ping func(ctx context.Context) error) Check {
	return func(ctx context.Context) CheckResult {
		if err := ping(ctx); err != nil {
			return CheckResult{
				Status:  StatusUnhealthy,
				Message: "database connection failed",
				Error:   err.Error(),
			}
		}
		return CheckResult{Status: StatusHealthy, Message: "database connection ok"}
	}
}

// BridgeCheck reports whether a host peer is attached. A detached bridge is
// degraded rather than unhealthy: the endpoint keeps listening for the host.
func BridgeCheck(connected func() bool) Check {
	return func(ctx context.Context) CheckResult {
		if connected() {
			return CheckResult{Status: StatusHealthy, Message: "host connected"}
		}
		return CheckResult{Status: StatusDegraded, Message: "waiting for host"}
	}
}

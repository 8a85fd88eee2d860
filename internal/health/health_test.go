package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOverallStatus(t *testing.T) {
	var connected atomic.Bool
	pingErr := errors.New("database is locked")
	var failPing atomic.Bool

	c := NewChecker()
	c.RegisterFunc("bridge", false, BridgeCheck(connected.Load))
	c.RegisterFunc("journal", true, DatabaseCheck(func(context.Context) error {
		if failPing.Load() {
			return pingErr
		}
		return nil
	}))

	assert.Equal(t, StatusUnknown, c.OverallStatus(), "nothing checked yet")

	c.Check(context.Background())
	assert.Equal(t, StatusDegraded, c.OverallStatus())

	connected.Store(true)
	c.Check(context.Background())
	assert.Equal(t, StatusHealthy, c.OverallStatus())

	failPing.Store(true)
	results := c.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, c.OverallStatus())
	assert.Equal(t, pingErr.Error(), results["journal"].Error)
}

func TestCheckTimeoutAndPanic(t *testing.T) {
	c := NewChecker()
	c.Register(&Component{
		Name:     "slow",
		Critical: true,
		Timeout:  10 * time.Millisecond,
		Check: func(ctx context.Context) CheckResult {
			time.Sleep(200 * time.Millisecond)
			return CheckResult{Status: StatusHealthy}
		},
	})
	c.RegisterFunc("broken", false, func(context.Context) CheckResult {
		panic("boom")
	})

	results := c.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, results["slow"].Status)
	assert.Equal(t, "check timed out", results["slow"].Message)
	assert.Equal(t, StatusUnhealthy, results["broken"].Status)
	assert.Equal(t, "boom", results["broken"].Error)

	got, ok := c.Result("slow")
	require.True(t, ok)
	assert.Equal(t, StatusUnhealthy, got.Status)

	c.Unregister("slow")
	_, ok = c.Result("slow")
	assert.False(t, ok)
	assert.Len(t, c.Results(), 1)
}

func TestCheckComponent(t *testing.T) {
	c := NewChecker()
	c.RegisterFunc("bridge", false, BridgeCheck(func() bool { return true }))

	res, ok := c.CheckComponent(context.Background(), "bridge")
	require.True(t, ok)
	assert.Equal(t, StatusHealthy, res.Status)
	assert.False(t, res.LastChecked.IsZero())

	_, ok = c.CheckComponent(context.Background(), "missing")
	assert.False(t, ok)
}

func TestHealthHandler(t *testing.T) {
	var healthy atomic.Bool
	c := NewChecker()
	c.SetReady(true)
	c.RegisterFunc("journal", true, DatabaseCheck(func(context.Context) error {
		if healthy.Load() {
			return nil
		}
		return errors.New("closed")
	}))

	get := func() (*httptest.ResponseRecorder, HealthResponse) {
		rec := httptest.NewRecorder()
		c.HealthHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		var resp HealthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		return rec, resp
	}

	rec, resp := get()
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, StatusUnhealthy, resp.Status)
	assert.Contains(t, resp.Components, "journal")

	healthy.Store(true)
	rec, resp = get()
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.True(t, resp.Ready)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestReadinessHandler(t *testing.T) {
	c := NewChecker()

	rec := httptest.NewRecorder()
	c.ReadinessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	c.SetReady(true)
	rec = httptest.NewRecorder()
	c.ReadinessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	c.LivenessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/livez", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

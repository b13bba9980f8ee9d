package health

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHealthy_AllLoopsFresh(t *testing.T) {
	m := NewMonitor()
	now := time.Now()
	m.Register("fanout", 5*time.Minute)
	m.Register("poller", time.Hour)
	m.RecordTick("fanout", now.Add(-time.Minute))
	m.RecordTick("poller", now.Add(-30*time.Minute))

	ok, detail := m.Healthy(now)
	assert.True(t, ok)
	assert.Len(t, detail, 2)
}

func TestHealthy_StaleLoopFlagged(t *testing.T) {
	m := NewMonitor()
	now := time.Now()
	m.Register("fanout", 5*time.Minute)
	m.RecordTick("fanout", now.Add(-11*time.Minute))

	ok, _ := m.Healthy(now)
	assert.False(t, ok)
}

func TestHealthy_NeverTickedTolerated(t *testing.T) {
	// A loop that has not completed its first tick yet is reported but does
	// not flip liveness, so startup is not flagged unhealthy.
	m := NewMonitor()
	m.Register("poller", time.Hour)

	ok, detail := m.Healthy(time.Now())
	assert.True(t, ok)
	assert.Equal(t, "never ticked", detail["poller"])
}

func TestServer_Endpoints(t *testing.T) {
	m := NewMonitor()
	m.Register("fanout", 5*time.Minute)
	m.RecordTick("fanout", time.Now())

	mux := http.NewServeMux()
	NewServer(m).RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/status", nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "fanout")
}

func TestServer_UnhealthyReturns503(t *testing.T) {
	m := NewMonitor()
	m.Register("fanout", 5*time.Minute)
	m.RecordTick("fanout", time.Now().Add(-time.Hour))

	mux := http.NewServeMux()
	NewServer(m).RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// ABOUTME: Tests for the Prometheus collectors
// ABOUTME: Checks counter bookkeeping, nil safety and the exposition handler

package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionLifecycle(t *testing.T) {
	m := New()

	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed(ReasonIdle)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsActive))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SessionsOpened))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsClosed.WithLabelValues(ReasonIdle)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.SessionsClosed.WithLabelValues(ReasonClient)))
}

func TestObserveCallsAndBuilds(t *testing.T) {
	m := New()

	m.ObserveCall("csv_x_list_rows", 5*time.Millisecond, false)
	m.ObserveCall("csv_x_list_rows", 5*time.Millisecond, true)
	m.ObserveBuild(time.Millisecond, nil)
	m.ObserveBuild(time.Millisecond, errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolCalls.WithLabelValues("csv_x_list_rows", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolCalls.WithLabelValues("csv_x_list_rows", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NamespaceBuilds.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NamespaceBuilds.WithLabelValues("error")))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SessionOpened()
		m.SessionClosed(ReasonShutdown)
		m.ObserveCall("x", time.Second, false)
		m.ObserveBuild(time.Second, nil)
	})
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler(t *testing.T) {
	m := New()
	m.SessionOpened()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "datagate_sessions_active 1")
	assert.Contains(t, string(body), "go_goroutines")
}

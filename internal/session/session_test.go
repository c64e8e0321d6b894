// ABOUTME: Tests for the session multiplexer and its HTTP transport
// ABOUTME: Covers session reuse, forged ids, sweeping, reap-vs-close races and stateless mode

package session

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/datagate/internal/auth"
	"github.com/2389/datagate/internal/capability"
	"github.com/2389/datagate/internal/mcp"
	"github.com/2389/datagate/internal/metrics"
)

const (
	initializeBody = `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","clientInfo":{"name":"test"}}}`
	listBody       = `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`
)

type countingFactory struct {
	builds atomic.Int32
}

func (f *countingFactory) factory(stateful bool) Factory {
	return func(context.Context) (*mcp.Engine, error) {
		f.builds.Add(1)
		ns := capability.NewNamespace()
		err := ns.Register("whoami", capability.Definition{Description: "Returns a constant"},
			func(context.Context, json.RawMessage) (*capability.Result, error) {
				return capability.TextResult("datagate"), nil
			})
		if err != nil {
			return nil, err
		}
		return mcp.NewEngine(mcp.EngineConfig{Namespace: ns, Info: mcp.Info{Name: "datagate", Version: "test"}, Stateful: stateful}), nil
	}
}

func newMux(t *testing.T, stateful bool, mutate func(*Config)) (*Multiplexer, *countingFactory) {
	t.Helper()
	f := &countingFactory{}
	cfg := Config{Stateful: stateful, Factory: f.factory(stateful)}
	if mutate != nil {
		mutate(&cfg)
	}
	m, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(m.Shutdown)
	return m, f
}

func post(t *testing.T, h http.Handler, sessionID, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set(HeaderSessionID, sessionID)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

func TestStateful_RoundTripReusesOneNamespace(t *testing.T) {
	m, f := newMux(t, true, nil)

	rec := post(t, m, "", initializeBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	id := rec.Header().Get(HeaderSessionID)
	require.NotEmpty(t, id)
	assert.Equal(t, 1, m.Len())

	const n = 5
	for i := 0; i < n; i++ {
		rec := post(t, m, id, listBody)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"whoami"`)
	}

	rec = post(t, m, id, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	assert.Equal(t, int32(1), f.builds.Load())
	assert.Equal(t, 1, m.Len())
}

func TestStateful_ForgedIDCreatesNothing(t *testing.T) {
	m, f := newMux(t, true, nil)

	rec := post(t, m, "00000000-0000-0000-0000-000000000000", listBody)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "session not found", errorBody(t, rec))
	assert.Equal(t, int32(0), f.builds.Load())
	assert.Equal(t, 0, m.Len())

	// A forged id on an initialize request is still a lookup, never a create.
	rec = post(t, m, "forged", initializeBody)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, int32(0), f.builds.Load())
}

func TestStateful_MissingHeader(t *testing.T) {
	m, f := newMux(t, true, nil)

	rec := post(t, m, "", listBody)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "missing Mcp-Session-Id header", errorBody(t, rec))
	assert.Equal(t, int32(0), f.builds.Load())
}

func TestPost_TransportErrors(t *testing.T) {
	m, _ := newMux(t, true, func(c *Config) { c.MaxBodyBytes = 64 })

	rec := post(t, m, "", `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"padding":"`+strings.Repeat("x", 100)+`"}}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = post(t, m, "", `{"jsonrpc":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp mcp.JSONRPCResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, mcp.JSONRPCParseError, resp.Error.Code)

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(listBody))
	req.Header.Set(HeaderProtocolVersion, "1999-01-01")
	rec = httptest.NewRecorder()
	m.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodPut, "/mcp", nil)
	rec = httptest.NewRecorder()
	m.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "POST, GET, DELETE", rec.Header().Get("Allow"))
}

func TestDelete(t *testing.T) {
	mt := metrics.New()
	m, _ := newMux(t, true, func(c *Config) { c.Metrics = mt })

	id := post(t, m, "", initializeBody).Header().Get(HeaderSessionID)
	require.NotEmpty(t, id)
	sess, ok := m.Get(id)
	require.True(t, ok)

	del := func() int {
		req := httptest.NewRequest(http.MethodDelete, "/mcp", nil)
		req.Header.Set(HeaderSessionID, id)
		rec := httptest.NewRecorder()
		m.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, del())
	assert.Equal(t, http.StatusNotFound, del())
	assert.Equal(t, 0, m.Len())

	select {
	case <-sess.Engine.Done():
	default:
		t.Fatal("engine not closed on delete")
	}

	assert.Equal(t, http.StatusNotFound, post(t, m, id, listBody).Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(mt.SessionsClosed.WithLabelValues(metrics.ReasonClient)))
	assert.Equal(t, 0.0, testutil.ToFloat64(mt.SessionsActive))
}

func TestSweep_ReleasesIdleSessions(t *testing.T) {
	m, _ := newMux(t, true, func(c *Config) {
		c.IdleTimeout = time.Minute
		c.SweepInterval = time.Hour
	})

	idle := post(t, m, "", initializeBody).Header().Get(HeaderSessionID)
	fresh := post(t, m, "", initializeBody).Header().Get(HeaderSessionID)
	require.Equal(t, 2, m.Len())

	s, ok := m.Get(idle)
	require.True(t, ok)
	s.touch(time.Now().Add(-2 * time.Minute))

	assert.Equal(t, 1, m.sweep(time.Now()))
	_, ok = m.Get(idle)
	assert.False(t, ok)
	_, ok = m.Get(fresh)
	assert.True(t, ok)

	assert.Equal(t, http.StatusNotFound, post(t, m, idle, listBody).Code)
	assert.Equal(t, 0, m.sweep(time.Now()))
}

func TestSweepLoop_Runs(t *testing.T) {
	m, _ := newMux(t, true, func(c *Config) {
		c.IdleTimeout = 10 * time.Millisecond
		c.SweepInterval = 5 * time.Millisecond
	})

	post(t, m, "", initializeBody)
	require.Equal(t, 1, m.Len())

	assert.Eventually(t, func() bool { return m.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestReapVersusCloseRace(t *testing.T) {
	for i := 0; i < 50; i++ {
		m, _ := newMux(t, true, func(c *Config) { c.IdleTimeout = time.Minute })
		id := post(t, m, "", initializeBody).Header().Get(HeaderSessionID)
		s, _ := m.Get(id)
		s.touch(time.Now().Add(-time.Hour))

		var wg sync.WaitGroup
		var closed, swept atomic.Int32
		wg.Add(2)
		go func() {
			defer wg.Done()
			if m.Close(id) {
				closed.Add(1)
			}
		}()
		go func() {
			defer wg.Done()
			swept.Add(int32(m.sweep(time.Now())))
		}()
		wg.Wait()

		assert.Equal(t, int32(1), closed.Load()+swept.Load(), "exactly one path releases the session")
		assert.Equal(t, 0, m.Len())
	}
}

func TestRemove_OnlyMatchingSession(t *testing.T) {
	m, _ := newMux(t, true, nil)
	id := post(t, m, "", initializeBody).Header().Get(HeaderSessionID)
	current, _ := m.Get(id)

	stale := newSession(id, current.Engine, time.Now())
	assert.False(t, m.remove(id, stale))
	assert.Equal(t, 1, m.Len())
	assert.True(t, m.remove(id, current))
}

func TestShutdown_ReleasesEverything(t *testing.T) {
	m, _ := newMux(t, true, nil)
	post(t, m, "", initializeBody)
	post(t, m, "", initializeBody)
	require.Equal(t, 2, m.Len())

	m.Shutdown()
	assert.Equal(t, 0, m.Len())
	m.Shutdown()
}

func TestSSE_PingsUntilSessionReleased(t *testing.T) {
	m, _ := newMux(t, true, func(c *Config) { c.PingInterval = 10 * time.Millisecond })
	srv := httptest.NewServer(m)
	defer srv.Close()

	id := post(t, m, "", initializeBody).Header().Get(HeaderSessionID)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/mcp", nil)
	require.NoError(t, err)
	req.Header.Set(HeaderSessionID, id)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	seenPing := false
	for !seenPing {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		seenPing = strings.HasPrefix(line, ": ping")
	}

	require.True(t, m.Close(id))
	done := make(chan struct{})
	go func() {
		for {
			if _, err := reader.ReadString('\n'); err != nil {
				close(done)
				return
			}
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end after the session was released")
	}
}

func TestSSE_UnknownSession(t *testing.T) {
	m, _ := newMux(t, true, nil)
	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	req.Header.Set(HeaderSessionID, "nope")
	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStateless(t *testing.T) {
	m, f := newMux(t, false, nil)

	rec := post(t, m, "", listBody)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"whoami"`)
	assert.Empty(t, rec.Header().Get(HeaderSessionID))

	rec = post(t, m, "", initializeBody)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get(HeaderSessionID))

	assert.Equal(t, int32(2), f.builds.Load())
	assert.Equal(t, 0, m.Len())

	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		req := httptest.NewRequest(method, "/mcp", nil)
		rec := httptest.NewRecorder()
		m.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, method)
		assert.Equal(t, "POST", rec.Header().Get("Allow"))
	}
}

func TestHealthAndReady(t *testing.T) {
	m, _ := newMux(t, true, nil)
	post(t, m, "", initializeBody)

	rec := httptest.NewRecorder()
	m.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

	rec = httptest.NewRecorder()
	m.HandleReady(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.JSONEq(t, `{"ok":true,"sessions":1}`, rec.Body.String())

	rec = httptest.NewRecorder()
	NotFound(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"not found"}`, rec.Body.String())
}

func TestNew_RequiresFactory(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestFactoryFailure_ReportsCause(t *testing.T) {
	cause := errors.New(`registering source "crm": dial tcp 10.0.0.5:3306: connect: connection refused`)
	failing := func(context.Context) (*mcp.Engine, error) { return nil, cause }

	for _, stateful := range []bool{true, false} {
		m, _ := newMux(t, stateful, func(c *Config) { c.Factory = failing })

		body := initializeBody
		if !stateful {
			body = `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`
		}
		rec := post(t, m, "", body)
		require.Equal(t, http.StatusInternalServerError, rec.Code, rec.Body.String())

		msg := errorBody(t, rec)
		assert.Contains(t, msg, "failed to build capabilities")
		assert.Contains(t, msg, `registering source "crm"`)
		assert.Contains(t, msg, "connection refused")
		assert.Empty(t, rec.Header().Get(HeaderSessionID))
		assert.Equal(t, 0, m.Len())
	}
}

func TestInitialize_RecordsPrincipal(t *testing.T) {
	m, _ := newMux(t, true, nil)

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(initializeBody))
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(auth.WithAuth(req.Context(), &auth.AuthContext{Principal: "ada"}))
	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	sess, ok := m.Get(rec.Header().Get(HeaderSessionID))
	require.True(t, ok)
	assert.Equal(t, "ada", sess.Principal)

	anon := post(t, m, "", initializeBody)
	require.Equal(t, http.StatusOK, anon.Code)
	sess, ok = m.Get(anon.Header().Get(HeaderSessionID))
	require.True(t, ok)
	assert.Empty(t, sess.Principal)
}

// ABOUTME: Session multiplexer owning the table of live protocol engines keyed by session id.
// ABOUTME: Runs the idle sweep; sweep, client close and shutdown share one removal path.

package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389/datagate/internal/mcp"
	"github.com/2389/datagate/internal/metrics"
)

// Defaults applied by New.
const (
	DefaultIdleTimeout   = 30 * time.Minute
	DefaultSweepInterval = time.Minute
	DefaultMaxBodyBytes  = 1_000_000
	DefaultPingInterval  = 15 * time.Second
)

// ErrSessionNotFound is returned for ids the table does not hold.
var ErrSessionNotFound = errors.New("session not found")

// Factory builds a protocol engine over a freshly built capability namespace.
type Factory func(ctx context.Context) (*mcp.Engine, error)

// Config configures a Multiplexer.
type Config struct {
	// Stateful keeps one engine per session id. Stateless builds one per POST.
	Stateful      bool
	Factory       Factory
	IdleTimeout   time.Duration
	SweepInterval time.Duration
	MaxBodyBytes  int64
	PingInterval  time.Duration
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
}

// Session binds a client-visible id to one engine.
type Session struct {
	ID        string
	Engine    *mcp.Engine
	CreatedAt time.Time
	Principal string // empty when auth is off

	lastActive atomic.Int64
}

func newSession(id string, engine *mcp.Engine, now time.Time) *Session {
	s := &Session{ID: id, Engine: engine, CreatedAt: now}
	s.lastActive.Store(now.UnixNano())
	return s
}

func (s *Session) touch(now time.Time) {
	s.lastActive.Store(now.UnixNano())
}

// LastActive returns the time of the most recent request on the session.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

// Multiplexer owns the session table. Create one per server; nothing here is global.
type Multiplexer struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu       sync.RWMutex
	sessions map[string]*Session

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a multiplexer and, in stateful mode, starts its sweeper.
func New(cfg Config) (*Multiplexer, error) {
	if cfg.Factory == nil {
		return nil, errors.New("session factory is required")
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m := &Multiplexer{
		cfg:      cfg,
		logger:   logger,
		metrics:  cfg.Metrics,
		sessions: make(map[string]*Session),
		stop:     make(chan struct{}),
	}
	if cfg.Stateful {
		m.wg.Add(1)
		go m.sweepLoop()
	}
	return m, nil
}

// Stateful reports the multiplexer's mode.
func (m *Multiplexer) Stateful() bool {
	return m.cfg.Stateful
}

// Len returns the number of live sessions.
func (m *Multiplexer) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Get returns the session for id.
func (m *Multiplexer) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

func (m *Multiplexer) insert(s *Session) {
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	m.metrics.SessionOpened()
	m.logger.Info("session created", "session_id", s.ID, "principal", s.Principal, "sessions", m.Len())
}

// remove deletes id only while it still maps to s. The caller that wins the
// delete owns teardown; every other caller gets false.
func (m *Multiplexer) remove(id string, s *Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.sessions[id]
	if !ok || cur != s {
		return false
	}
	delete(m.sessions, id)
	return true
}

// release removes s and closes its engine. Engine close errors are logged only.
func (m *Multiplexer) release(s *Session, reason string) bool {
	if !m.remove(s.ID, s) {
		return false
	}
	if err := s.Engine.Close(); err != nil {
		m.logger.Warn("closing session engine failed", "session_id", s.ID, "error", err)
	}
	m.metrics.SessionClosed(reason)
	m.logger.Info("session released", "session_id", s.ID, "reason", reason)
	return true
}

// Close releases the session with id. It reports whether this call removed it.
func (m *Multiplexer) Close(id string) bool {
	s, ok := m.Get(id)
	if !ok {
		return false
	}
	return m.release(s, metrics.ReasonClient)
}

// sweep releases sessions idle longer than the idle timeout as of now.
func (m *Multiplexer) sweep(now time.Time) int {
	cutoff := now.Add(-m.cfg.IdleTimeout)

	m.mu.RLock()
	var idle []*Session
	for _, s := range m.sessions {
		if s.LastActive().Before(cutoff) {
			idle = append(idle, s)
		}
	}
	m.mu.RUnlock()

	released := 0
	for _, s := range idle {
		if m.release(s, metrics.ReasonIdle) {
			released++
		}
	}
	if released > 0 {
		m.logger.Debug("swept idle sessions", "released", released)
	}
	return released
}

func (m *Multiplexer) sweepLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case now := <-ticker.C:
			m.sweep(now)
		}
	}
}

// Shutdown stops the sweeper and releases every session.
func (m *Multiplexer) Shutdown() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.wg.Wait()

	m.mu.RLock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.RUnlock()

	for _, s := range all {
		m.release(s, metrics.ReasonShutdown)
	}
}

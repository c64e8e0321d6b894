// ABOUTME: Gateway orchestrator that wires connectors, sessions, auth and metrics behind one HTTP server
// ABOUTME: Manages the listener (TCP or tailnet), health endpoints and graceful shutdown

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/datagate/internal/auth"
	"github.com/2389/datagate/internal/config"
	"github.com/2389/datagate/internal/connector"
	"github.com/2389/datagate/internal/mcp"
	"github.com/2389/datagate/internal/metrics"
	"github.com/2389/datagate/internal/session"
)

// shutdownTimeout bounds graceful shutdown once Run's context is canceled.
const shutdownTimeout = 5 * time.Second

// Gateway owns every long-lived component of a datagate server.
type Gateway struct {
	config      *config.Config
	registry    *connector.Registry
	sessions    *session.Multiplexer
	metrics     *metrics.Metrics
	handler     http.Handler
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger
}

// New creates a Gateway from a validated configuration. Nothing is opened
// against any source until the first namespace build.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	registry, err := connector.NewRegistry(cfg.Sources, connector.Options{
		Logger: logger.With("component", "connector"),
	})
	if err != nil {
		return nil, fmt.Errorf("creating connectors: %w", err)
	}

	verifier, err := auth.NewVerifier(cfg.Auth)
	if err != nil {
		_ = registry.Close()
		return nil, fmt.Errorf("creating verifier: %w", err)
	}

	stateful := cfg.Transport.IsStateful()
	factory := registry.EngineFactory(connector.EngineOptions{
		Info:     mcp.Info{Name: cfg.Server.Name, Version: cfg.Server.Version},
		Stateful: stateful,
		Logger:   logger.With("component", "mcp"),
		Metrics:  m,
	})

	sessions, err := session.New(session.Config{
		Stateful:      stateful,
		Factory:       factory,
		IdleTimeout:   cfg.Session.IdleTimeout,
		SweepInterval: cfg.Session.SweepInterval,
		MaxBodyBytes:  cfg.Transport.MaxBodyBytes,
		Logger:        logger.With("component", "session"),
		Metrics:       m,
	})
	if err != nil {
		_ = registry.Close()
		return nil, fmt.Errorf("creating session multiplexer: %w", err)
	}

	gw := &Gateway{
		config:   cfg,
		registry: registry,
		sessions: sessions,
		metrics:  m,
		logger:   logger.With("component", "gateway"),
	}

	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("/health", sessions.HandleHealth)
	mux.HandleFunc("/ready", sessions.HandleReady)
	if m != nil {
		mux.Handle(cfg.Metrics.Path, m.Handler())
	}

	mux.Handle(cfg.Transport.Path, auth.Middleware(verifier, logger.With("component", "auth"))(sessions))
	mux.HandleFunc("/", session.NotFound)

	if verifier == nil {
		gw.logger.Warn("auth disabled - the MCP endpoint accepts anonymous requests")
	}
	gw.logger.Info("gateway configured",
		"sources", len(cfg.Sources),
		"stateful", stateful,
		"path", cfg.Transport.Path,
		"metrics", m != nil,
	)

	gw.handler = mux
	gw.httpServer = &http.Server{
		Addr:              cfg.Transport.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	// Releasing sessions first ends open SSE streams so Shutdown can drain.
	gw.httpServer.RegisterOnShutdown(sessions.Shutdown)

	return gw, nil
}

// Handler returns the gateway's HTTP routes.
func (g *Gateway) Handler() http.Handler {
	return g.handler
}

// Sessions returns the session multiplexer.
func (g *Gateway) Sessions() *session.Multiplexer {
	return g.sessions
}

// Probe checks every configured source.
func (g *Gateway) Probe(ctx context.Context) []connector.Report {
	return g.registry.Probe(ctx)
}

// setupListener creates the listener based on configuration (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		g.logger.Info("transport.http_addr is ignored when tailscale is enabled", "http_addr", g.config.Transport.HTTPAddr)
		return g.setupTailscaleListener(ctx)
	}
	ln, err := net.Listen("tcp", g.config.Transport.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// Run serves until ctx is canceled or the server fails, then shuts down.
// Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}
	return g.Serve(ctx, ln)
}

// Serve is Run with a caller-supplied listener.
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String(), "path", g.config.Transport.Path)
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	// The caller's context is already done; shutdown gets a fresh one.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	shutdownErr := g.Shutdown(shutdownCtx)

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// Shutdown stops the HTTP server, releases every session and closes all
// connectors.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}
	g.sessions.Shutdown()

	if g.tsnetServer != nil {
		if err := g.tsnetServer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("tailscale shutdown: %w", err))
		}
	}
	if err := g.registry.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing connectors: %w", err))
	}
	return errors.Join(errs...)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "datagate", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set tailscale.auth_key or TS_AUTHKEY")
	}
	return authKey, nil
}

// setupTailscaleListener joins the tailnet and listens on :80, or :443 with
// tailnet certificates when tailscale.https is set.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	if !tsCfg.HTTPS {
		ln, err := g.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}

	g.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := g.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := g.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

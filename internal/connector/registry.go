// ABOUTME: Registry of configured connectors that builds capability namespaces and engines.
// ABOUTME: Registration runs concurrently per source and merges in configured order.

package connector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/2389/datagate/internal/capability"
	"github.com/2389/datagate/internal/config"
	"github.com/2389/datagate/internal/mcp"
	"github.com/2389/datagate/internal/metrics"
)

// Registry holds one connector per configured source for the life of the process.
type Registry struct {
	connectors []Connector
	logger     *slog.Logger
}

// NewRegistry builds connectors for sources in order. Any unknown or invalid
// source fails the whole registry.
func NewRegistry(sources []config.SourceConfig, opts Options) (*Registry, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	opts.Logger = logger

	r := &Registry{logger: logger}
	for _, src := range sources {
		c, err := New(src, opts)
		if err != nil {
			_ = r.Close()
			return nil, err
		}
		r.connectors = append(r.connectors, c)
	}
	return r, nil
}

// NewRegistryFrom wraps already-built connectors.
func NewRegistryFrom(logger *slog.Logger, connectors ...Connector) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{connectors: connectors, logger: logger}
}

// BuildNamespace registers every connector into a fresh namespace. Each
// connector registers into its own staging namespace concurrently; the
// results are merged in configured order so tools/list order is stable.
func (r *Registry) BuildNamespace(ctx context.Context) (*capability.Namespace, error) {
	staged := make([]*capability.Namespace, len(r.connectors))

	g, gctx := errgroup.WithContext(ctx)
	for i, c := range r.connectors {
		g.Go(func() error {
			ns := capability.NewNamespace()
			if err := c.Register(gctx, ns); err != nil {
				return fmt.Errorf("registering source %q: %w", c.ID(), err)
			}
			staged[i] = ns
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ns := capability.NewNamespace()
	for i, s := range staged {
		if err := ns.Merge(s); err != nil {
			return nil, fmt.Errorf("registering source %q: %w", r.connectors[i].ID(), err)
		}
	}
	return ns, nil
}

// EngineOptions configure the engines produced by EngineFactory.
type EngineOptions struct {
	Info     mcp.Info
	Stateful bool
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

// EngineFactory returns a function that builds a namespace and wraps it in a
// fresh protocol engine. Session handling calls it once per session, or once
// per request when stateless.
func (r *Registry) EngineFactory(opts EngineOptions) func(context.Context) (*mcp.Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = r.logger
	}

	var observer mcp.CallObserver
	if opts.Metrics != nil {
		observer = opts.Metrics
	}

	return func(ctx context.Context) (*mcp.Engine, error) {
		start := time.Now()
		ns, err := r.BuildNamespace(ctx)
		opts.Metrics.ObserveBuild(time.Since(start), err)
		if err != nil {
			logger.Error("building capability namespace failed", "error", err)
			return nil, err
		}
		return mcp.NewEngine(mcp.EngineConfig{
			Namespace: ns,
			Info:      opts.Info,
			Logger:    logger,
			Stateful:  opts.Stateful,
			Observer:  observer,
		}), nil
	}
}

// Report is one source's probe outcome.
type Report struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	OK      bool           `json:"ok"`
	Error   string         `json:"error,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// Probe checks every source's back end concurrently and reports in configured order.
// Connectors without a Probe method report OK.
func (r *Registry) Probe(ctx context.Context) []Report {
	reports := make([]Report, len(r.connectors))

	var g errgroup.Group
	for i, c := range r.connectors {
		g.Go(func() error {
			rep := Report{ID: c.ID(), Type: c.Kind(), OK: true}
			if p, ok := c.(Prober); ok {
				details, err := p.Probe(ctx)
				if err != nil {
					rep.OK = false
					rep.Error = err.Error()
				}
				rep.Details = details
			}
			reports[i] = rep
			return nil
		})
	}
	_ = g.Wait()
	return reports
}

// Close releases connector resources such as relational pools.
func (r *Registry) Close() error {
	var errs []error
	for _, c := range r.connectors {
		closer, ok := c.(io.Closer)
		if !ok {
			continue
		}
		if err := closer.Close(); err != nil {
			r.logger.Warn("closing source failed", "source", c.ID(), "error", err)
			errs = append(errs, fmt.Errorf("closing source %q: %w", c.ID(), err))
		}
	}
	return errors.Join(errs...)
}

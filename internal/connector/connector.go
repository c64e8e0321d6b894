// ABOUTME: Connector contract and the kind-keyed factory that builds one connector per source.
// ABOUTME: Each connector registers its capabilities into whatever sink it is given.

package connector

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/2389/datagate/internal/capability"
	"github.com/2389/datagate/internal/config"
	"github.com/2389/datagate/internal/connector/apiproxy"
	"github.com/2389/datagate/internal/connector/document"
	"github.com/2389/datagate/internal/connector/relational"
	"github.com/2389/datagate/internal/connector/tabular"
)

// Connector owns one source and produces its capabilities.
type Connector interface {
	ID() string
	Kind() string
	Register(ctx context.Context, sink capability.Sink) error
}

// Prober is implemented by connectors that can report on their back end
// without registering anything.
type Prober interface {
	Probe(ctx context.Context) (map[string]any, error)
}

// Options are shared by every connector the factory builds.
type Options struct {
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// New builds the connector for src based on its type.
func New(src config.SourceConfig, opts Options) (Connector, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	switch src.Type {
	case config.KindOpenAPI:
		return apiproxy.New(src, opts.HTTPClient, logger), nil
	case config.KindCSV:
		c, err := tabular.New(src)
		if err != nil {
			return nil, err
		}
		return c, nil
	case config.KindJSON:
		return document.New(src), nil
	case config.KindPostgres, config.KindMySQL, config.KindSQLite:
		c, err := relational.New(src, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("source %q: unknown type %q", src.ID, src.Type)
	}
}

// ABOUTME: Relational connector exposing list_tables, describe_table and select for one database.
// ABOUTME: Postgres, MySQL and SQLite share one implementation over sqlsafe, differing only by dialect and driver.

package relational

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/datagate/internal/capability"
	"github.com/2389/datagate/internal/config"
	"github.com/2389/datagate/internal/sqlsafe"
)

const (
	maxOpenConns    = 10
	connMaxIdleTime = 5 * time.Minute
)

// backend binds a source kind to its driver, dialect and capability prefix.
//
// With introspectScope set, the default scope is the source's database, then
// the one named in the connection string, then whatever the server reports
// as current. Otherwise it is the source's schema or fallbackScope.
type backend struct {
	driver          string
	dialect         sqlsafe.Dialect
	prefix          string
	fallbackScope   string
	introspectScope bool
}

var backends = map[string]backend{
	config.KindPostgres: {driver: "pgx", dialect: sqlsafe.Postgres, prefix: "pg"},
	config.KindMySQL:    {driver: "mysql", dialect: sqlsafe.MySQL, prefix: "mysql", introspectScope: true},
	config.KindSQLite:   {driver: "sqlite", dialect: sqlsafe.SQLite, prefix: "sqlite", fallbackScope: "main"},
}

// Connector serves one relational source. The connection pool is opened on
// first registration and shared by every namespace built afterwards.
type Connector struct {
	src     config.SourceConfig
	backend backend
	logger  *slog.Logger

	openOnce sync.Once
	db       *sql.DB
	engine   *sqlsafe.Engine
	openErr  error

	dsn       string
	dsnScope  string
	scopeMu   sync.Mutex
	scopeSeen string
}

// New creates a relational connector. src.Type selects the back end.
func New(src config.SourceConfig, logger *slog.Logger) (*Connector, error) {
	b, ok := backends[src.Type]
	if !ok {
		return nil, fmt.Errorf("not a relational source type: %q", src.Type)
	}
	dsn, dsnScope, err := dataSourceName(src.Type, src.ConnectionString)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{
		src:      src,
		backend:  b,
		logger:   logger.With("source", src.ID, "driver", b.driver),
		dsn:      dsn,
		dsnScope: dsnScope,
	}, nil
}

// ID returns the source id.
func (c *Connector) ID() string { return c.src.ID }

// Kind returns the source type.
func (c *Connector) Kind() string { return c.src.Type }

// open creates the pool once. sql.Open does not dial; the first query does.
func (c *Connector) open() (*sqlsafe.Engine, error) {
	c.openOnce.Do(func() {
		db, err := sql.Open(c.backend.driver, c.dsn)
		if err != nil {
			c.openErr = fmt.Errorf("opening %s: %w", c.src.ID, err)
			return
		}
		db.SetMaxOpenConns(maxOpenConns)
		db.SetConnMaxIdleTime(connMaxIdleTime)
		c.db = db
		c.engine = sqlsafe.NewEngine(db, c.backend.dialect, sqlsafe.NewAllowList(c.src.AllowTables), c.src.MaxLimit)
		c.logger.Debug("opened connection pool")
	})
	return c.engine, c.openErr
}

// defaultScope resolves the schema or database used when a caller omits one.
// A server-reported scope is looked up once and cached.
func (c *Connector) defaultScope(ctx context.Context, engine *sqlsafe.Engine) (string, error) {
	if !c.backend.introspectScope {
		if c.src.Schema != "" {
			return c.src.Schema, nil
		}
		return c.backend.fallbackScope, nil
	}

	if c.src.Database != "" {
		return c.src.Database, nil
	}
	if c.dsnScope != "" {
		return c.dsnScope, nil
	}

	c.scopeMu.Lock()
	defer c.scopeMu.Unlock()
	if c.scopeSeen != "" {
		return c.scopeSeen, nil
	}
	scope, err := engine.CurrentScope(ctx)
	if err != nil {
		return "", err
	}
	if scope == "" {
		return "", errors.New("no default database: set database on the source or in the connection string")
	}
	c.scopeSeen = scope
	return scope, nil
}

func (c *Connector) scope(ctx context.Context, engine *sqlsafe.Engine, args scopeArgs) (string, error) {
	if s := args.value(c.backend.dialect.ScopeField()); s != "" {
		return s, nil
	}
	return c.defaultScope(ctx, engine)
}

type scopeArgs struct {
	Schema   string `json:"schema"`
	Database string `json:"database"`
}

func (a scopeArgs) value(field string) string {
	if field == "database" {
		return a.Database
	}
	return a.Schema
}

type selectArgs struct {
	scopeArgs
	Table    string         `json:"table"`
	Columns  []string       `json:"columns"`
	WhereEq  map[string]any `json:"whereEq"`
	OrderBy  string         `json:"orderBy"`
	OrderDir string         `json:"orderDir"`
	Limit    int            `json:"limit"`
	Offset   int            `json:"offset"`
}

// Register opens the pool if needed and adds the three capabilities.
// Handlers detach from the caller's context: a client that goes away does
// not abort a query already in flight.
func (c *Connector) Register(_ context.Context, sink capability.Sink) error {
	if _, err := c.open(); err != nil {
		return err
	}

	base := capability.SanitizeName(c.backend.prefix + "_" + c.src.ID)
	field := c.backend.dialect.ScopeField()
	name := c.src.DisplayName()
	maxLimit := c.src.MaxLimit

	if err := sink.Register(base+"_list_tables", capability.Definition{
		Description: fmt.Sprintf("List tables of %s (%s). The %s defaults to the source's configured one.", name, c.backend.dialect.Name(), field),
		InputSchema: capability.Object(capability.Props{
			field: capability.NonEmptyString(field + " to list"),
		}),
	}, c.listTables); err != nil {
		return err
	}

	if err := sink.Register(base+"_describe_table", capability.Definition{
		Description: fmt.Sprintf("Describe the columns of a table in %s (%s).", name, c.backend.dialect.Name()),
		InputSchema: capability.Object(capability.Props{
			"table": capability.NonEmptyString("table or " + field + ".table"),
			field:   capability.NonEmptyString(field + " when table is unqualified"),
		}, "table"),
	}, c.describeTable); err != nil {
		return err
	}

	return sink.Register(base+"_select", capability.Definition{
		Description: fmt.Sprintf("Read rows from a table in %s (%s). Supports column projection, equality filters, ordering and paging; at most %d rows per call.", name, c.backend.dialect.Name(), maxLimit),
		InputSchema: capability.Object(capability.Props{
			"table":    capability.NonEmptyString("table or " + field + ".table"),
			field:      capability.NonEmptyString(field + " when table is unqualified"),
			"columns":  capability.StringArray("columns to return, defaults to all"),
			"whereEq":  capability.Record("column = value filters, combined with AND", map[string]any{"type": []string{"string", "number", "boolean", "null"}}),
			"orderBy":  capability.NonEmptyString("column to order by"),
			"orderDir": capability.Enum("sort direction", "asc", "asc", "desc"),
			"limit":    capability.Integer("page size, clamped to the source maximum", 1, 0, sqlsafe.DefaultLimit),
			"offset":   capability.Integer("rows to skip", 0, 0, 0),
		}, "table"),
	}, c.selectRows)
}

func (c *Connector) listTables(ctx context.Context, raw json.RawMessage) (*capability.Result, error) {
	ctx = context.WithoutCancel(ctx)
	engine, err := c.open()
	if err != nil {
		return nil, err
	}
	var args scopeArgs
	if err := capability.Decode(raw, &args); err != nil {
		return nil, err
	}
	scope, err := c.scope(ctx, engine, args)
	if err != nil {
		return nil, err
	}
	tables, err := engine.ListTables(ctx, scope)
	if err != nil {
		return nil, err
	}
	return capability.JSONResult(map[string]any{
		c.backend.dialect.ScopeField(): scope,
		"tables":                       tables,
	})
}

func (c *Connector) describeTable(ctx context.Context, raw json.RawMessage) (*capability.Result, error) {
	ctx = context.WithoutCancel(ctx)
	engine, err := c.open()
	if err != nil {
		return nil, err
	}
	var args struct {
		scopeArgs
		Table string `json:"table"`
	}
	if err := capability.Decode(raw, &args); err != nil {
		return nil, err
	}
	ref, err := c.tableRef(ctx, engine, args.Table, args.scopeArgs)
	if err != nil {
		return nil, err
	}
	cols, err := engine.Describe(ctx, ref)
	if err != nil {
		return nil, err
	}
	return capability.JSONResult(map[string]any{
		"table":   ref.String(),
		"columns": cols,
	})
}

func (c *Connector) selectRows(ctx context.Context, raw json.RawMessage) (*capability.Result, error) {
	ctx = context.WithoutCancel(ctx)
	engine, err := c.open()
	if err != nil {
		return nil, err
	}
	args, err := decodeSelect(raw)
	if err != nil {
		return nil, err
	}
	ref, err := c.tableRef(ctx, engine, args.Table, args.scopeArgs)
	if err != nil {
		return nil, err
	}
	if args.Limit == 0 {
		args.Limit = sqlsafe.DefaultLimit
	}
	page, err := engine.Select(ctx, sqlsafe.SelectRequest{
		Ref:      ref,
		Columns:  args.Columns,
		WhereEq:  args.WhereEq,
		OrderBy:  args.OrderBy,
		OrderDir: args.OrderDir,
		Limit:    args.Limit,
		Offset:   args.Offset,
	})
	if err != nil {
		return nil, err
	}
	return capability.JSONResult(page)
}

// tableRef parses table, falling back to the explicit or default scope.
func (c *Connector) tableRef(ctx context.Context, engine *sqlsafe.Engine, table string, args scopeArgs) (sqlsafe.TableRef, error) {
	scope, err := c.scope(ctx, engine, args)
	if err != nil {
		return sqlsafe.TableRef{}, err
	}
	return sqlsafe.ParseTableRef(table, scope)
}

// decodeSelect keeps integer filter values exact instead of widening them to float64.
func decodeSelect(raw json.RawMessage) (selectArgs, error) {
	var args selectArgs
	if len(bytes.TrimSpace(raw)) == 0 {
		return args, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&args); err != nil {
		return args, fmt.Errorf("%w: %v", capability.ErrInvalidArguments, err)
	}
	for k, v := range args.WhereEq {
		n, ok := v.(json.Number)
		if !ok {
			continue
		}
		if i, err := n.Int64(); err == nil {
			args.WhereEq[k] = i
		} else if f, err := n.Float64(); err == nil {
			args.WhereEq[k] = f
		} else {
			args.WhereEq[k] = n.String()
		}
	}
	return args, nil
}

// Probe pings the database and counts the tables of the default scope.
func (c *Connector) Probe(ctx context.Context) (map[string]any, error) {
	engine, err := c.open()
	if err != nil {
		return nil, err
	}
	if err := c.db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("pinging %s: %w", c.src.ID, err)
	}
	scope, err := c.defaultScope(ctx, engine)
	if err != nil {
		return nil, err
	}
	count, err := engine.CountTables(ctx, scope)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"driver":                       c.backend.driver,
		c.backend.dialect.ScopeField(): scope,
		"tables":                       count,
	}, nil
}

// Close releases the pool if it was opened. A closed connector never reopens.
func (c *Connector) Close() error {
	c.openOnce.Do(func() { c.openErr = errors.New("connector closed") })
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

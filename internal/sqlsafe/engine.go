// ABOUTME: Catalog-checked table access over database/sql for one relational source.
// ABOUTME: Enforces identifier grammar, allow-list and existence before any data query.

package sqlsafe

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Column describes one table column as reported by the catalog.
type Column struct {
	Name     string  `json:"name"`
	Type     string  `json:"type"`
	Nullable bool    `json:"nullable"`
	Default  *string `json:"default"`
}

// Engine runs validated reads against one database.
type Engine struct {
	db       *sql.DB
	dialect  Dialect
	allow    AllowList
	maxLimit int
}

// NewEngine creates an Engine. maxLimit caps every page size.
func NewEngine(db *sql.DB, dialect Dialect, allow AllowList, maxLimit int) *Engine {
	return &Engine{db: db, dialect: dialect, allow: allow, maxLimit: maxLimit}
}

// ListTables returns the base tables of scope that the allow-list permits.
func (e *Engine) ListTables(ctx context.Context, scope string) ([]string, error) {
	if err := ValidateIdentifier(scope); err != nil {
		return nil, fmt.Errorf("%s: %w", e.dialect.ScopeField(), err)
	}

	query, args := e.dialect.ListTables(scope)
	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}

	return e.allow.Filter(scope, tables), nil
}

// Authorize checks the identifier grammar, the allow-list and the catalog, in that order.
func (e *Engine) Authorize(ctx context.Context, ref TableRef) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	if !e.allow.Permits(ref) {
		return fmt.Errorf("%w: %s", ErrTableNotAllowed, ref)
	}

	query, args := e.dialect.TableExists(ref.Schema, ref.Table)
	var one int
	err := e.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrTableNotFound, ref)
	}
	if err != nil {
		return fmt.Errorf("checking table %s: %w", ref, err)
	}
	return nil
}

// Describe returns the columns of an authorized table in ordinal order.
func (e *Engine) Describe(ctx context.Context, ref TableRef) ([]Column, error) {
	if err := e.Authorize(ctx, ref); err != nil {
		return nil, err
	}
	return e.columns(ctx, ref)
}

func (e *Engine) columns(ctx context.Context, ref TableRef) ([]Column, error) {
	query, args := e.dialect.Columns(ref.Schema, ref.Table)
	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("describing table %s: %w", ref, err)
	}
	defer rows.Close()

	cols := []Column{}
	for rows.Next() {
		var (
			name, typ, nullable string
			def                 sql.NullString
		)
		if err := rows.Scan(&name, &typ, &nullable, &def); err != nil {
			return nil, fmt.Errorf("scanning column metadata: %w", err)
		}
		col := Column{Name: name, Type: typ, Nullable: nullable == "YES" || nullable == "yes"}
		if def.Valid {
			col.Default = &def.String
		}
		cols = append(cols, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("describing table %s: %w", ref, err)
	}
	return cols, nil
}

// Select authorizes the table, validates every column against live metadata,
// clamps the limit and returns one page.
func (e *Engine) Select(ctx context.Context, req SelectRequest) (*Page, error) {
	if err := e.Authorize(ctx, req.Ref); err != nil {
		return nil, err
	}

	cols, err := e.columns(ctx, req.Ref)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(cols))
	for _, c := range cols {
		known[c.Name] = true
	}

	req.Limit = ClampLimit(req.Limit, e.maxLimit)
	query, args, err := BuildSelect(e.dialect, req, known)
	if err != nil {
		return nil, err
	}

	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("selecting from %s: %w", req.Ref, err)
	}
	defer rows.Close()

	out, err := scanRows(rows)
	if err != nil {
		return nil, fmt.Errorf("selecting from %s: %w", req.Ref, err)
	}
	return NewPage(req.Ref.String(), req.Limit, req.Offset, out), nil
}

// CurrentScope asks the back end for its default schema or database.
func (e *Engine) CurrentScope(ctx context.Context) (string, error) {
	var scope sql.NullString
	if err := e.db.QueryRowContext(ctx, e.dialect.CurrentScopeQuery()).Scan(&scope); err != nil {
		return "", fmt.Errorf("querying current %s: %w", e.dialect.ScopeField(), err)
	}
	return scope.String, nil
}

// CountTables returns how many permitted tables scope holds.
func (e *Engine) CountTables(ctx context.Context, scope string) (int, error) {
	tables, err := e.ListTables(ctx, scope)
	if err != nil {
		return 0, err
	}
	return len(tables), nil
}

func scanRows(rows *sql.Rows) ([]map[string]any, error) {
	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := []map[string]any{}
	for rows.Next() {
		values := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(names))
		for i, name := range names {
			row[name] = normalizeValue(values[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// normalizeValue makes driver values JSON friendly.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	}
	return v
}

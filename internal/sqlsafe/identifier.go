// ABOUTME: Identifier grammar, table references and table allow-lists.
// ABOUTME: Every caller-supplied name passes through here before reaching generated SQL.

package sqlsafe

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidIdentifier indicates a schema, table or column name outside the identifier grammar.
var ErrInvalidIdentifier = errors.New("invalid identifier")

// ErrTableNotAllowed indicates the table is not on the source's allow-list.
var ErrTableNotAllowed = errors.New("table not allowed")

// ErrTableNotFound indicates the table does not exist in the back end's catalog.
var ErrTableNotFound = errors.New("table not found")

// ErrColumnNotFound indicates a column is not part of the table.
var ErrColumnNotFound = errors.New("column not found")

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// IsIdentifier reports whether s is a letter or underscore followed by letters, digits or underscores.
func IsIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}

// ValidateIdentifier returns ErrInvalidIdentifier if s is not an identifier.
func ValidateIdentifier(s string) error {
	if !IsIdentifier(s) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, s)
	}
	return nil
}

// TableRef is a table qualified by its schema (or database, for MySQL).
type TableRef struct {
	Schema string
	Table  string
}

// String returns "schema.table".
func (r TableRef) String() string {
	return r.Schema + "." + r.Table
}

// Validate checks both parts against the identifier grammar.
func (r TableRef) Validate() error {
	if err := ValidateIdentifier(r.Schema); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	if err := ValidateIdentifier(r.Table); err != nil {
		return fmt.Errorf("table: %w", err)
	}
	return nil
}

// ParseTableRef splits "table" or "schema.table". A bare table takes defaultSchema.
func ParseTableRef(input, defaultSchema string) (TableRef, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return TableRef{}, errors.New("table must not be empty")
	}
	parts := strings.Split(s, ".")
	switch len(parts) {
	case 1:
		return TableRef{Schema: defaultSchema, Table: parts[0]}, nil
	case 2:
		return TableRef{Schema: parts[0], Table: parts[1]}, nil
	default:
		return TableRef{}, fmt.Errorf("table must be 'table' or 'schema.table' (got %q)", s)
	}
}

// AllowList restricts which tables a source exposes. The zero value allows everything.
type AllowList struct {
	restricted bool
	entries    map[string]struct{}
}

// NewAllowList builds an allow-list from "table" or "schema.table" entries.
// A nil slice means unrestricted; a non-nil empty slice allows nothing.
func NewAllowList(entries []string) AllowList {
	if entries == nil {
		return AllowList{}
	}
	a := AllowList{restricted: true, entries: make(map[string]struct{}, len(entries))}
	for _, e := range entries {
		if e = strings.TrimSpace(e); e != "" {
			a.entries[e] = struct{}{}
		}
	}
	return a
}

// Restricted reports whether an allow-list was configured.
func (a AllowList) Restricted() bool {
	return a.restricted
}

// Permits reports whether the qualified or the bare table name is listed.
func (a AllowList) Permits(ref TableRef) bool {
	if !a.restricted {
		return true
	}
	if _, ok := a.entries[ref.String()]; ok {
		return true
	}
	_, ok := a.entries[ref.Table]
	return ok
}

// Filter keeps the tables of schema that Permits accepts.
func (a AllowList) Filter(schema string, tables []string) []string {
	out := make([]string, 0, len(tables))
	for _, t := range tables {
		if a.Permits(TableRef{Schema: schema, Table: t}) {
			out = append(out, t)
		}
	}
	return out
}

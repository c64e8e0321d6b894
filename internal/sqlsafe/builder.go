// ABOUTME: Read-only SELECT construction with bound parameters and validated identifiers.
// ABOUTME: Also owns limit clamping and the page shape returned to clients.

package sqlsafe

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// DefaultLimit is the page size used when the caller does not send one.
const DefaultLimit = 100

// SelectRequest is one paged read of a table.
type SelectRequest struct {
	Ref      TableRef
	Columns  []string
	WhereEq  map[string]any
	OrderBy  string
	OrderDir string
	Limit    int
	Offset   int
}

// ClampLimit returns min(requested, max).
func ClampLimit(requested, max int) int {
	if requested > max {
		return max
	}
	return requested
}

// BuildSelect renders req as a SELECT for dialect d. known holds the table's
// column names; every projected, filtered or ordered column must be in it.
// Filter values and limit/offset are returned as bound arguments.
func BuildSelect(d Dialect, req SelectRequest, known map[string]bool) (string, []any, error) {
	if err := req.Ref.Validate(); err != nil {
		return "", nil, err
	}
	if req.Limit < 1 {
		return "", nil, fmt.Errorf("limit must be at least 1 (got %d)", req.Limit)
	}
	if req.Offset < 0 {
		return "", nil, fmt.Errorf("offset must not be negative (got %d)", req.Offset)
	}

	checkColumn := func(c string) error {
		if err := ValidateIdentifier(c); err != nil {
			return fmt.Errorf("column: %w", err)
		}
		if !known[c] {
			return fmt.Errorf("%w: %s", ErrColumnNotFound, c)
		}
		return nil
	}

	projection := "*"
	if len(req.Columns) > 0 {
		quoted := make([]string, 0, len(req.Columns))
		for _, c := range req.Columns {
			if err := checkColumn(c); err != nil {
				return "", nil, err
			}
			quoted = append(quoted, d.QuoteIdent(c))
		}
		projection = strings.Join(quoted, ", ")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s.%s", projection, d.QuoteIdent(req.Ref.Schema), d.QuoteIdent(req.Ref.Table))

	var args []any
	if len(req.WhereEq) > 0 {
		keys := make([]string, 0, len(req.WhereEq))
		for k := range req.WhereEq {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		conds := make([]string, 0, len(keys))
		for _, k := range keys {
			if err := checkColumn(k); err != nil {
				return "", nil, err
			}
			args = append(args, req.WhereEq[k])
			conds = append(conds, d.QuoteIdent(k)+" = "+d.Placeholder(len(args)))
		}
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}

	if req.OrderBy != "" {
		if err := checkColumn(req.OrderBy); err != nil {
			return "", nil, err
		}
		dir, err := orderDirection(req.OrderDir)
		if err != nil {
			return "", nil, err
		}
		fmt.Fprintf(&b, " ORDER BY %s %s", d.QuoteIdent(req.OrderBy), dir)
	}

	args = append(args, req.Limit)
	limitPH := d.Placeholder(len(args))
	args = append(args, req.Offset)
	offsetPH := d.Placeholder(len(args))
	fmt.Fprintf(&b, " LIMIT %s OFFSET %s", limitPH, offsetPH)

	return b.String(), args, nil
}

func orderDirection(dir string) (string, error) {
	switch strings.ToLower(dir) {
	case "", "asc":
		return "ASC", nil
	case "desc":
		return "DESC", nil
	}
	return "", errors.New("orderDir must be asc or desc")
}

// Page is one window of rows. HasMore is true when the page came back full,
// which is a heuristic: a result that ends exactly on a page boundary still
// reports HasMore on its last page.
type Page struct {
	Table      string           `json:"table"`
	Limit      int              `json:"limit"`
	Offset     int              `json:"offset"`
	NextOffset *int             `json:"nextOffset"`
	HasMore    bool             `json:"hasMore"`
	Rows       []map[string]any `json:"rows"`
}

// NewPage computes the pagination fields for rows read with limit and offset.
func NewPage(table string, limit, offset int, rows []map[string]any) *Page {
	if rows == nil {
		rows = []map[string]any{}
	}
	p := &Page{
		Table:   table,
		Limit:   limit,
		Offset:  offset,
		HasMore: len(rows) == limit,
		Rows:    rows,
	}
	if p.HasMore {
		next := offset + limit
		p.NextOffset = &next
	}
	return p
}

// ABOUTME: Delimited-file connector exposing row listing and equality filtering.
// ABOUTME: Reads the whole file on every call; no index and no query language.

package tabular

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/2389/datagate/internal/capability"
	"github.com/2389/datagate/internal/config"
	"github.com/2389/datagate/internal/connector/textfile"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// Connector serves one CSV source.
type Connector struct {
	src       config.SourceConfig
	delimiter rune
}

// New creates a tabular connector for src.
func New(src config.SourceConfig) (*Connector, error) {
	runes := []rune(src.Delimiter)
	if len(runes) != 1 {
		return nil, fmt.Errorf("delimiter must be a single character (got %q)", src.Delimiter)
	}
	return &Connector{src: src, delimiter: runes[0]}, nil
}

// ID returns the source id.
func (c *Connector) ID() string { return c.src.ID }

// Kind returns "csv".
func (c *Connector) Kind() string { return config.KindCSV }

// Register adds csv_<id>_list_rows and csv_<id>_filter_eq.
func (c *Connector) Register(_ context.Context, sink capability.Sink) error {
	base := capability.SanitizeName("csv_" + c.src.ID)

	err := sink.Register(base+"_list_rows", capability.Definition{
		Description: fmt.Sprintf("Read rows of %s (file %s) with offset and limit.", c.src.DisplayName(), c.src.File),
		InputSchema: capability.Object(capability.Props{
			"offset": capability.Integer("rows to skip", 0, 0, 0),
			"limit":  capability.Integer("rows to return", 1, maxLimit, defaultLimit),
		}),
	}, c.listRows)
	if err != nil {
		return err
	}

	return sink.Register(base+"_filter_eq", capability.Definition{
		Description: fmt.Sprintf("Rows of %s (file %s) whose column equals value exactly.", c.src.DisplayName(), c.src.File) +
			c.columnHint(),
		InputSchema: capability.Object(capability.Props{
			"column": capability.NonEmptyString("column name"),
			"value":  capability.String("value to match"),
			"limit":  capability.Integer("rows to return", 1, maxLimit, defaultLimit),
		}, "column", "value"),
	}, c.filterEq)
}

func (c *Connector) columnHint() string {
	if c.src.HeaderRow() {
		return " Columns are named by the header row."
	}
	return " The file has no header; columns are named col1, col2, ..."
}

type listRowsArgs struct {
	Offset int  `json:"offset"`
	Limit  *int `json:"limit"`
}

// ListResult is the list_rows payload.
type ListResult struct {
	Offset int              `json:"offset"`
	Limit  int              `json:"limit"`
	Total  int              `json:"total"`
	Rows   []map[string]any `json:"rows"`
}

func (c *Connector) listRows(_ context.Context, raw json.RawMessage) (*capability.Result, error) {
	var args listRowsArgs
	if err := capability.Decode(raw, &args); err != nil {
		return nil, err
	}
	limit := defaultLimit
	if args.Limit != nil {
		limit = *args.Limit
	}

	res, err := c.List(args.Offset, limit)
	if err != nil {
		return nil, err
	}
	return capability.JSONResult(res)
}

// List returns rows [offset, offset+limit).
func (c *Connector) List(offset, limit int) (*ListResult, error) {
	if offset < 0 {
		return nil, fmt.Errorf("offset must not be negative (got %d)", offset)
	}
	if limit < 1 || limit > maxLimit {
		return nil, fmt.Errorf("limit must be between 1 and %d (got %d)", maxLimit, limit)
	}

	rows, err := c.load()
	if err != nil {
		return nil, err
	}

	start := min(offset, len(rows))
	end := min(start+limit, len(rows))
	return &ListResult{
		Offset: offset,
		Limit:  limit,
		Total:  len(rows),
		Rows:   rows[start:end],
	}, nil
}

type filterArgs struct {
	Column string `json:"column"`
	Value  string `json:"value"`
	Limit  *int   `json:"limit"`
}

// FilterResult is the filter_eq payload.
type FilterResult struct {
	Column string           `json:"column"`
	Value  string           `json:"value"`
	Count  int              `json:"count"`
	Rows   []map[string]any `json:"rows"`
}

func (c *Connector) filterEq(_ context.Context, raw json.RawMessage) (*capability.Result, error) {
	var args filterArgs
	if err := capability.Decode(raw, &args); err != nil {
		return nil, err
	}
	limit := defaultLimit
	if args.Limit != nil {
		limit = *args.Limit
	}

	res, err := c.Filter(args.Column, args.Value, limit)
	if err != nil {
		return nil, err
	}
	return capability.JSONResult(res)
}

// Filter returns up to limit rows whose column equals value.
func (c *Connector) Filter(column, value string, limit int) (*FilterResult, error) {
	if column == "" {
		return nil, errors.New("column is required")
	}
	if limit < 1 || limit > maxLimit {
		return nil, fmt.Errorf("limit must be between 1 and %d (got %d)", maxLimit, limit)
	}

	rows, err := c.load()
	if err != nil {
		return nil, err
	}

	out := []map[string]any{}
	for _, r := range rows {
		v, ok := r[column]
		if !ok {
			continue
		}
		if v == value {
			out = append(out, r)
			if len(out) >= limit {
				break
			}
		}
	}
	return &FilterResult{Column: column, Value: value, Count: len(out), Rows: out}, nil
}

// load parses the whole file. Rows shorter than the header omit the missing
// columns; fields beyond the header are dropped.
func (c *Connector) load() ([]map[string]any, error) {
	rc, err := textfile.Open(c.src.File, c.src.Encoding)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", c.src.File, err)
	}
	defer rc.Close()

	r := csv.NewReader(rc)
	r.Comma = c.delimiter
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	var header []string
	rows := []map[string]any{}
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", c.src.File, err)
		}
		for i := range rec {
			rec[i] = strings.TrimSpace(rec[i])
		}
		if isBlank(rec) {
			continue
		}

		if c.src.HeaderRow() && header == nil {
			header = rec
			continue
		}

		row := make(map[string]any, len(rec))
		if header != nil {
			for i, name := range header {
				if i < len(rec) {
					row[name] = rec[i]
				}
			}
		} else {
			for i, v := range rec {
				row["col"+strconv.Itoa(i+1)] = v
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func isBlank(rec []string) bool {
	for _, f := range rec {
		if f != "" {
			return false
		}
	}
	return true
}

// Probe reports file size and parsing settings.
func (c *Connector) Probe(context.Context) (map[string]any, error) {
	st, err := os.Stat(c.src.File)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"file":      c.src.File,
		"bytes":     st.Size(),
		"hasHeader": c.src.HeaderRow(),
		"delimiter": string(c.delimiter),
	}, nil
}

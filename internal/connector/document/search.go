// ABOUTME: Exhaustive depth-first search over a decoded JSON document.
// ABOUTME: Matches a substring against object keys and scalar values, capped at a hit limit.

package document

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	gojson "github.com/goccy/go-json"
)

// Where a search looks.
const (
	SearchKeys   = "keys"
	SearchValues = "values"
	SearchBoth   = "both"
)

const (
	defaultSearchLimit = 50
	maxSearchLimit     = 1000
	previewLength      = 200
)

// SearchOptions controls Search.
type SearchOptions struct {
	Query         string
	In            string
	CaseSensitive bool
	Limit         int
}

// Hit is one match. Match is "key" or "value".
type Hit struct {
	Pointer string `json:"pointer"`
	Key     string `json:"key,omitempty"`
	Match   string `json:"match"`
	Preview string `json:"preview"`
}

// SearchResult lists hits in document order.
type SearchResult struct {
	Query     string `json:"query"`
	Count     int    `json:"count"`
	Truncated bool   `json:"truncated"`
	Hits      []Hit  `json:"hits"`
}

var errHitLimit = errors.New("hit limit reached")

type searcher struct {
	needle string
	keys   bool
	values bool
	fold   bool
	limit  int
	hits   []Hit
}

// Search walks doc depth-first. Object keys are visited in document order.
func Search(doc any, opts SearchOptions) (*SearchResult, error) {
	if opts.Query == "" {
		return nil, errors.New("query is required")
	}
	if opts.Limit == 0 {
		opts.Limit = defaultSearchLimit
	}
	if opts.Limit < 1 || opts.Limit > maxSearchLimit {
		return nil, fmt.Errorf("limit must be between 1 and %d (got %d)", maxSearchLimit, opts.Limit)
	}

	s := &searcher{needle: opts.Query, fold: !opts.CaseSensitive, limit: opts.Limit, hits: []Hit{}}
	switch opts.In {
	case "", SearchBoth:
		s.keys, s.values = true, true
	case SearchKeys:
		s.keys = true
	case SearchValues:
		s.values = true
	default:
		return nil, fmt.Errorf("in must be one of keys, values, both (got %q)", opts.In)
	}
	if s.fold {
		s.needle = strings.ToLower(s.needle)
	}

	err := s.walk(doc, "", "")
	truncated := errors.Is(err, errHitLimit)
	if err != nil && !truncated {
		return nil, err
	}

	return &SearchResult{
		Query:     opts.Query,
		Count:     len(s.hits),
		Truncated: truncated,
		Hits:      s.hits,
	}, nil
}

func (s *searcher) walk(node any, pointer, key string) error {
	switch v := node.(type) {
	case *Object:
		for _, k := range v.keys {
			child := appendToken(pointer, k)
			val := v.values[k]
			if s.keys && s.matches(k) {
				if err := s.add(Hit{Pointer: child, Key: k, Match: "key", Preview: preview(val)}); err != nil {
					return err
				}
			}
			if err := s.walk(val, child, k); err != nil {
				return err
			}
		}
	case []any:
		for i, item := range v {
			if err := s.walk(item, appendToken(pointer, fmt.Sprint(i)), key); err != nil {
				return err
			}
		}
	case nil:
	default:
		if s.values && s.matches(scalarText(v)) {
			return s.add(Hit{Pointer: pointer, Key: key, Match: "value", Preview: preview(v)})
		}
	}
	return nil
}

func (s *searcher) add(h Hit) error {
	if len(s.hits) >= s.limit {
		return errHitLimit
	}
	s.hits = append(s.hits, h)
	return nil
}

func (s *searcher) matches(text string) bool {
	if s.fold {
		text = strings.ToLower(text)
	}
	return strings.Contains(text, s.needle)
}

func scalarText(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case gojson.Number:
		return x.String()
	}
	return fmt.Sprint(v)
}

// preview renders v compactly and cuts it to previewLength runes.
func preview(v any) string {
	var text string
	if s, ok := v.(string); ok {
		text = s
	} else {
		data, err := gojson.Marshal(v)
		if err != nil {
			text = fmt.Sprint(v)
		} else {
			text = string(data)
		}
	}
	if utf8.RuneCountInString(text) <= previewLength {
		return text
	}
	r := []rune(text)
	return string(r[:previewLength]) + "…"
}

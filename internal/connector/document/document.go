// ABOUTME: JSON document connector with pointer lookup, key listing and substring search.
// ABOUTME: The parsed document is cached until the file's modification time or size changes.

package document

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/2389/datagate/internal/capability"
	"github.com/2389/datagate/internal/config"
	"github.com/2389/datagate/internal/connector/textfile"
)

// Connector serves one JSON source.
type Connector struct {
	src config.SourceConfig

	mu      sync.Mutex
	loaded  bool
	modTime time.Time
	size    int64
	doc     any
}

// New creates a document connector for src.
func New(src config.SourceConfig) *Connector {
	return &Connector{src: src}
}

// ID returns the source id.
func (c *Connector) ID() string { return c.src.ID }

// Kind returns "json".
func (c *Connector) Kind() string { return config.KindJSON }

// Register adds json_<id>_get, json_<id>_keys and json_<id>_search.
func (c *Connector) Register(_ context.Context, sink capability.Sink) error {
	base := capability.SanitizeName("json_" + c.src.ID)
	name := c.src.DisplayName()

	if err := sink.Register(base+"_get", capability.Definition{
		Description: fmt.Sprintf("Value at a JSON Pointer in %s (file %s). Use \"\" or \"/\" for the whole document.", name, c.src.File),
		InputSchema: capability.Object(capability.Props{
			"pointer": capability.String("RFC 6901 JSON Pointer, e.g. /items/0/name"),
		}, "pointer"),
	}, c.get); err != nil {
		return err
	}

	if err := sink.Register(base+"_keys", capability.Definition{
		Description: fmt.Sprintf("Keys of the object at a JSON Pointer in %s (file %s).", name, c.src.File),
		InputSchema: capability.Object(capability.Props{
			"pointer": capability.String("RFC 6901 JSON Pointer, defaults to /"),
		}),
	}, c.keys); err != nil {
		return err
	}

	return sink.Register(base+"_search", capability.Definition{
		Description: fmt.Sprintf("Depth-first substring search over keys and scalar values of %s (file %s).", name, c.src.File),
		InputSchema: capability.Object(capability.Props{
			"query":          capability.NonEmptyString("substring to look for"),
			"in":             capability.Enum("what to match against", SearchBoth, SearchKeys, SearchValues, SearchBoth),
			"case_sensitive": capability.Boolean("match case exactly", false),
			"limit":          capability.Integer("maximum hits", 1, maxSearchLimit, defaultSearchLimit),
		}, "query"),
	}, c.search)
}

func (c *Connector) get(_ context.Context, raw json.RawMessage) (*capability.Result, error) {
	var args struct {
		Pointer string `json:"pointer"`
	}
	if err := capability.Decode(raw, &args); err != nil {
		return nil, err
	}
	v, err := c.Get(args.Pointer)
	if err != nil {
		return nil, err
	}
	return capability.JSONResult(v)
}

// Get returns the value at pointer, or nil when the path does not exist.
func (c *Connector) Get(pointer string) (any, error) {
	doc, err := c.load()
	if err != nil {
		return nil, err
	}
	v, _, err := Resolve(doc, pointer)
	return v, err
}

func (c *Connector) keys(_ context.Context, raw json.RawMessage) (*capability.Result, error) {
	var args struct {
		Pointer string `json:"pointer"`
	}
	if err := capability.Decode(raw, &args); err != nil {
		return nil, err
	}
	keys, err := c.Keys(args.Pointer)
	if err != nil {
		return nil, err
	}
	return capability.JSONResult(keys)
}

// Keys returns the keys of the object at pointer in document order, or an
// empty list for anything that is not an object.
func (c *Connector) Keys(pointer string) ([]string, error) {
	doc, err := c.load()
	if err != nil {
		return nil, err
	}
	v, _, err := Resolve(doc, pointer)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(*Object)
	if !ok {
		return []string{}, nil
	}
	return obj.Keys(), nil
}

func (c *Connector) search(_ context.Context, raw json.RawMessage) (*capability.Result, error) {
	var args struct {
		Query         string `json:"query"`
		In            string `json:"in"`
		CaseSensitive bool   `json:"case_sensitive"`
		Limit         int    `json:"limit"`
	}
	if err := capability.Decode(raw, &args); err != nil {
		return nil, err
	}
	doc, err := c.load()
	if err != nil {
		return nil, err
	}
	res, err := Search(doc, SearchOptions{
		Query:         args.Query,
		In:            args.In,
		CaseSensitive: args.CaseSensitive,
		Limit:         args.Limit,
	})
	if err != nil {
		return nil, err
	}
	return capability.JSONResult(res)
}

// load returns the cached document, re-reading the file when it changed.
func (c *Connector) load() (any, error) {
	st, err := os.Stat(c.src.File)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", c.src.File, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.loaded && st.ModTime().Equal(c.modTime) && st.Size() == c.size {
		return c.doc, nil
	}

	data, err := textfile.ReadAll(c.src.File, c.src.Encoding)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", c.src.File, err)
	}

	doc, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", c.src.File, err)
	}

	c.doc = doc
	c.modTime = st.ModTime()
	c.size = st.Size()
	c.loaded = true
	return doc, nil
}

// Probe reports the file size.
func (c *Connector) Probe(context.Context) (map[string]any, error) {
	st, err := os.Stat(c.src.File)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"file":  c.src.File,
		"bytes": st.Size(),
	}, nil
}

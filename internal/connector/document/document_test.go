// ABOUTME: Tests for the JSON document connector
// ABOUTME: Covers pointer resolution, key listing, search and the modification-time cache

package document

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/datagate/internal/capability"
	"github.com/2389/datagate/internal/config"
)

const catalog = `{
  "store": {
    "name": "Corner Books",
    "a/b": "slash",
    "m~n": "tilde",
    "books": [
      {"title": "Go in Action", "price": 31.5, "tags": ["go", "programming"]},
      {"title": "The Pragmatic Programmer", "price": 42, "tags": ["craft"]}
    ],
    "open": true,
    "manager": null
  },
  "version": 3
}`

func writeDoc(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func newConnector(t *testing.T) (*Connector, string) {
	t.Helper()
	path := writeDoc(t, catalog)
	return New(config.SourceConfig{ID: "catalog", Type: config.KindJSON, File: path}), path
}

func TestGet_WholeDocument(t *testing.T) {
	c, _ := newConnector(t)

	empty, err := c.Get("")
	require.NoError(t, err)
	slash, err := c.Get("/")
	require.NoError(t, err)

	assert.Equal(t, empty, slash)
	obj, ok := empty.(*Object)
	require.True(t, ok)
	assert.Equal(t, []string{"store", "version"}, obj.Keys())
}

func TestGet_Pointers(t *testing.T) {
	c, _ := newConnector(t)

	tests := []struct {
		pointer string
		want    any
	}{
		{"/store/name", "Corner Books"},
		{"/store/books/1/title", "The Pragmatic Programmer"},
		{"/store/books/0/tags/1", "programming"},
		{"/store/a~1b", "slash"},
		{"/store/m~0n", "tilde"},
		{"/store/open", true},
		{"/store/missing", nil},
		{"/store/books/9", nil},
		{"/store/books/01", nil},
		{"/store/name/deeper", nil},
	}
	for _, tt := range tests {
		t.Run(tt.pointer, func(t *testing.T) {
			got, err := c.Get(tt.pointer)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	version, err := c.Get("/version")
	require.NoError(t, err)
	assert.Equal(t, "3", scalarText(version))

	_, err = c.Get("store")
	assert.Error(t, err)
}

func TestKeys(t *testing.T) {
	c, _ := newConnector(t)

	keys, err := c.Keys("/store")
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "a/b", "m~n", "books", "open", "manager"}, keys)

	root, err := c.Keys("")
	require.NoError(t, err)
	assert.Equal(t, []string{"store", "version"}, root)

	notObject, err := c.Keys("/store/books")
	require.NoError(t, err)
	assert.Empty(t, notObject)
}

const unsorted = `{"zeta":1,"alpha":{"zz":"needle","aa":"needle"},"mid":2}`

func TestKeys_DocumentOrder(t *testing.T) {
	c := New(config.SourceConfig{ID: "order", File: writeDoc(t, unsorted)})

	keys, err := c.Keys("/")
	require.NoError(t, err)
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, keys)

	nested, err := c.Keys("/alpha")
	require.NoError(t, err)
	assert.Equal(t, []string{"zz", "aa"}, nested)
}

func TestSearch_DocumentOrder(t *testing.T) {
	c := New(config.SourceConfig{ID: "order", File: writeDoc(t, unsorted)})
	doc, err := c.load()
	require.NoError(t, err)

	res, err := Search(doc, SearchOptions{Query: "needle", In: SearchValues, Limit: 1})
	require.NoError(t, err)
	require.Equal(t, 1, res.Count)
	assert.Equal(t, "/alpha/zz", res.Hits[0].Pointer)
	assert.True(t, res.Truncated)

	all, err := Search(doc, SearchOptions{Query: "needle"})
	require.NoError(t, err)
	require.Equal(t, 2, all.Count)
	assert.Equal(t, "/alpha/zz", all.Hits[0].Pointer)
	assert.Equal(t, "/alpha/aa", all.Hits[1].Pointer)
}

func TestGet_KeepsOrderInOutput(t *testing.T) {
	c := New(config.SourceConfig{ID: "order", File: writeDoc(t, unsorted)})
	ns := capability.NewNamespace()
	require.NoError(t, c.Register(context.Background(), ns))

	res, err := ns.Call(context.Background(), "json_order_get", json.RawMessage(`{"pointer":"/"}`))
	require.NoError(t, err)
	require.False(t, res.IsError)

	text := res.Content[0].Text
	zeta, alpha, mid := strings.Index(text, `"zeta"`), strings.Index(text, `"alpha"`), strings.Index(text, `"mid"`)
	assert.True(t, zeta < alpha && alpha < mid, "keys out of order in %s", text)
	assert.Less(t, strings.Index(text, `"zz"`), strings.Index(text, `"aa"`))
}

func TestLoad_RejectsInvalidJSON(t *testing.T) {
	c := New(config.SourceConfig{ID: "bad", File: writeDoc(t, `{"a" "b"}`)})
	_, err := c.Keys("/")
	assert.Error(t, err)
}

func TestSearch(t *testing.T) {
	c, _ := newConnector(t)
	doc, err := c.load()
	require.NoError(t, err)

	t.Run("values case-insensitive", func(t *testing.T) {
		res, err := Search(doc, SearchOptions{Query: "PROGRAM", In: SearchValues})
		require.NoError(t, err)
		require.Equal(t, 2, res.Count)
		assert.Equal(t, "/store/books/0/tags/1", res.Hits[0].Pointer)
		assert.Equal(t, "tags", res.Hits[0].Key)
		assert.Equal(t, "value", res.Hits[0].Match)
		assert.Equal(t, "/store/books/1/title", res.Hits[1].Pointer)
		assert.False(t, res.Truncated)
	})

	t.Run("case-sensitive", func(t *testing.T) {
		res, err := Search(doc, SearchOptions{Query: "PROGRAM", CaseSensitive: true})
		require.NoError(t, err)
		assert.Equal(t, 0, res.Count)
		assert.NotNil(t, res.Hits)
	})

	t.Run("keys", func(t *testing.T) {
		res, err := Search(doc, SearchOptions{Query: "book", In: SearchKeys})
		require.NoError(t, err)
		require.Equal(t, 1, res.Count)
		assert.Equal(t, "/store/books", res.Hits[0].Pointer)
		assert.Equal(t, "key", res.Hits[0].Match)
		assert.True(t, strings.HasPrefix(res.Hits[0].Preview, `[{"title":"Go in Action","price":31.5`))
	})

	t.Run("numbers", func(t *testing.T) {
		res, err := Search(doc, SearchOptions{Query: "31.5"})
		require.NoError(t, err)
		require.Equal(t, 1, res.Count)
		assert.Equal(t, "/store/books/0/price", res.Hits[0].Pointer)
	})

	t.Run("limit truncates", func(t *testing.T) {
		res, err := Search(doc, SearchOptions{Query: "o", Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, 2, res.Count)
		assert.True(t, res.Truncated)
	})

	t.Run("invalid options", func(t *testing.T) {
		_, err := Search(doc, SearchOptions{Query: ""})
		assert.Error(t, err)
		_, err = Search(doc, SearchOptions{Query: "x", In: "everywhere"})
		assert.Error(t, err)
		_, err = Search(doc, SearchOptions{Query: "x", Limit: 5000})
		assert.Error(t, err)
	})
}

func TestPreviewTruncates(t *testing.T) {
	long := strings.Repeat("é", 500)
	p := preview(long)
	assert.Equal(t, previewLength+1, len([]rune(p)))
	assert.True(t, strings.HasSuffix(p, "…"))
	assert.Equal(t, "short", preview("short"))
}

func TestLoad_CacheInvalidatesOnChange(t *testing.T) {
	path := writeDoc(t, `{"v": 1}`)
	c := New(config.SourceConfig{ID: "live", File: path})

	first, err := c.Get("/v")
	require.NoError(t, err)
	assert.Equal(t, "1", scalarText(first))

	require.NoError(t, os.WriteFile(path, []byte(`{"v": 22}`), 0644))
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, future, future))

	second, err := c.Get("/v")
	require.NoError(t, err)
	assert.Equal(t, "22", scalarText(second))
}

func TestRegister(t *testing.T) {
	c, _ := newConnector(t)
	ns := capability.NewNamespace()
	require.NoError(t, c.Register(context.Background(), ns))

	names := []string{}
	for _, cp := range ns.List() {
		names = append(names, cp.Name)
	}
	assert.Equal(t, []string{"json_catalog_get", "json_catalog_keys", "json_catalog_search"}, names)

	res, err := ns.Call(context.Background(), "json_catalog_get", json.RawMessage(`{"pointer":"/store/books/0/title"}`))
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Equal(t, `"Go in Action"`, res.Content[0].Text)

	res, err = ns.Call(context.Background(), "json_catalog_get", json.RawMessage(`{"pointer":"/nope"}`))
	require.NoError(t, err)
	assert.Equal(t, "null", res.Content[0].Text)

	res, err = ns.Call(context.Background(), "json_catalog_search", json.RawMessage(`{"query":"corner"}`))
	require.NoError(t, err)
	var out SearchResult
	require.NoError(t, json.Unmarshal([]byte(res.Content[0].Text), &out))
	assert.Equal(t, 1, out.Count)
	assert.Equal(t, "/store/name", out.Hits[0].Pointer)
}

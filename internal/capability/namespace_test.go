// ABOUTME: Tests for the capability namespace and name sanitizing.
// ABOUTME: Covers collisions, ordering, schema validation and handler failure conversion.

package capability

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoHandler(_ context.Context, args json.RawMessage) (*Result, error) {
	return TextResult(string(args)), nil
}

func TestNamespace_RegisterAndList(t *testing.T) {
	ns := NewNamespace()
	for _, name := range []string{"b_tool", "a_tool", "c_tool"} {
		require.NoError(t, ns.Register(name, Definition{Description: name}, echoHandler))
	}

	list := ns.List()
	require.Len(t, list, 3)
	assert.Equal(t, "b_tool", list[0].Name)
	assert.Equal(t, "a_tool", list[1].Name)
	assert.Equal(t, "c_tool", list[2].Name)
	assert.Equal(t, 3, ns.Len())
	assert.JSONEq(t, `{"type":"object"}`, string(list[0].InputSchema))
}

func TestNamespace_Collision(t *testing.T) {
	ns := NewNamespace()
	require.NoError(t, ns.Register("dup", Definition{}, echoHandler))

	err := ns.Register("dup", Definition{}, echoHandler)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCapabilityCollision))
	assert.Equal(t, 1, ns.Len())
}

func TestNamespace_RegisterRejectsBadInput(t *testing.T) {
	ns := NewNamespace()
	assert.Error(t, ns.Register("", Definition{}, echoHandler))
	assert.Error(t, ns.Register("nil_handler", Definition{}, nil))
	assert.Error(t, ns.Register("bad_schema", Definition{InputSchema: json.RawMessage(`{"type": 12}`)}, echoHandler))
	assert.Equal(t, 0, ns.Len())
}

func TestNamespace_Merge(t *testing.T) {
	a := NewNamespace()
	require.NoError(t, a.Register("one", Definition{}, echoHandler))
	b := NewNamespace()
	require.NoError(t, b.Register("two", Definition{}, echoHandler))
	require.NoError(t, b.Register("three", Definition{}, echoHandler))

	require.NoError(t, a.Merge(b))
	names := make([]string, 0, a.Len())
	for _, c := range a.List() {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"one", "two", "three"}, names)

	c := NewNamespace()
	require.NoError(t, c.Register("two", Definition{}, echoHandler))
	assert.ErrorIs(t, a.Merge(c), ErrCapabilityCollision)
}

func TestNamespace_Call(t *testing.T) {
	ns := NewNamespace()
	schema := Object(Props{
		"limit": Integer("max rows", 1, 10, 5),
		"name":  NonEmptyString("who"),
	}, "name")
	require.NoError(t, ns.Register("greet", Definition{InputSchema: schema}, func(_ context.Context, args json.RawMessage) (*Result, error) {
		var in struct {
			Name string `json:"name"`
		}
		if err := Decode(args, &in); err != nil {
			return nil, err
		}
		return TextResult("hello " + in.Name), nil
	}))

	t.Run("valid arguments", func(t *testing.T) {
		res, err := ns.Call(context.Background(), "greet", json.RawMessage(`{"name":"ada","limit":3}`))
		require.NoError(t, err)
		assert.False(t, res.IsError)
		assert.Equal(t, "hello ada", res.Content[0].Text)
	})

	t.Run("missing required", func(t *testing.T) {
		_, err := ns.Call(context.Background(), "greet", nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidArguments)
		assert.Contains(t, err.Error(), "name")
	})

	t.Run("out of range", func(t *testing.T) {
		_, err := ns.Call(context.Background(), "greet", json.RawMessage(`{"name":"ada","limit":50}`))
		assert.ErrorIs(t, err, ErrInvalidArguments)
	})

	t.Run("unknown capability", func(t *testing.T) {
		_, err := ns.Call(context.Background(), "nope", nil)
		assert.ErrorIs(t, err, ErrCapabilityNotFound)
	})
}

func TestNamespace_CallConvertsFailures(t *testing.T) {
	ns := NewNamespace()
	require.NoError(t, ns.Register("fails", Definition{}, func(context.Context, json.RawMessage) (*Result, error) {
		return nil, errors.New("backend unreachable")
	}))
	require.NoError(t, ns.Register("panics", Definition{}, func(context.Context, json.RawMessage) (*Result, error) {
		panic("boom")
	}))

	res, err := ns.Call(context.Background(), "fails", nil)
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "backend unreachable", res.Content[0].Text)

	res, err = ns.Call(context.Background(), "panics", nil)
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content[0].Text, "boom")
}

func TestNamespace_ConcurrentRegister(t *testing.T) {
	ns := NewNamespace()
	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- ns.Register("same", Definition{}, echoHandler)
		}()
	}
	wg.Wait()
	close(errs)

	var ok int
	for err := range errs {
		if err == nil {
			ok++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, ns.Len())
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"openapi_items_getItem", "openapi_items_getItem"},
		{"openapi_items_get_/items/{id}", "openapi_items_get_items_id"},
		{"__csv-people__", "csv_people"},
		{"a  b..c", "a_b_c"},
		{strings.Repeat("x", 200), strings.Repeat("x", MaxNameLength)},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeName(tt.input))
		})
	}
}

func TestJSONResult(t *testing.T) {
	res, err := JSONResult(map[string]any{"ok": true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, res.Content[0].Text)
	assert.Equal(t, "text", res.Content[0].Type)
}

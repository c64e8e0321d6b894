// ABOUTME: Ordered JSON object and the token-stream decoder that builds it.
// ABOUTME: Objects keep their keys in document order so listings and search follow the file.

package document

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	gojson "github.com/goccy/go-json"
)

// Object is a decoded JSON object. Keys are kept in the order they first
// appear in the document; a repeated key keeps its first position and its
// last value.
type Object struct {
	keys   []string
	values map[string]any
}

func newObject() *Object {
	return &Object{values: map[string]any{}}
}

func (o *Object) set(key string, v any) {
	if _, ok := o.values[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.values[key] = v
}

// Get returns the value stored under key.
func (o *Object) Get(key string) (any, bool) {
	v, ok := o.values[key]
	return v, ok
}

// Keys returns a copy of the keys in document order.
func (o *Object) Keys() []string {
	out := make([]string, len(o.keys))
	copy(out, o.keys)
	return out
}

// Len returns the number of keys.
func (o *Object) Len() int { return len(o.keys) }

// MarshalJSON writes the object with its keys in document order.
func (o *Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := gojson.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := gojson.Marshal(o.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// decode parses one JSON document. Objects become *Object, arrays []any and
// numbers gojson.Number.
func decode(data []byte) (any, error) {
	// Token skips separators without checking them.
	if !gojson.Valid(data) {
		return nil, errors.New("invalid JSON")
	}
	dec := gojson.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return decodeValue(dec)
}

func decodeValue(dec *gojson.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch v := tok.(type) {
	case gojson.Delim:
		switch v {
		case '{':
			return decodeObject(dec)
		case '[':
			return decodeArray(dec)
		}
		return nil, fmt.Errorf("unexpected %q", rune(v))
	case gojson.Number:
		return gojson.Number(strings.Clone(string(v))), nil
	default:
		return v, nil
	}
}

func decodeObject(dec *gojson.Decoder) (*Object, error) {
	obj := newObject()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("object key is %v, not a string", tok)
		}
		v, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		obj.set(key, v)
	}
	if err := expectDelim(dec, '}'); err != nil {
		return nil, err
	}
	return obj, nil
}

func decodeArray(dec *gojson.Decoder) ([]any, error) {
	arr := []any{}
	for dec.More() {
		v, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		arr = append(arr, v)
	}
	if err := expectDelim(dec, ']'); err != nil {
		return nil, err
	}
	return arr, nil
}

func expectDelim(dec *gojson.Decoder, want gojson.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(gojson.Delim); !ok || d != want {
		return fmt.Errorf("expected %q, got %v", rune(want), tok)
	}
	return nil
}

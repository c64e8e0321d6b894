// ABOUTME: RFC 6901 JSON Pointer resolution and escaping over decoded documents.
// ABOUTME: Missing paths resolve to (nil, false) rather than an error.

package document

import (
	"errors"
	"strconv"
	"strings"
)

var pointerUnescaper = strings.NewReplacer("~1", "/", "~0", "~")
var pointerEscaper = strings.NewReplacer("~", "~0", "/", "~1")

// Resolve returns the value at pointer. "" and "/" both address the whole document.
func Resolve(doc any, pointer string) (any, bool, error) {
	if pointer == "" || pointer == "/" {
		return doc, true, nil
	}
	if !strings.HasPrefix(pointer, "/") {
		return nil, false, errors.New("pointer must be empty or start with '/'")
	}

	cur := doc
	for _, raw := range strings.Split(pointer[1:], "/") {
		token := pointerUnescaper.Replace(raw)
		switch node := cur.(type) {
		case *Object:
			v, ok := node.Get(token)
			if !ok {
				return nil, false, nil
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(token)
			if err != nil || idx < 0 || idx >= len(node) || (len(token) > 1 && token[0] == '0') {
				return nil, false, nil
			}
			cur = node[idx]
		default:
			return nil, false, nil
		}
	}
	return cur, true, nil
}

// appendToken extends pointer with one escaped reference token.
func appendToken(pointer, token string) string {
	return pointer + "/" + pointerEscaper.Replace(token)
}

// ABOUTME: Capability contract shared by connectors and the protocol engine.
// ABOUTME: A capability is a name, a JSON Schema input shape and a handler.

package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrCapabilityCollision indicates a capability name is already registered in the namespace.
var ErrCapabilityCollision = errors.New("capability name collision")

// ErrCapabilityNotFound indicates no capability with the requested name exists.
var ErrCapabilityNotFound = errors.New("capability not found")

// ErrInvalidArguments indicates call arguments do not satisfy the input schema.
var ErrInvalidArguments = errors.New("invalid arguments")

// MaxNameLength is the longest capability name produced by SanitizeName.
const MaxNameLength = 128

// Handler executes one capability invocation. Args is the raw JSON object
// sent by the client, already validated against the input schema.
type Handler func(ctx context.Context, args json.RawMessage) (*Result, error)

// Definition describes a capability to the client.
type Definition struct {
	Description string
	InputSchema json.RawMessage
}

// Sink accepts capability registrations. Namespace implements it.
type Sink interface {
	Register(name string, def Definition, h Handler) error
}

// Content is one block of a capability result.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Result is what a capability returns to the client.
type Result struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// TextResult wraps plain text.
func TextResult(text string) *Result {
	return &Result{Content: []Content{{Type: "text", Text: text}}}
}

// ErrorResult wraps a failure message reported to the client as a tool error.
func ErrorResult(msg string) *Result {
	return &Result{Content: []Content{{Type: "text", Text: msg}}, IsError: true}
}

// JSONResult renders v as indented JSON text.
func JSONResult(v any) (*Result, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding result: %w", err)
	}
	return TextResult(string(data)), nil
}

// Decode unmarshals call arguments into v. Empty args decode as an empty object.
func Decode(args json.RawMessage, v any) error {
	if isEmptyArgs(args) {
		return nil
	}
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return nil
}

func isEmptyArgs(args json.RawMessage) bool {
	s := strings.TrimSpace(string(args))
	return s == "" || s == "null"
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9_]+`)

// SanitizeName maps an arbitrary string to a capability name: runs of characters
// outside [A-Za-z0-9_] become one underscore, leading and trailing underscores
// are dropped, and the result is cut to MaxNameLength.
func SanitizeName(s string) string {
	s = unsafeNameChars.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if len(s) > MaxNameLength {
		s = s[:MaxNameLength]
	}
	return s
}

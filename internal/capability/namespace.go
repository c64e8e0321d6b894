// ABOUTME: Thread-safe capability namespace with collision detection and schema validation.
// ABOUTME: One namespace backs one protocol session; listing order is registration order.

package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

var defaultInputSchema = json.RawMessage(`{"type":"object"}`)

// Capability is a registered, invocable unit.
type Capability struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	Handler     Handler

	schema *gojsonschema.Schema
}

// Namespace holds the capabilities visible to one protocol session.
type Namespace struct {
	mu     sync.RWMutex
	byName map[string]*Capability
	order  []*Capability
}

// NewNamespace creates an empty Namespace.
func NewNamespace() *Namespace {
	return &Namespace{byName: make(map[string]*Capability)}
}

// Register compiles the input schema and adds the capability.
// Returns ErrCapabilityCollision if the name is taken.
func (n *Namespace) Register(name string, def Definition, h Handler) error {
	if name == "" {
		return errors.New("capability name is required")
	}
	if h == nil {
		return fmt.Errorf("capability '%s': handler is required", name)
	}

	raw := def.InputSchema
	if len(raw) == 0 {
		raw = defaultInputSchema
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("capability '%s': compiling input schema: %w", name, err)
	}

	c := &Capability{
		Name:        name,
		Description: def.Description,
		InputSchema: raw,
		Handler:     h,
		schema:      schema,
	}
	return n.add(c)
}

func (n *Namespace) add(c *Capability) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, exists := n.byName[c.Name]; exists {
		return fmt.Errorf("%w: capability '%s' already registered", ErrCapabilityCollision, c.Name)
	}
	n.byName[c.Name] = c
	n.order = append(n.order, c)
	return nil
}

// Merge adds every capability of other, in other's order. Stops at the first collision.
func (n *Namespace) Merge(other *Namespace) error {
	for _, c := range other.List() {
		if err := n.add(c); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the capability with the given name.
func (n *Namespace) Get(name string) (*Capability, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	c, ok := n.byName[name]
	return c, ok
}

// List returns all capabilities in registration order.
func (n *Namespace) List() []*Capability {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]*Capability, len(n.order))
	copy(out, n.order)
	return out
}

// Len returns the number of registered capabilities.
func (n *Namespace) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.order)
}

// Call validates args against the capability's schema and runs its handler.
//
// Unknown names return ErrCapabilityNotFound and schema violations return
// ErrInvalidArguments. A handler error or panic is not returned as an error;
// it becomes a Result with IsError set and the failure message as text.
func (n *Namespace) Call(ctx context.Context, name string, args json.RawMessage) (*Result, error) {
	c, ok := n.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCapabilityNotFound, name)
	}
	if isEmptyArgs(args) {
		args = json.RawMessage(`{}`)
	}
	if err := c.validate(args); err != nil {
		return nil, err
	}
	return c.invoke(ctx, args), nil
}

func (c *Capability) validate(args json.RawMessage) error {
	result, err := c.schema.Validate(gojsonschema.NewBytesLoader(args))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
	}
	return fmt.Errorf("%w: %s", ErrInvalidArguments, strings.Join(msgs, "; "))
}

func (c *Capability) invoke(ctx context.Context, args json.RawMessage) (res *Result) {
	defer func() {
		if r := recover(); r != nil {
			res = ErrorResult(fmt.Sprintf("capability %s panicked: %v", c.Name, r))
		}
	}()

	out, err := c.Handler(ctx, args)
	if err != nil {
		return ErrorResult(err.Error())
	}
	if out == nil {
		return &Result{Content: []Content{}}
	}
	return out
}

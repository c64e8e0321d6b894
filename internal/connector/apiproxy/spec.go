// ABOUTME: OpenAPI document loading and operation extraction for the API proxy.
// ABOUTME: Walks paths in document order and applies method and operationId filters.

package apiproxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/2389/datagate/internal/capability"
	"github.com/2389/datagate/internal/config"
)

// maxSpecSize bounds a remote OpenAPI document.
const maxSpecSize = 16 << 20

var httpMethods = map[string]bool{
	"get": true, "post": true, "put": true, "patch": true,
	"delete": true, "head": true, "options": true,
}

// Operation is one (method, path) pair exposed as a capability.
type Operation struct {
	Name        string
	Method      string
	Path        string
	OperationID string
	Summary     string
	Description string
}

type operationFields struct {
	OperationID string `yaml:"operationId"`
	Summary     string `yaml:"summary"`
	Description string `yaml:"description"`
}

type filters struct {
	methods map[string]bool
	allow   map[string]bool
	deny    map[string]bool
}

func newFilters(src config.SourceConfig) filters {
	f := filters{}
	if src.AllowMethods != nil {
		f.methods = make(map[string]bool, len(src.AllowMethods))
		for _, m := range src.AllowMethods {
			f.methods[strings.ToLower(m)] = true
		}
	}
	f.allow = idSet(src.AllowOperationIDs)
	f.deny = idSet(src.DenyOperationIDs)
	return f
}

func idSet(ids []string) map[string]bool {
	if ids == nil {
		return nil
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			set[id] = true
		}
	}
	return set
}

// keep applies the filters. With an allow-list, operations without an operationId are dropped.
func (f filters) keep(method, opID string) bool {
	if f.methods != nil && !f.methods[method] {
		return false
	}
	if f.deny != nil && opID != "" && f.deny[opID] {
		return false
	}
	if f.allow != nil && (opID == "" || !f.allow[opID]) {
		return false
	}
	return true
}

// loadSpec reads spec_file from disk, or over HTTP when it is an http(s) URL.
func loadSpec(ctx context.Context, client *http.Client, location string) ([]byte, error) {
	if !strings.HasPrefix(location, "http://") && !strings.HasPrefix(location, "https://") {
		data, err := os.ReadFile(location)
		if err != nil {
			return nil, fmt.Errorf("reading spec: %w", err)
		}
		return data, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching spec: %w", err)
	}
	req.Header.Set("Accept", "application/yaml, application/json;q=0.9, */*;q=0.1")
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching spec: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetching spec: %s returned %s", location, resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSpecSize))
	if err != nil {
		return nil, fmt.Errorf("fetching spec: %w", err)
	}
	return data, nil
}

// ParseOperations extracts the operations of an OpenAPI document (YAML or
// JSON) that pass src's filters, in document order. total counts every
// operation before filtering.
func ParseOperations(data []byte, src config.SourceConfig) (ops []Operation, total int, err error) {
	var doc struct {
		Paths *yaml.Node `yaml:"paths"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, 0, fmt.Errorf("parsing spec: %w", err)
	}
	if doc.Paths == nil || doc.Paths.Kind != yaml.MappingNode {
		return nil, 0, errors.New("spec has no 'paths' object")
	}

	f := newFilters(src)
	paths := doc.Paths.Content
	for i := 0; i+1 < len(paths); i += 2 {
		path, item := paths[i].Value, paths[i+1]
		if item.Kind != yaml.MappingNode {
			continue
		}
		for j := 0; j+1 < len(item.Content); j += 2 {
			method, opNode := strings.ToLower(item.Content[j].Value), item.Content[j+1]
			if !httpMethods[method] || opNode.Kind != yaml.MappingNode {
				continue
			}
			total++

			var fields operationFields
			if err := opNode.Decode(&fields); err != nil {
				return nil, 0, fmt.Errorf("parsing %s %s: %w", method, path, err)
			}
			opID := strings.TrimSpace(fields.OperationID)
			if !f.keep(method, opID) {
				continue
			}

			suffix := opID
			if suffix == "" {
				suffix = method + "_" + path
			}
			ops = append(ops, Operation{
				Name:        capability.SanitizeName("openapi_" + src.ID + "_" + suffix),
				Method:      method,
				Path:        path,
				OperationID: opID,
				Summary:     fields.Summary,
				Description: fields.Description,
			})
		}
	}
	return ops, total, nil
}

func (op Operation) description() string {
	var parts []string
	if op.Summary != "" {
		parts = append(parts, op.Summary)
	}
	if op.Description != "" {
		parts = append(parts, op.Description)
	}
	parts = append(parts, fmt.Sprintf("HTTP: %s %s", strings.ToUpper(op.Method), op.Path))
	return strings.Join(parts, "\n\n")
}

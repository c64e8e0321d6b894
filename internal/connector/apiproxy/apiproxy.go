// ABOUTME: API proxy connector that turns OpenAPI operations into pass-through capabilities.
// ABOUTME: Builds the upstream request from params, query, headers and body, and wraps the response.

package apiproxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/2389/datagate/internal/capability"
	"github.com/2389/datagate/internal/config"
)

const (
	defaultAccept   = "application/json, text/plain;q=0.9, */*;q=0.1"
	maxResponseSize = 32 << 20
)

var pathParam = regexp.MustCompile(`\{([^}]+)\}`)

// Envelope is what every proxied call returns. A transport failure has
// Status 0 and Data {"error": "..."}.
type Envelope struct {
	OK         bool   `json:"ok"`
	Status     int    `json:"status"`
	StatusText string `json:"statusText"`
	URL        string `json:"url"`
	Data       any    `json:"data"`
}

// CallArgs are the arguments of a proxied operation.
type CallArgs struct {
	Params  map[string]any    `json:"params"`
	Query   map[string]any    `json:"query"`
	Headers map[string]string `json:"headers"`
	Body    json.RawMessage   `json:"body"`
}

// Connector proxies one OpenAPI-described HTTP API.
type Connector struct {
	src    config.SourceConfig
	client *http.Client
	logger *slog.Logger
}

// New creates an API proxy for src. A nil client means http.DefaultClient;
// src.Timeout, when set, overrides the client's timeout.
func New(src config.SourceConfig, client *http.Client, logger *slog.Logger) *Connector {
	if client == nil {
		client = http.DefaultClient
	}
	if src.Timeout > 0 {
		c := *client
		c.Timeout = src.Timeout
		client = &c
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{
		src:    src,
		client: client,
		logger: logger.With("source", src.ID),
	}
}

// ID returns the source id.
func (c *Connector) ID() string { return c.src.ID }

// Kind returns "openapi".
func (c *Connector) Kind() string { return config.KindOpenAPI }

// Operations loads the OpenAPI document and returns the filtered operations.
func (c *Connector) Operations(ctx context.Context) ([]Operation, int, error) {
	data, err := loadSpec(ctx, c.client, c.src.SpecFile)
	if err != nil {
		return nil, 0, err
	}
	return ParseOperations(data, c.src)
}

// Register adds one capability per operation that passes the filters.
func (c *Connector) Register(ctx context.Context, sink capability.Sink) error {
	ops, _, err := c.Operations(ctx)
	if err != nil {
		return err
	}

	schema := capability.Object(capability.Props{
		"params":  capability.Record("path parameters substituted into {name} segments", nil),
		"query":   capability.Record("query string parameters; arrays repeat the key", nil),
		"headers": capability.Record("extra request headers", capability.String("")),
		"body":    capability.Any("request body; JSON unless headers set another content-type"),
	})

	for _, op := range ops {
		if err := sink.Register(op.Name, capability.Definition{
			Description: op.description(),
			InputSchema: schema,
		}, c.handler(op)); err != nil {
			return err
		}
	}
	c.logger.Debug("registered api operations", "count", len(ops))
	return nil
}

// handler detaches from the caller's context; the client timeout still applies.
func (c *Connector) handler(op Operation) capability.Handler {
	return func(ctx context.Context, raw json.RawMessage) (*capability.Result, error) {
		var args CallArgs
		if err := capability.Decode(raw, &args); err != nil {
			return nil, err
		}
		return capability.JSONResult(c.Invoke(context.WithoutCancel(ctx), op, args))
	}
}

// Invoke performs the upstream request for op. Transport failures are
// reported inside the envelope, never as an error.
func (c *Connector) Invoke(ctx context.Context, op Operation, args CallArgs) *Envelope {
	target, err := c.buildURL(op.Path, args.Params, args.Query)
	if err != nil {
		return failure("", err)
	}

	req, err := c.buildRequest(ctx, op.Method, target, args)
	if err != nil {
		return failure(target, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("upstream request failed", "method", req.Method, "url", target, "error", err)
		return failure(target, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("upstream request", "method", req.Method, "url", target, "status", resp.StatusCode)
	return &Envelope{
		OK:         resp.StatusCode >= 200 && resp.StatusCode <= 299,
		Status:     resp.StatusCode,
		StatusText: reasonPhrase(resp),
		URL:        target,
		Data:       readPayload(resp),
	}
}

// reasonPhrase returns the upstream's own status text, falling back to the
// standard one when the status line carries none.
func reasonPhrase(resp *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if text == "" {
		return http.StatusText(resp.StatusCode)
	}
	return text
}

func failure(target string, err error) *Envelope {
	return &Envelope{
		OK:   false,
		URL:  target,
		Data: map[string]any{"error": err.Error()},
	}
}

func (c *Connector) buildURL(path string, params, query map[string]any) (string, error) {
	expanded := pathParam.ReplaceAllStringFunc(path, func(m string) string {
		name := m[1 : len(m)-1]
		v, ok := params[name]
		if !ok || v == nil {
			return m
		}
		return url.PathEscape(stringify(v))
	})

	u, err := url.Parse(joinURL(c.src.BaseURL, expanded))
	if err != nil {
		return "", fmt.Errorf("building url: %w", err)
	}
	if len(query) > 0 {
		q := u.Query()
		for k, v := range query {
			switch vv := v.(type) {
			case nil:
			case []any:
				for _, item := range vv {
					if item != nil {
						q.Add(k, stringify(item))
					}
				}
			default:
				q.Set(k, stringify(vv))
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func joinURL(base, path string) string {
	base = strings.TrimRight(base, "/")
	if path == "" {
		return base
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}

func (c *Connector) buildRequest(ctx context.Context, method, target string, args CallArgs) (*http.Request, error) {
	hasBody := len(bytes.TrimSpace(args.Body)) > 0 && string(bytes.TrimSpace(args.Body)) != "null"

	header := http.Header{}
	header.Set("Accept", defaultAccept)
	for k, v := range args.Headers {
		header.Set(k, v)
	}
	if name, value := c.src.ProxyAuth.Header(); name != "" {
		header.Set(name, value)
	}
	if hasBody && header.Get("Content-Type") == "" {
		header.Set("Content-Type", "application/json")
	}

	var body io.Reader
	if hasBody {
		body = bytes.NewReader(encodeBody(args.Body, header.Get("Content-Type")))
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), target, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header = header
	return req, nil
}

// encodeBody sends JSON as-is for JSON content types. Otherwise a JSON
// string is sent as its raw text and anything else as its JSON text.
func encodeBody(raw json.RawMessage, contentType string) []byte {
	if strings.Contains(strings.ToLower(contentType), "json") {
		return raw
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []byte(s)
	}
	return raw
}

func readPayload(resp *http.Response) any {
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	if strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "application/json") {
		if len(bytes.TrimSpace(data)) == 0 {
			return nil
		}
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return map[string]any{"error": err.Error()}
		}
		return v
	}
	return string(data)
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case json.Number:
		return x.String()
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// Probe loads the OpenAPI document and reports operation counts.
func (c *Connector) Probe(ctx context.Context) (map[string]any, error) {
	ops, total, err := c.Operations(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"baseUrl":    c.src.BaseURL,
		"operations": total,
		"exposed":    len(ops),
	}, nil
}

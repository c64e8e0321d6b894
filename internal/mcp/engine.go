// ABOUTME: Protocol engine bound to one capability namespace.
// ABOUTME: Dispatches initialize, ping, tools/list and tools/call and issues the session id.

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/datagate/internal/capability"
)

// Supported MCP protocol versions
var supportedProtocolVersions = map[string]bool{
	"2024-11-05": true,
	"2025-03-26": true,
	"2025-06-18": true,
	"2025-11-25": true,
}

// LatestProtocolVersion is advertised when the client asks for an unknown version.
const LatestProtocolVersion = "2025-11-25"

// SupportedProtocolVersion reports whether v can be negotiated.
func SupportedProtocolVersion(v string) bool {
	return supportedProtocolVersions[v]
}

// Info names the server in initialize responses.
type Info struct {
	Name    string
	Version string
}

// CallObserver is told about every tools/call.
type CallObserver interface {
	ObserveCall(tool string, d time.Duration, failed bool)
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	Namespace *capability.Namespace
	Info      Info
	Logger    *slog.Logger
	// Stateful engines issue a session id on initialize and refuse a second one.
	Stateful bool
	Observer CallObserver
}

// Engine serves the protocol for one namespace. A stateful session owns one
// engine for its whole life; stateless requests get a fresh one each.
type Engine struct {
	ns       *capability.Namespace
	info     Info
	logger   *slog.Logger
	stateful bool
	observer CallObserver

	mu              sync.Mutex
	sessionID       string
	initialized     bool
	protocolVersion string
	clientName      string

	closeOnce sync.Once
	done      chan struct{}
}

// NewEngine creates an engine. A nil namespace serves no tools.
func NewEngine(cfg EngineConfig) *Engine {
	ns := cfg.Namespace
	if ns == nil {
		ns = capability.NewNamespace()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		ns:       ns,
		info:     cfg.Info,
		logger:   logger,
		stateful: cfg.Stateful,
		observer: cfg.Observer,
		done:     make(chan struct{}),
	}
}

// Namespace returns the engine's capabilities.
func (e *Engine) Namespace() *capability.Namespace {
	return e.ns
}

// SessionID returns the id issued by initialize, or "" before it or when stateless.
func (e *Engine) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionID
}

// ProtocolVersion returns the negotiated version, or "" before initialize.
func (e *Engine) ProtocolVersion() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.protocolVersion
}

// Close marks the engine finished. It is safe to call more than once.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() { close(e.done) })
	return nil
}

// Done is closed when the engine is closed.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// HandleMessages processes parsed messages and returns the encoded reply:
// a single object, an array for batches, or nil when nothing needs a reply.
func (e *Engine) HandleMessages(ctx context.Context, msgs []JSONRPCRequest, batch bool) ([]byte, error) {
	var replies []*JSONRPCResponse
	for _, msg := range msgs {
		if resp := e.handle(ctx, msg); resp != nil {
			replies = append(replies, resp)
		}
	}

	switch {
	case len(replies) == 0:
		return nil, nil
	case batch:
		return json.Marshal(replies)
	default:
		return json.Marshal(replies[0])
	}
}

func (e *Engine) handle(ctx context.Context, req JSONRPCRequest) *JSONRPCResponse {
	if req.Method == "" {
		if req.IsNotification() {
			return ErrorResponse(nil, JSONRPCInvalidRequest, "missing method")
		}
		// A client response to a server request. This server never sends any.
		return nil
	}
	if req.JSONRPC != "2.0" {
		return ErrorResponse(req.ID, JSONRPCInvalidRequest, "invalid JSON-RPC version")
	}

	e.logger.Debug("mcp request", "method", req.Method, "is_notification", req.IsNotification())

	if req.IsNotification() {
		if !strings.HasPrefix(req.Method, "notifications/") {
			e.logger.Warn("received notification for non-notification method", "method", req.Method)
		}
		return nil
	}

	switch req.Method {
	case "initialize":
		return e.handleInitialize(req)
	case "ping":
		return resultResponse(req.ID, struct{}{})
	case "tools/list":
		return e.handleToolsList(req)
	case "tools/call":
		return e.handleToolsCall(ctx, req)
	default:
		return ErrorResponse(req.ID, JSONRPCMethodNotFound, "method not found: "+req.Method)
	}
}

func (e *Engine) handleInitialize(req JSONRPCRequest) *JSONRPCResponse {
	var params MCPInitializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return ErrorResponse(req.ID, JSONRPCInvalidParams, "invalid params")
		}
	}

	version := params.ProtocolVersion
	if !supportedProtocolVersions[version] {
		version = LatestProtocolVersion
	}

	e.mu.Lock()
	if e.stateful && e.initialized {
		e.mu.Unlock()
		return ErrorResponse(req.ID, JSONRPCInvalidRequest, "session already initialized")
	}
	e.initialized = true
	e.protocolVersion = version
	e.clientName = params.ClientInfo.Name
	if e.stateful {
		e.sessionID = uuid.New().String()
	}
	sessionID := e.sessionID
	e.mu.Unlock()

	e.logger.Info("mcp session initialized",
		"session_id", sessionID,
		"protocol_version", version,
		"client", params.ClientInfo.Name,
		"tools", e.ns.Len(),
	)

	return resultResponse(req.ID, map[string]any{
		"protocolVersion": version,
		"capabilities": map[string]any{
			"tools": map[string]any{"listChanged": false},
		},
		"serverInfo": map[string]any{
			"name":    e.info.Name,
			"version": e.info.Version,
		},
	})
}

func (e *Engine) handleToolsList(req JSONRPCRequest) *JSONRPCResponse {
	caps := e.ns.List()
	result := MCPListToolsResult{Tools: make([]MCPToolInfo, len(caps))}
	for i, c := range caps {
		result.Tools[i] = MCPToolInfo{
			Name:        c.Name,
			Description: c.Description,
			InputSchema: c.InputSchema,
		}
	}
	e.logger.Debug("tools/list", "count", len(caps))
	return resultResponse(req.ID, result)
}

func (e *Engine) handleToolsCall(ctx context.Context, req JSONRPCRequest) *JSONRPCResponse {
	var params MCPCallToolParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return ErrorResponse(req.ID, JSONRPCInvalidParams, "invalid params")
		}
	}
	if params.Name == "" {
		return ErrorResponse(req.ID, JSONRPCInvalidParams, "tool name is required")
	}

	start := time.Now()
	res, err := e.ns.Call(ctx, params.Name, params.Arguments)
	elapsed := time.Since(start)

	failed := err != nil || (res != nil && res.IsError)
	// Unknown tool names are never observed.
	if e.observer != nil && !errors.Is(err, capability.ErrCapabilityNotFound) {
		e.observer.ObserveCall(params.Name, elapsed, failed)
	}

	if err != nil {
		e.logger.Warn("tool call rejected", "tool_name", params.Name, "error", err)
		switch {
		case errors.Is(err, capability.ErrCapabilityNotFound):
			return ErrorResponse(req.ID, JSONRPCInvalidParams, "unknown tool: "+params.Name)
		case errors.Is(err, capability.ErrInvalidArguments):
			return ErrorResponse(req.ID, JSONRPCInvalidParams, err.Error())
		case errors.Is(err, context.DeadlineExceeded):
			return ErrorResponse(req.ID, JSONRPCInternalError, "tool execution timed out")
		case errors.Is(err, context.Canceled):
			return ErrorResponse(req.ID, JSONRPCInternalError, "request cancelled")
		default:
			return ErrorResponse(req.ID, JSONRPCInternalError, "tool execution failed")
		}
	}

	result := MCPCallToolResult{Content: make([]MCPContent, len(res.Content)), IsError: res.IsError}
	for i, c := range res.Content {
		result.Content[i] = MCPContent{Type: c.Type, Text: c.Text}
	}

	e.logger.Debug("tools/call complete",
		"tool_name", params.Name,
		"is_error", result.IsError,
		"duration", elapsed,
	)
	return resultResponse(req.ID, result)
}

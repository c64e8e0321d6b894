// ABOUTME: Streamable HTTP transport for the multiplexer: POST for messages, GET for SSE, DELETE to close.
// ABOUTME: Enforces session headers, body limits and parse errors before any capability runs.

package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/2389/datagate/internal/auth"
	"github.com/2389/datagate/internal/mcp"
)

// Header names used by the transport.
const (
	HeaderSessionID       = "Mcp-Session-Id"
	HeaderProtocolVersion = "Mcp-Protocol-Version"
)

// ServeHTTP dispatches on method.
func (m *Multiplexer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		m.handlePost(w, r)
	case http.MethodGet:
		if !m.cfg.Stateful {
			m.methodNotAllowed(w)
			return
		}
		m.handleGet(w, r)
	case http.MethodDelete:
		if !m.cfg.Stateful {
			m.methodNotAllowed(w)
			return
		}
		m.handleDelete(w, r)
	default:
		m.methodNotAllowed(w)
	}
}

func (m *Multiplexer) methodNotAllowed(w http.ResponseWriter) {
	if m.cfg.Stateful {
		w.Header().Set("Allow", "POST, GET, DELETE")
	} else {
		w.Header().Set("Allow", "POST")
	}
	sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (m *Multiplexer) handlePost(w http.ResponseWriter, r *http.Request) {
	if v := r.Header.Get(HeaderProtocolVersion); v != "" && !mcp.SupportedProtocolVersion(v) {
		sendJSONError(w, http.StatusBadRequest, "unsupported "+HeaderProtocolVersion)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, m.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			sendJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		sendJSONError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	msgs, batch, err := mcp.ParseMessages(body)
	if err != nil {
		code, msg := mcp.JSONRPCParseError, "parse error"
		if errors.Is(err, mcp.ErrEmptyBatch) {
			code, msg = mcp.JSONRPCInvalidRequest, "empty batch"
		}
		sendJSONRPC(w, http.StatusBadRequest, mcp.ErrorResponse(nil, code, msg))
		return
	}

	if !m.cfg.Stateful {
		m.handleStateless(w, r, msgs, batch)
		return
	}

	id := r.Header.Get(HeaderSessionID)
	if id == "" {
		if !mcp.ContainsInitialize(msgs) {
			sendJSONError(w, http.StatusBadRequest, "missing "+HeaderSessionID+" header")
			return
		}
		m.handleInitialize(w, r, msgs, batch)
		return
	}

	sess, ok := m.Get(id)
	if !ok {
		sendJSONError(w, http.StatusNotFound, ErrSessionNotFound.Error())
		return
	}
	sess.touch(time.Now())

	out, err := sess.Engine.HandleMessages(r.Context(), msgs, batch)
	m.writeReply(w, out, err)
}

func (m *Multiplexer) handleInitialize(w http.ResponseWriter, r *http.Request, msgs []mcp.JSONRPCRequest, batch bool) {
	engine, err := m.cfg.Factory(r.Context())
	if err != nil {
		m.logger.Error("creating session failed", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "failed to build capabilities: "+err.Error())
		return
	}

	out, err := engine.HandleMessages(r.Context(), msgs, batch)
	id := engine.SessionID()
	if err != nil || id == "" {
		// initialize was rejected; nothing to keep.
		_ = engine.Close()
		m.writeReply(w, out, err)
		return
	}

	sess := newSession(id, engine, time.Now())
	if a := auth.FromContext(r.Context()); a != nil {
		sess.Principal = a.Principal
	}
	m.insert(sess)
	w.Header().Set(HeaderSessionID, id)
	m.writeReply(w, out, nil)
}

func (m *Multiplexer) handleStateless(w http.ResponseWriter, r *http.Request, msgs []mcp.JSONRPCRequest, batch bool) {
	engine, err := m.cfg.Factory(r.Context())
	if err != nil {
		m.logger.Error("building stateless engine failed", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "failed to build capabilities: "+err.Error())
		return
	}
	defer engine.Close()

	out, err := engine.HandleMessages(r.Context(), msgs, batch)
	m.writeReply(w, out, err)
}

func (m *Multiplexer) writeReply(w http.ResponseWriter, out []byte, err error) {
	if err != nil {
		m.logger.Error("encoding reply failed", "error", err)
		sendJSONRPC(w, http.StatusInternalServerError, mcp.ErrorResponse(nil, mcp.JSONRPCInternalError, "internal error"))
		return
	}
	if out == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

// handleGet holds an SSE stream open for the session, sending keep-alive
// comments until the client leaves or the session is released.
func (m *Multiplexer) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(HeaderSessionID)
	if id == "" {
		sendJSONError(w, http.StatusBadRequest, "missing "+HeaderSessionID+" header")
		return
	}
	sess, ok := m.Get(id)
	if !ok {
		sendJSONError(w, http.StatusNotFound, ErrSessionNotFound.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		m.logger.Error("streaming not supported")
		sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	sess.touch(time.Now())
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set(HeaderSessionID, id)
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sess.Engine.Done():
			return
		case now := <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
			sess.touch(now)
		}
	}
}

func (m *Multiplexer) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.Header.Get(HeaderSessionID)
	if id == "" {
		sendJSONError(w, http.StatusBadRequest, "missing "+HeaderSessionID+" header")
		return
	}
	if !m.Close(id) {
		sendJSONError(w, http.StatusNotFound, ErrSessionNotFound.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleHealth reports liveness.
func (m *Multiplexer) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	sendJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// HandleReady reports readiness and the live session count.
func (m *Multiplexer) HandleReady(w http.ResponseWriter, _ *http.Request) {
	sendJSON(w, http.StatusOK, map[string]any{"ok": true, "sessions": m.Len()})
}

func sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// sendJSONError writes {"error": message}.
func sendJSONError(w http.ResponseWriter, status int, message string) {
	sendJSON(w, status, map[string]string{"error": message})
}

func sendJSONRPC(w http.ResponseWriter, status int, resp *mcp.JSONRPCResponse) {
	sendJSON(w, status, resp)
}

// NotFound answers any path the server does not route.
func NotFound(w http.ResponseWriter, _ *http.Request) {
	sendJSONError(w, http.StatusNotFound, "not found")
}

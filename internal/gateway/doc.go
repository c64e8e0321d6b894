// Package gateway assembles a datagate server from its configuration.
//
// New builds one connector per configured source, the session multiplexer
// that hands each client its own capability namespace, the optional bearer
// credential check and the optional Prometheus registry, and mounts them on
// a single mux:
//
//   - <transport.path> (default /mcp): the MCP Streamable HTTP endpoint
//   - GET /health: liveness, always {"ok":true}
//   - GET /ready: {"ok":true,"sessions":N}
//   - <metrics.path> (default /metrics): exposition, when metrics.enabled
//
// Any other path answers 404 {"error":"not found"}.
//
// Run listens on transport.http_addr, or joins a tailnet through tsnet when
// tailscale.enabled is set, and blocks until its context is canceled. On
// shutdown every session is released before the connectors' pools close.
package gateway

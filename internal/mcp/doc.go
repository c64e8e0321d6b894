// Package mcp implements the Model Context Protocol message layer.
//
// # Overview
//
// An Engine answers JSON-RPC 2.0 messages against one capability namespace.
// It knows nothing about HTTP: the session package reads request bodies,
// enforces transport rules and hands parsed messages to an engine.
//
// # Methods
//
//   - initialize: negotiates the protocol version and, for stateful engines,
//     issues the session id the transport returns in Mcp-Session-Id
//   - ping: returns an empty result
//   - tools/list: lists the namespace in registration order
//   - tools/call: validates arguments against the tool's input schema and
//     runs its handler
//
// Notifications (messages without an id) never produce a reply.
//
// # Tool Execution
//
//	{
//	  "jsonrpc": "2.0",
//	  "method": "tools/call",
//	  "params": {
//	    "name": "csv_team_roster_filter_eq",
//	    "arguments": {"column": "role", "value": "engineer"}
//	  },
//	  "id": 2
//	}
//
// Unknown tools and schema violations are JSON-RPC errors (-32602). A
// handler that fails or panics produces a normal result with isError set, so
// the client sees the message as tool output.
//
// # Batches
//
// A body holding a JSON array is handled as a batch and answered with an
// array of the replies that are not notifications.
package mcp

// Package session multiplexes protocol engines over the Streamable HTTP
// transport.
//
// In stateful mode an initialize request without Mcp-Session-Id builds a fresh
// capability namespace, wraps it in an engine and files it under a new UUID.
// Later requests must carry that id; an unknown id is 404 and never creates
// anything. A background sweeper releases sessions idle past the timeout.
// Client DELETE, the sweeper and Shutdown all go through one removal path in
// which only the caller that deletes the table entry closes the engine.
//
// In stateless mode every POST builds its own engine and closes it before
// returning; GET and DELETE are 405.
package session

// Package state defines the opaque game state the session core stores.
//
// The session, history, and notification packages never look inside a
// state. They only rely on the small capability set declared here:
//   - Undoable reports whether the state may be rolled back
//   - Clone produces an independent copy for copy-on-write history
//   - A Codec serializes and deserializes states for persistence and delivery
//
// Document is the JSON-backed state used by the HTTP, WebSocket, and MCP
// transports. Any other type satisfying State can be stored by the core.
package state

// Package mcp exposes the game hub to AI agents over the Model Context
// Protocol.
//
// The Client is a thin proxy: every tool call becomes a request to the REST
// API, so an agent sees exactly what HTTP clients see.
//
// MCP Tools:
//   - create_session, get_session, list_sessions, delete_session, reload_session
//   - list_templates
//   - push_state, undo, redo
//   - connect, disconnect, poll_messages, invite
//   - hub_instructions
//
// Transport Modes:
//   - Stdio: server.ServeStdio(client.GetMCPServer())
//   - HTTP: POST JSON-RPC bodies to /mcp, answered by HandleMessage
//
// Usage:
//
//	client := mcp.NewClient("http://localhost:8080")
//	if err := server.ServeStdio(client.GetMCPServer()); err != nil {
//		log.Fatal(err)
//	}
package mcp

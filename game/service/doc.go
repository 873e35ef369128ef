// Package service is the business layer between the transports (HTTP,
// WebSocket, MCP) and the session registry.
//
// GameService works on state.Document values. A document's Players list is
// the audience of its session: every accepted push, undo, redo or reload is
// broadcast to those subscriber ids. Delivery failures are reported back in
// the MutationResult and never fail the mutation itself.
//
// Usage:
//
//	reg := session.NewRegistry(session.Config{Broker: broker, Store: store, Logger: logger})
//	svc := service.NewGameService(reg, broker, templates, logger)
//
//	info, err := svc.CreateSession(ctx, service.CreateSessionRequest{
//		Players: []string{"alice", "bob"},
//		Data:    json.RawMessage(`{"board":[]}`),
//	})
//
//	_ = svc.Connect(ctx, "alice")
//	msg, err := svc.Wait(ctx, "alice")
package service

// Package api provides the HTTP REST API for the game hub.
//
// Endpoints:
//
// Sessions:
//   - POST /api/sessions - Create a session from data or a template
//   - GET /api/sessions - List sessions (?limit=N)
//   - GET /api/sessions/{id} - Get a session
//   - DELETE /api/sessions/{id} - Delete a session
//   - POST /api/sessions/{id}/reload - Replace a session with its stored copy
//
// History:
//   - POST /api/sessions/{id}/state - Push a new state
//   - POST /api/sessions/{id}/undo - Step back
//   - POST /api/sessions/{id}/redo - Step forward
//
// Templates:
//   - GET /api/templates - List seed templates
//
// Subscribers:
//   - POST /api/subscribers/{id} - Open a mailbox
//   - DELETE /api/subscribers/{id} - Close a mailbox
//   - GET /api/subscribers/{id}/poll?timeout=5s - Wait for the next message
//   - POST /api/invites - Send an invite
//
// Other:
//   - GET /api/health
//   - GET /metrics - Prometheus metrics
//   - GET /ws?subscriber={id} - WebSocket delivery
//
// A push looks like:
//
//	{
//	  "players": ["alice", "bob"],  // optional, keeps the current players when omitted
//	  "data": {"board": [...]},
//	  "can_undo": true,
//	  "terminal": false
//	}
//
// Mutations answer with the new session view and the delivery report:
//
//	{
//	  "session": {"id": "g1", "seq": 4, "can_undo": true, ...},
//	  "notified": ["alice", "bob"],
//	  "failed": [{"subscriber_id": "bob", "reason": "not_connected", "error": "..."}]
//	}
//
// Error Handling:
//
// Errors are returned as JSON with an HTTP status derived from the error:
//
//	{"error": "session not found: g9"}
//
// 404 for unknown sessions, subscribers and templates, 409 for conflicts and
// operations the history does not allow, 400 for malformed requests, 503
// when a mailbox is full.
package api

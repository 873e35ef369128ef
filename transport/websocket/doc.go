// Package websocket delivers a subscriber's notifications over a WebSocket.
//
// Architecture:
//
// The Hub owns every open connection, keyed by subscriber id. Connecting
// registers the subscriber with the notification broker; each client then
// runs three goroutines:
//   - deliverPump waits on the subscriber's mailbox and queues each message
//   - writePump writes queued messages and keeps the connection alive with pings
//   - readPump handles inbound actions and detects the peer going away
//
// When the peer disconnects the hub unregisters the subscriber, which drops
// any undelivered messages and releases the pending wait.
//
// Message Protocol:
//
// Outgoing frames are notify.Message JSON objects, one per frame:
//
//	{"kind":"game_update","session_id":"g1","seq":4,"hash":123,"can_undo":true,"state":{...}}
//
// Incoming frames are actions:
//
//	{"action":"invite","to":"bob","session_id":"g1"}
//
// A failed action is answered with an "error" message.
//
// Usage:
//
//	hub := websocket.NewHub(gameService, logger)
//	go hub.Run(ctx)
//
//	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
//		hub.ServeWS(w, r, r.URL.Query().Get("subscriber"))
//	})
package websocket

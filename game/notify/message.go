package notify

import "encoding/json"

// Kind identifies the payload a Message carries.
type Kind string

const (
	KindGameUpdate     Kind = "game_update"
	KindInvite         Kind = "invite"
	KindError          Kind = "error"
	KindPlayersChanged Kind = "players_changed"
)

// Message is delivered to subscriber mailboxes. Messages are passed by value
// and their byte payloads are never mutated after construction.
type Message struct {
	Kind      Kind            `json:"kind"`
	SessionID string          `json:"session_id,omitempty"`
	Seq       uint64          `json:"seq,omitempty"`
	Hash      uint64          `json:"hash,omitempty"`
	CanUndo   bool            `json:"can_undo,omitempty"`
	CanRedo   bool            `json:"can_redo,omitempty"`
	State     json.RawMessage `json:"state,omitempty"`
	Invite    *Invite         `json:"invite,omitempty"`
	Error     *ErrorData      `json:"error,omitempty"`
	Players   []string        `json:"players,omitempty"`
}

// Invite asks a subscriber to join a game.
type Invite struct {
	From      string `json:"from"`
	To        string `json:"to"`
	SessionID string `json:"session_id,omitempty"`
}

// ErrorData reports a failure to a subscriber.
type ErrorData struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
}

// NewInvite builds an invite message.
func NewInvite(from, to, sessionID string) Message {
	return Message{
		Kind:      KindInvite,
		SessionID: sessionID,
		Invite:    &Invite{From: from, To: to, SessionID: sessionID},
	}
}

// NewError builds an error message.
func NewError(statusCode int, message string) Message {
	return Message{
		Kind:  KindError,
		Error: &ErrorData{StatusCode: statusCode, Message: message},
	}
}

// NewPlayersChanged builds a players_changed message.
func NewPlayersChanged(sessionID string, players []string) Message {
	return Message{
		Kind:      KindPlayersChanged,
		SessionID: sessionID,
		Players:   players,
	}
}

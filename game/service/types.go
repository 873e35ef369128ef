package service

import (
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/wricardo/mcp-training/gamehub/game/history"
	"github.com/wricardo/mcp-training/gamehub/game/notify"
	"github.com/wricardo/mcp-training/gamehub/game/session"
	"github.com/wricardo/mcp-training/gamehub/game/state"
)

// SessionInfo provides information about a game session
type SessionInfo struct {
	ID        string          `json:"id"`
	Seq       uint64          `json:"seq"`
	Hash      string          `json:"hash"`
	CanUndo   bool            `json:"can_undo"`
	CanRedo   bool            `json:"can_redo"`
	UndoDepth int             `json:"undo_depth"`
	RedoDepth int             `json:"redo_depth"`
	Players   []string        `json:"players"`
	Terminal  bool            `json:"terminal"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// MutationResult is returned by every operation that changes a session.
type MutationResult struct {
	Session  *SessionInfo      `json:"session"`
	Notified []string          `json:"notified"`
	Failed   []DeliveryFailure `json:"failed,omitempty"`
}

// DeliveryFailure describes one subscriber that did not get the update.
type DeliveryFailure struct {
	SubscriberID string `json:"subscriber_id"`
	Reason       string `json:"reason"`
	Error        string `json:"error"`
}

// CreateSessionRequest seeds a new session. ID is optional. Without Data the
// session starts from Template, or from the default template.
type CreateSessionRequest struct {
	ID       string          `json:"id,omitempty"`
	Template string          `json:"template,omitempty"`
	Players  []string        `json:"players"`
	Data     json.RawMessage `json:"data,omitempty"`
	CanUndo  bool            `json:"can_undo"`
}

// PushRequest is the next state of a session. A nil Players keeps the
// current audience.
type PushRequest struct {
	Players  []string        `json:"players,omitempty"`
	Data     json.RawMessage `json:"data"`
	CanUndo  bool            `json:"can_undo"`
	Terminal bool            `json:"terminal"`
}

// InviteRequest asks To to join SessionID on behalf of From.
type InviteRequest struct {
	From      string `json:"from"`
	To        string `json:"to"`
	SessionID string `json:"session_id,omitempty"`
}

func newSessionInfo(v session.View) *SessionInfo {
	info := &SessionInfo{
		ID:        v.ID,
		Seq:       v.Current.Seq,
		Hash:      strconv.FormatUint(v.Current.Hash, 16),
		CanUndo:   v.CanUndo,
		CanRedo:   v.CanRedo,
		UndoDepth: v.UndoDepth,
		RedoDepth: v.RedoDepth,
		CreatedAt: v.CreatedAt,
	}
	if doc := v.Document(); doc != nil {
		info.Players = doc.Players
		info.Terminal = doc.Terminal
		info.Data = doc.Data
	}
	return info
}

func newMutationResult(v session.View, audience []string, failures notify.Failures) *MutationResult {
	result := &MutationResult{Session: newSessionInfo(v), Notified: []string{}}
	failed := make(map[string]bool, len(failures))
	for _, f := range failures {
		failed[f.SubscriberID] = true
		result.Failed = append(result.Failed, DeliveryFailure{
			SubscriberID: f.SubscriberID,
			Reason:       failureReason(f.Err),
			Error:        f.Err.Error(),
		})
	}
	for _, id := range audience {
		if !failed[id] {
			result.Notified = append(result.Notified, id)
		}
	}
	return result
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, notify.ErrSubscriberNotFound):
		return "not_connected"
	case errors.Is(err, notify.ErrMailboxFull):
		return "mailbox_full"
	case errors.Is(err, notify.ErrMailboxClosed):
		return "disconnected"
	default:
		return "error"
	}
}

func audience(v session.View) []string {
	return snapshotPlayers(v.Current)
}

func snapshotPlayers(snap history.Snapshot) []string {
	if doc, ok := snap.State.(*state.Document); ok {
		return doc.Players
	}
	return nil
}

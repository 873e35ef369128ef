package session

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/wricardo/mcp-training/gamehub/game/history"
	"github.com/wricardo/mcp-training/gamehub/game/notify"
	"github.com/wricardo/mcp-training/gamehub/game/persist"
	"github.com/wricardo/mcp-training/gamehub/game/state"
)

// Handle is one live session.
type Handle struct {
	id        string
	createdAt time.Time

	mu     sync.RWMutex
	stack  *history.Stack
	worker *persist.Worker
}

// View is a consistent read of a session.
type View struct {
	ID        string
	Current   history.Snapshot
	CanUndo   bool
	CanRedo   bool
	UndoDepth int
	RedoDepth int
	CreatedAt time.Time
}

// ID returns the session id.
func (h *Handle) ID() string {
	return h.id
}

// CreatedAt returns when the handle was created or reloaded.
func (h *Handle) CreatedAt() time.Time {
	return h.createdAt
}

// CurrentAndCanUndo reads the current snapshot and the undo flag under one
// read lock.
func (h *Handle) CurrentAndCanUndo() (history.Snapshot, bool, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	current, err := h.stack.Current()
	if err != nil {
		return history.Snapshot{}, false, err
	}
	return current, h.stack.CanUndo(), nil
}

// View returns the whole read model under one read lock.
func (h *Handle) View() (View, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.viewLocked()
}

func (h *Handle) viewLocked() (View, error) {
	current, err := h.stack.Current()
	if err != nil {
		return View{}, err
	}
	undo, redo := h.stack.Depth()
	return View{
		ID:        h.id,
		Current:   current,
		CanUndo:   h.stack.CanUndo(),
		CanRedo:   h.stack.CanRedo(),
		UndoDepth: undo,
		RedoDepth: redo,
		CreatedAt: h.createdAt,
	}, nil
}

// mutate runs fn under the write lock and returns the resulting view along
// with the subscribers fn chose.
func (h *Handle) mutate(fn func(*history.Stack) ([]string, error)) (View, []string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subscribers, err := fn(h.stack)
	if err != nil {
		return View{}, nil, err
	}
	view, err := h.viewLocked()
	return view, subscribers, err
}

func (h *Handle) close() {
	if h.worker != nil {
		h.worker.Close()
	}
}

// UpdateMessage builds the game_update notification for a view. The state is
// attached only when the codec produced JSON.
func UpdateMessage(v View) notify.Message {
	msg := notify.Message{
		Kind:      notify.KindGameUpdate,
		SessionID: v.ID,
		Seq:       v.Current.Seq,
		Hash:      v.Current.Hash,
		CanUndo:   v.CanUndo,
		CanRedo:   v.CanRedo,
	}
	if raw := v.Current.Bytes(); json.Valid(raw) {
		msg.State = json.RawMessage(raw)
	}
	return msg
}

// Document returns the current state as a *state.Document, or nil when the
// session holds some other State type.
func (v View) Document() *state.Document {
	d, _ := v.Current.State.(*state.Document)
	return d
}

package history

import (
	"errors"
	"fmt"
	"slices"

	"github.com/wricardo/mcp-training/gamehub/game/state"
)

var (
	ErrInvalidOperation = errors.New("operation not allowed in current state")
	ErrCannotUndo       = fmt.Errorf("%w: current state does not allow an undo", ErrInvalidOperation)
	ErrCannotRedo       = fmt.Errorf("%w: nothing to redo", ErrInvalidOperation)
	ErrEmptyHistory     = errors.New("history has no current state")
	ErrCorruptSnapshot  = errors.New("corrupt snapshot")
)

// Checkpoint is a copy of a session's stacks taken after an accepted change.
type Checkpoint struct {
	SessionID string
	Seq       uint64
	Undo      []Snapshot
	Redo      []Snapshot
}

// Current returns the top of the undo stack.
func (c Checkpoint) Current() (Snapshot, bool) {
	if len(c.Undo) == 0 {
		return Snapshot{}, false
	}
	return c.Undo[len(c.Undo)-1], true
}

// Sink receives checkpoints. Enqueue must not block the caller.
type Sink interface {
	Enqueue(cp Checkpoint)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(cp Checkpoint)

func (f SinkFunc) Enqueue(cp Checkpoint) {
	f(cp)
}

// Stack is the undo/redo history of one session.
type Stack struct {
	sessionID string
	codec     state.Codec
	sink      Sink
	undo      []Snapshot
	redo      []Snapshot
	nextSeq   uint64
}

// New creates an empty stack. The first Push seeds it. A nil sink discards
// checkpoints.
func New(sessionID string, codec state.Codec, sink Sink) *Stack {
	if sink == nil {
		sink = SinkFunc(func(Checkpoint) {})
	}
	return &Stack{
		sessionID: sessionID,
		codec:     codec,
		sink:      sink,
		nextSeq:   1,
	}
}

// Restore rebuilds a stack from persisted snapshots. Sequence numbering
// continues after the highest restored index.
func Restore(sessionID string, codec state.Codec, sink Sink, undo, redo []Snapshot) (*Stack, error) {
	if len(undo) == 0 {
		return nil, ErrEmptyHistory
	}
	s := New(sessionID, codec, sink)
	s.undo = slices.Clone(undo)
	s.redo = slices.Clone(redo)
	for _, snap := range slices.Concat(undo, redo) {
		if snap.Seq >= s.nextSeq {
			s.nextSeq = snap.Seq + 1
		}
	}
	return s, nil
}

// SessionID returns the session the stack belongs to.
func (s *Stack) SessionID() string {
	return s.sessionID
}

// Push makes st the current state and discards the redo stack.
// The stored snapshot is a clone of st.
func (s *Stack) Push(st state.State) (Snapshot, error) {
	snap, err := newSnapshot(s.nextSeq, st, s.codec)
	if err != nil {
		return Snapshot{}, fmt.Errorf("push: %w", err)
	}
	s.nextSeq++
	s.undo = append(s.undo, snap)
	s.redo = nil
	s.checkpoint()
	return snap, nil
}

// Undo moves the current snapshot to the redo stack and returns the new current.
func (s *Stack) Undo() (Snapshot, error) {
	if !s.CanUndo() {
		return Snapshot{}, ErrCannotUndo
	}
	top := s.undo[len(s.undo)-1]
	s.undo = s.undo[:len(s.undo)-1]
	s.redo = append(s.redo, top)
	s.checkpoint()
	return s.Current()
}

// Redo moves the most recently undone snapshot back onto the undo stack and
// returns it as the new current.
func (s *Stack) Redo() (Snapshot, error) {
	if !s.CanRedo() {
		return Snapshot{}, ErrCannotRedo
	}
	top := s.redo[len(s.redo)-1]
	s.redo = s.redo[:len(s.redo)-1]
	s.undo = append(s.undo, top)
	s.checkpoint()
	return top, nil
}

// Current returns the top of the undo stack.
func (s *Stack) Current() (Snapshot, error) {
	if len(s.undo) == 0 {
		return Snapshot{}, ErrEmptyHistory
	}
	return s.undo[len(s.undo)-1], nil
}

// CanUndo requires a state to fall back to and a current state that allows it.
func (s *Stack) CanUndo() bool {
	if len(s.undo) < 2 {
		return false
	}
	return s.undo[len(s.undo)-1].State.Undoable()
}

// CanRedo reports whether an undone snapshot is waiting on the redo stack.
// The seed state can never reach the redo stack because undo needs two states.
func (s *Stack) CanRedo() bool {
	return len(s.redo) > 0
}

// Depth returns the sizes of the undo and redo stacks.
func (s *Stack) Depth() (undo, redo int) {
	return len(s.undo), len(s.redo)
}

// Checkpoint returns a copy of the current stacks.
func (s *Stack) Checkpoint() Checkpoint {
	var seq uint64
	if len(s.undo) > 0 {
		seq = s.undo[len(s.undo)-1].Seq
	}
	return Checkpoint{
		SessionID: s.sessionID,
		Seq:       seq,
		Undo:      slices.Clone(s.undo),
		Redo:      slices.Clone(s.redo),
	}
}

func (s *Stack) checkpoint() {
	s.sink.Enqueue(s.Checkpoint())
}

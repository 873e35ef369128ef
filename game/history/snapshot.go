package history

import (
	"encoding/json"
	"fmt"

	"github.com/wricardo/mcp-training/gamehub/game/state"
)

// Snapshot is one immutable point in a session's history.
type Snapshot struct {
	// Seq is assigned on push and increases monotonically per session.
	Seq uint64

	// Hash is the content address of the serialized state.
	Hash uint64

	// State must be treated as read-only.
	State state.State

	raw []byte
}

// Bytes returns the serialized state. Callers must not modify it.
func (s Snapshot) Bytes() []byte {
	return s.raw
}

// IsZero reports whether s is the zero Snapshot.
func (s Snapshot) IsZero() bool {
	return s.Seq == 0 && s.State == nil
}

// State bytes travel base64-encoded so any Codec output survives the round
// trip byte for byte and still matches its hash.
type snapshotJSON struct {
	Seq   uint64 `json:"seq"`
	Hash  uint64 `json:"hash"`
	State []byte `json:"state"`
}

// MarshalJSON writes the cached serialized state without re-encoding it.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(snapshotJSON{Seq: s.Seq, Hash: s.Hash, State: s.raw})
}

// UnmarshalSnapshot rebuilds a snapshot from its JSON form and verifies that
// the state bytes still match the recorded hash.
func UnmarshalSnapshot(data []byte, codec state.Codec) (Snapshot, error) {
	var wire snapshotJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return Snapshot{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return restoreSnapshot(wire, codec)
}

func restoreSnapshot(wire snapshotJSON, codec state.Codec) (Snapshot, error) {
	if got := state.Hash(wire.State); got != wire.Hash {
		return Snapshot{}, fmt.Errorf("%w: snapshot %d hash %x, content hashes to %x", ErrCorruptSnapshot, wire.Seq, wire.Hash, got)
	}
	st, err := codec.Unmarshal(wire.State)
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot %d: %w", wire.Seq, err)
	}
	return Snapshot{
		Seq:   wire.Seq,
		Hash:  wire.Hash,
		State: st,
		raw:   wire.State,
	}, nil
}

func newSnapshot(seq uint64, st state.State, codec state.Codec) (Snapshot, error) {
	if state.IsNil(st) {
		return Snapshot{}, state.ErrNilState
	}
	owned := st.Clone()
	raw, err := codec.Marshal(owned)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		Seq:   seq,
		Hash:  state.Hash(raw),
		State: owned,
		raw:   raw,
	}, nil
}

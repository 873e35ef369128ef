package persist

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"fmt"
	"io"

	"github.com/wricardo/mcp-training/gamehub/game/history"
	"github.com/wricardo/mcp-training/gamehub/game/state"
)

// Envelope is the persisted form of a session's history.
type Envelope struct {
	SessionID string             `json:"session_id"`
	Seq       uint64             `json:"seq"`
	Undo      []history.Snapshot `json:"undo"`
	Redo      []history.Snapshot `json:"redo"`
}

// Current returns the snapshot at the top of the undo stack.
func (e Envelope) Current() (history.Snapshot, bool) {
	if len(e.Undo) == 0 {
		return history.Snapshot{}, false
	}
	return e.Undo[len(e.Undo)-1], true
}

// EncodeStats describes one encoded blob.
type EncodeStats struct {
	RawBytes        int
	CompressedBytes int
}

type envelopeJSON struct {
	SessionID string            `json:"session_id"`
	Seq       uint64            `json:"seq"`
	Undo      []json.RawMessage `json:"undo"`
	Redo      []json.RawMessage `json:"redo"`
}

// Encode serializes a checkpoint and compresses it.
func Encode(cp history.Checkpoint) ([]byte, EncodeStats, error) {
	raw, err := json.Marshal(Envelope{
		SessionID: cp.SessionID,
		Seq:       cp.Seq,
		Undo:      cp.Undo,
		Redo:      cp.Redo,
	})
	if err != nil {
		return nil, EncodeStats{}, fmt.Errorf("marshal envelope: %w", err)
	}

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, EncodeStats{}, fmt.Errorf("compress envelope: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, EncodeStats{}, fmt.Errorf("compress envelope: %w", err)
	}

	return buf.Bytes(), EncodeStats{RawBytes: len(raw), CompressedBytes: buf.Len()}, nil
}

// Header is the part of an envelope that can be read without a Codec.
type Header struct {
	SessionID string
	Seq       uint64
	UndoDepth int
	RedoDepth int
}

// ReadHeader decompresses a blob and reports its session, sequence index and
// stack depths without decoding any state.
func ReadHeader(data []byte) (Header, error) {
	raw, err := inflate(data)
	if err != nil {
		return Header{}, err
	}
	var wire envelopeJSON
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Header{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return Header{
		SessionID: wire.SessionID,
		Seq:       wire.Seq,
		UndoDepth: len(wire.Undo),
		RedoDepth: len(wire.Redo),
	}, nil
}

// Decode reverses Encode, verifying every snapshot's hash.
func Decode(data []byte, codec state.Codec) (Envelope, error) {
	raw, err := inflate(data)
	if err != nil {
		return Envelope{}, err
	}

	var wire envelopeJSON
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}

	undo, err := decodeSnapshots(wire.Undo, codec)
	if err != nil {
		return Envelope{}, fmt.Errorf("undo stack: %w", err)
	}
	redo, err := decodeSnapshots(wire.Redo, codec)
	if err != nil {
		return Envelope{}, fmt.Errorf("redo stack: %w", err)
	}

	return Envelope{
		SessionID: wire.SessionID,
		Seq:       wire.Seq,
		Undo:      undo,
		Redo:      redo,
	}, nil
}

func inflate(data []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decompress envelope: %w", err)
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("decompress envelope: %w", err)
	}
	return raw, nil
}

func decodeSnapshots(items []json.RawMessage, codec state.Codec) ([]history.Snapshot, error) {
	snaps := make([]history.Snapshot, 0, len(items))
	for _, item := range items {
		snap, err := history.UnmarshalSnapshot(item, codec)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

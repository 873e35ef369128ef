package state

import (
	"encoding/json"
	"slices"
)

// Document is a schemaless game state carried as raw JSON.
type Document struct {
	// Players lists the subscriber ids interested in this session.
	Players []string `json:"players,omitempty"`

	// Data is the game payload. The core never interprets it.
	Data json.RawMessage `json:"data,omitempty"`

	// CanUndo is the game's own verdict on whether this state may be undone.
	CanUndo bool `json:"can_undo"`

	// Terminal marks a finished game.
	Terminal bool `json:"terminal,omitempty"`
}

// DocumentCodec is the codec used for Document sessions.
type DocumentCodec = JSONCodec[*Document]

// Undoable reports the game's CanUndo verdict.
func (d *Document) Undoable() bool {
	return d.CanUndo
}

// Clone returns a deep copy; Players and Data do not share backing arrays.
func (d *Document) Clone() State {
	c := *d
	c.Players = slices.Clone(d.Players)
	c.Data = slices.Clone(d.Data)
	return &c
}

// IsTerminal reports whether the game has ended.
func (d *Document) IsTerminal() bool {
	return d.Terminal
}

// HasPlayer reports whether id is one of the players.
func (d *Document) HasPlayer(id string) bool {
	return slices.Contains(d.Players, id)
}

package state

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDocumentClone(t *testing.T) {
	doc := &Document{
		Players: []string{"u1", "u2"},
		Data:    json.RawMessage(`{"turn":1}`),
		CanUndo: true,
	}

	clone := doc.Clone().(*Document)
	require.Equal(t, doc, clone)

	clone.Players[0] = "changed"
	clone.Data[2] = 'X'
	require.Equal(t, "u1", doc.Players[0], "clone must not share players")
	require.Equal(t, `{"turn":1}`, string(doc.Data), "clone must not share data")
}

func TestDocumentCodecRoundTrip(t *testing.T) {
	codec := DocumentCodec{}
	doc := &Document{
		Players:  []string{"u1"},
		Data:     json.RawMessage(`{"board":[1,2,3]}`),
		CanUndo:  true,
		Terminal: true,
	}

	data, err := codec.Marshal(doc)
	require.NoError(t, err)

	decoded, err := codec.Unmarshal(data)
	require.NoError(t, err)
	require.Equal(t, doc, decoded)
	require.True(t, decoded.(*Document).IsTerminal())
}

func TestCodecRejectsNil(t *testing.T) {
	codec := DocumentCodec{}

	t.Run("marshal nil interface", func(t *testing.T) {
		_, err := codec.Marshal(nil)
		require.ErrorIs(t, err, ErrNilState)
	})

	t.Run("marshal typed nil", func(t *testing.T) {
		var doc *Document
		_, err := codec.Marshal(doc)
		require.ErrorIs(t, err, ErrNilState)
	})

	t.Run("unmarshal null", func(t *testing.T) {
		_, err := codec.Unmarshal([]byte("null"))
		require.ErrorIs(t, err, ErrNilState)
	})

	t.Run("unmarshal garbage", func(t *testing.T) {
		_, err := codec.Unmarshal([]byte("{"))
		require.Error(t, err)
	})
}

func TestHashIsContentAddressed(t *testing.T) {
	a := Hash([]byte(`{"a":1}`))
	b := Hash([]byte(`{"a":1}`))
	c := Hash([]byte(`{"a":2}`))

	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
}

func TestDocumentHasPlayer(t *testing.T) {
	doc := &Document{Players: []string{"u1", "u2"}}
	require.True(t, doc.HasPlayer("u2"))
	require.False(t, doc.HasPlayer("u3"))
}

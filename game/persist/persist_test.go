package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/wricardo/mcp-training/gamehub/game/history"
	"github.com/wricardo/mcp-training/gamehub/game/state"
)

func doc(n int) *state.Document {
	return &state.Document{
		Players: []string{"alice", "bob"},
		Data:    json.RawMessage(fmt.Sprintf(`{"turn":%d}`, n)),
		CanUndo: true,
	}
}

// checkpoints pushes n documents and returns the checkpoint after each push.
func checkpoints(t *testing.T, sessionID string, n int) []history.Checkpoint {
	t.Helper()
	var out []history.Checkpoint
	stack := history.New(sessionID, state.DocumentCodec{}, history.SinkFunc(func(cp history.Checkpoint) {
		out = append(out, cp)
	}))
	for i := 0; i < n; i++ {
		_, err := stack.Push(doc(i))
		require.NoError(t, err)
	}
	return out
}

type recordingStore struct {
	mu    sync.Mutex
	seqs  []uint64
	blobs map[string][]byte
	fail  func(seq int) error
	calls int
}

func (r *recordingStore) Save(ctx context.Context, sessionID string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.fail != nil {
		if err := r.fail(r.calls); err != nil {
			return err
		}
	}
	env, err := Decode(data, state.DocumentCodec{})
	if err != nil {
		return err
	}
	r.seqs = append(r.seqs, env.Seq)
	if r.blobs == nil {
		r.blobs = make(map[string][]byte)
	}
	r.blobs[sessionID] = data
	return nil
}

func (r *recordingStore) saved() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.seqs...)
}

// gatedStore blocks every Save until release is closed.
type gatedStore struct {
	recordingStore
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedStore() *gatedStore {
	return &gatedStore{started: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedStore) Save(ctx context.Context, sessionID string, data []byte) error {
	g.once.Do(func() { close(g.started) })
	<-g.release
	return g.recordingStore.Save(ctx, sessionID, data)
}

func TestEncodeDecode(t *testing.T) {
	cps := checkpoints(t, "g1", 3)
	cp := cps[len(cps)-1]

	blob, stats, err := Encode(cp)
	require.NoError(t, err)
	require.Equal(t, len(blob), stats.CompressedBytes)
	require.Greater(t, stats.RawBytes, 0)

	env, err := Decode(blob, state.DocumentCodec{})
	require.NoError(t, err)
	require.Equal(t, "g1", env.SessionID)
	require.Equal(t, uint64(3), env.Seq)
	require.Len(t, env.Undo, 3)
	require.Empty(t, env.Redo)

	for i, snap := range env.Undo {
		require.Equal(t, cp.Undo[i].Seq, snap.Seq)
		require.Equal(t, cp.Undo[i].Hash, snap.Hash)
		require.Equal(t, cp.Undo[i].Bytes(), snap.Bytes())
	}

	current, ok := env.Current()
	require.True(t, ok)
	require.JSONEq(t, `{"turn":2}`, string(current.State.(*state.Document).Data))
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte("not zlib"), state.DocumentCodec{})
	require.Error(t, err)
}

func TestWorkerSavesInOrder(t *testing.T) {
	store := &recordingStore{}
	w := NewWorker("g1", store, 8, zerolog.Nop())

	for _, cp := range checkpoints(t, "g1", 5) {
		w.Enqueue(cp)
	}
	w.Close()

	require.Equal(t, []uint64{1, 2, 3, 4, 5}, store.saved())
}

func TestWorkerContinuesAfterFailure(t *testing.T) {
	store := &recordingStore{fail: func(call int) error {
		if call == 2 {
			return errors.New("disk full")
		}
		return nil
	}}
	w := NewWorker("g1", store, 8, zerolog.Nop())

	for _, cp := range checkpoints(t, "g1", 3) {
		w.Enqueue(cp)
	}
	w.Close()

	require.Equal(t, []uint64{1, 3}, store.saved())
}

func TestWorkerDropsOldestWhenFull(t *testing.T) {
	store := newGatedStore()
	w := NewWorker("g1", store, 2, zerolog.Nop())
	cps := checkpoints(t, "g1", 5)

	w.Enqueue(cps[0])
	select {
	case <-store.started:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never picked up the first checkpoint")
	}

	// Queue holds two: 2 and 3 are pushed out by 4 and 5.
	for _, cp := range cps[1:] {
		w.Enqueue(cp)
	}
	require.Equal(t, 2, w.Pending())

	close(store.release)
	w.Close()

	require.Equal(t, []uint64{1, 4, 5}, store.saved())
}

func TestWorkerOnSaved(t *testing.T) {
	saved := make(chan uint64, 4)
	w := NewWorker("g1", NewMemoryStore(), 4, zerolog.Nop(), WithOnSaved(func(cp history.Checkpoint) {
		saved <- cp.Seq
	}))
	defer w.Close()

	cps := checkpoints(t, "g1", 1)
	w.Enqueue(cps[0])

	select {
	case seq := <-saved:
		require.Equal(t, uint64(1), seq)
	case <-time.After(2 * time.Second):
		t.Fatal("checkpoint was not saved")
	}
}

func TestWorkerEnqueueAfterClose(t *testing.T) {
	store := NewMemoryStore()
	w := NewWorker("g1", store, 4, zerolog.Nop())
	w.Close()
	w.Close()

	w.Enqueue(checkpoints(t, "g1", 1)[0])
	require.Equal(t, 0, store.Saves("g1"))
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Load(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	data := []byte("blob")
	require.NoError(t, store.Save(ctx, "b", data))
	require.NoError(t, store.Save(ctx, "a", []byte("other")))
	data[0] = 'X'

	got, err := store.Load(ctx, "b")
	require.NoError(t, err)
	require.Equal(t, []byte("blob"), got)

	ids, err := store.List(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, ids)

	require.NoError(t, store.Delete(ctx, "a"))
	require.ErrorIs(t, store.Delete(ctx, "a"), ErrNotFound)
	ids, err = store.List(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, ids)
}

func TestReadHeader(t *testing.T) {
	cps := checkpoints(t, "g9", 2)
	blob, _, err := Encode(cps[1])
	require.NoError(t, err)

	header, err := ReadHeader(blob)
	require.NoError(t, err)
	require.Equal(t, Header{SessionID: "g9", Seq: 2, UndoDepth: 2}, header)
}

package session

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
	"github.com/wricardo/mcp-training/gamehub/game/notify"
	"github.com/wricardo/mcp-training/gamehub/game/persist"
	"github.com/wricardo/mcp-training/gamehub/game/state"
)

func doc(label string) *state.Document {
	return &state.Document{
		Players: []string{"u1", "u2"},
		Data:    json.RawMessage(fmt.Sprintf(`{"label":%q}`, label)),
		CanUndo: true,
	}
}

func label(t *testing.T, snap history.Snapshot) string {
	t.Helper()
	var v struct {
		Label string `json:"label"`
	}
	require.NoError(t, json.Unmarshal(snap.State.(*state.Document).Data, &v))
	return v.Label
}

func newTestRegistry(t *testing.T, store persist.SessionStore) *Registry {
	t.Helper()
	reg := NewRegistry(Config{
		Broker: notify.NewBroker(8, zerolog.Nop()),
		Store:  store,
		Codec:  state.DocumentCodec{},
		Logger: zerolog.Nop(),
	})
	t.Cleanup(reg.Close)
	return reg
}

func TestCreate(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t, nil)

	t.Run("seeds the history", func(t *testing.T) {
		h, err := reg.Create(ctx, "g1", doc("S0"))
		require.NoError(t, err)
		require.Equal(t, "g1", h.ID())

		view, err := h.View()
		require.NoError(t, err)
		require.Equal(t, "S0", label(t, view.Current))
		require.Equal(t, uint64(1), view.Current.Seq)
		require.False(t, view.CanUndo)
		require.False(t, view.CanRedo)
	})

	t.Run("duplicate id", func(t *testing.T) {
		_, err := reg.Create(ctx, "g1", doc("again"))
		require.ErrorIs(t, err, ErrSessionAlreadyExists)

		view, err := reg.View("g1")
		require.NoError(t, err)
		require.Equal(t, "S0", label(t, view.Current))
	})

	t.Run("generated id", func(t *testing.T) {
		h, err := reg.Create(ctx, "", doc("x"))
		require.NoError(t, err)
		require.NotEmpty(t, h.ID())
	})

	t.Run("nil state", func(t *testing.T) {
		_, err := reg.Create(ctx, "nil", nil)
		require.ErrorIs(t, err, state.ErrNilState)
		_, err = reg.Get("nil")
		require.ErrorIs(t, err, ErrSessionNotFound)
	})

	require.Equal(t, 2, reg.Count())
}

func TestGetUnknown(t *testing.T) {
	reg := newTestRegistry(t, nil)

	_, err := reg.Get("missing")
	require.ErrorIs(t, err, ErrSessionNotFound)

	_, _, err = reg.CurrentAndCanUndo("missing")
	require.ErrorIs(t, err, ErrSessionNotFound)

	_, _, err = reg.PushAndBroadcast(context.Background(), "missing", doc("x"), nil)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestUndoRedoScenario(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t, nil)

	_, err := reg.Create(ctx, "g1", doc("S0"))
	require.NoError(t, err)
	_, _, err = reg.PushAndBroadcast(ctx, "g1", doc("S1"), nil)
	require.NoError(t, err)
	pushed, _, err := reg.PushAndBroadcast(ctx, "g1", doc("S2"), nil)
	require.NoError(t, err)

	view, _, err := reg.UndoAndBroadcast(ctx, "g1", nil)
	require.NoError(t, err)
	require.Equal(t, "S1", label(t, view.Current))
	require.True(t, view.CanRedo)

	view, _, err = reg.RedoAndBroadcast(ctx, "g1", nil)
	require.NoError(t, err)
	require.Equal(t, "S2", label(t, view.Current))
	require.Equal(t, pushed.Current.Seq, view.Current.Seq)
	require.False(t, view.CanRedo)
	require.True(t, view.CanUndo)

	_, _, err = reg.RedoAndBroadcast(ctx, "g1", nil)
	require.ErrorIs(t, err, history.ErrInvalidOperation)
}

func TestCurrentAndCanUndo(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t, nil)

	_, err := reg.Create(ctx, "g1", doc("S0"))
	require.NoError(t, err)

	current, canUndo, err := reg.CurrentAndCanUndo("g1")
	require.NoError(t, err)
	require.Equal(t, "S0", label(t, current))
	require.False(t, canUndo)

	_, _, err = reg.PushAndBroadcast(ctx, "g1", doc("S1"), nil)
	require.NoError(t, err)

	current, canUndo, err = reg.CurrentAndCanUndo("g1")
	require.NoError(t, err)
	require.Equal(t, "S1", label(t, current))
	require.True(t, canUndo)
}

func TestPushBroadcastsAfterUnlock(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t, nil)
	broker := reg.Broker()

	require.NoError(t, broker.Register("u1"))
	_, err := reg.Create(ctx, "g1", doc("S0"))
	require.NoError(t, err)

	received := make(chan notify.Message, 1)
	go func() {
		msg, err := broker.WaitNext(ctx, "u1")
		if err == nil {
			received <- msg
		}
	}()

	view, failures, err := reg.PushAndBroadcast(ctx, "g1", doc("S1"), []string{"u1", "u2"})
	require.NoError(t, err)
	require.Equal(t, []string{"u2"}, failures.IDs())
	require.ErrorIs(t, failures[0].Err, notify.ErrSubscriberNotFound)

	select {
	case msg := <-received:
		require.Equal(t, notify.KindGameUpdate, msg.Kind)
		require.Equal(t, "g1", msg.SessionID)
		require.Equal(t, view.Current.Seq, msg.Seq)
		require.Equal(t, view.Current.Hash, msg.Hash)
		require.True(t, msg.CanUndo)
		require.JSONEq(t, string(view.Current.Bytes()), string(msg.State))
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber was not woken")
	}
}

func TestMailboxFullDoesNotFailPush(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(Config{Broker: notify.NewBroker(1, zerolog.Nop()), Logger: zerolog.Nop()})
	t.Cleanup(reg.Close)

	require.NoError(t, reg.Broker().Register("slow"))
	_, err := reg.Create(ctx, "g1", doc("S0"))
	require.NoError(t, err)

	_, failures, err := reg.PushAndBroadcast(ctx, "g1", doc("S1"), []string{"slow"})
	require.NoError(t, err)
	require.Empty(t, failures)

	view, failures, err := reg.PushAndBroadcast(ctx, "g1", doc("S2"), []string{"slow"})
	require.NoError(t, err)
	require.Len(t, failures, 1)
	require.ErrorIs(t, failures[0].Err, notify.ErrMailboxFull)
	require.Equal(t, "S2", label(t, view.Current))
}

func TestConcurrentPushes(t *testing.T) {
	ctx := context.Background()
	store := persist.NewMemoryStore()
	reg := newTestRegistry(t, store)

	_, err := reg.Create(ctx, "g1", doc("seed"))
	require.NoError(t, err)

	const n = 50
	errs := make(chan error, 2*n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := reg.PushAndBroadcast(ctx, "g1", doc(fmt.Sprintf("p%d", i)), nil)
			errs <- err
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			_, _, err := reg.CurrentAndCanUndo("g1")
			errs <- err
		}
	}()

	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	h, err := reg.Get("g1")
	require.NoError(t, err)

	h.mu.RLock()
	cp := h.stack.Checkpoint()
	h.mu.RUnlock()

	require.Len(t, cp.Undo, n+1)
	for i, snap := range cp.Undo {
		require.Equal(t, uint64(i+1), snap.Seq)
	}

	// Close drains the worker and keeps the persisted copy.
	reg.Close()
	blob, err := store.Load(ctx, "g1")
	require.NoError(t, err)
	header, err := persist.ReadHeader(blob)
	require.NoError(t, err)
	require.Equal(t, uint64(n+1), header.Seq)
}

func TestConcurrentSessionsIndependent(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t, nil)

	const sessions, pushes = 8, 20
	errs := make(chan error, sessions*pushes)
	var wg sync.WaitGroup
	for s := 0; s < sessions; s++ {
		id := fmt.Sprintf("g%d", s)
		_, err := reg.Create(ctx, id, doc("seed"))
		require.NoError(t, err)

		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < pushes; i++ {
				_, _, err := reg.PushAndBroadcast(ctx, id, doc(fmt.Sprintf("%s-%d", id, i)), nil)
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	for _, id := range reg.List() {
		view, err := reg.View(id)
		require.NoError(t, err)
		require.Equal(t, pushes+1, view.UndoDepth)
		require.Equal(t, fmt.Sprintf("%s-%d", id, pushes-1), label(t, view.Current))
	}
}

func TestBroadcast(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t, nil)
	require.NoError(t, reg.Broker().Register("u1"))

	_, err := reg.Broadcast("missing", notify.NewPlayersChanged("missing", nil), []string{"u1"})
	require.ErrorIs(t, err, ErrSessionNotFound)

	_, err = reg.Create(ctx, "g1", doc("S0"))
	require.NoError(t, err)

	failures, err := reg.Broadcast("g1", notify.NewInvite("u2", "u1", ""), []string{"u1"})
	require.NoError(t, err)
	require.Empty(t, failures)

	msg, err := reg.Broker().WaitNext(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, notify.KindInvite, msg.Kind)
	require.Equal(t, "g1", msg.SessionID)
}

func TestDeleteAndList(t *testing.T) {
	ctx := context.Background()
	store := persist.NewMemoryStore()
	reg := newTestRegistry(t, store)

	for _, id := range []string{"b", "a", "c"} {
		_, err := reg.Create(ctx, id, doc(id))
		require.NoError(t, err)
	}
	require.Equal(t, []string{"a", "b", "c"}, reg.List())

	require.NoError(t, reg.Delete(ctx, "b"))
	require.ErrorIs(t, reg.Delete(ctx, "b"), ErrSessionNotFound)
	require.Equal(t, []string{"a", "c"}, reg.List())
	require.Equal(t, 2, reg.Count())

	_, err := store.Load(ctx, "b")
	require.ErrorIs(t, err, persist.ErrNotFound)
	_, err = store.Load(ctx, "a")
	require.NoError(t, err)
}

func TestDeleteRemovesPersistedSession(t *testing.T) {
	ctx := context.Background()
	store, err := persist.NewFileStore(t.TempDir())
	require.NoError(t, err)

	first := newTestRegistry(t, store)
	for _, id := range []string{"g1", "g2"} {
		_, err := first.Create(ctx, id, doc("S0"))
		require.NoError(t, err)
	}
	_, _, err = first.PushAndBroadcast(ctx, "g1", doc("S1"), nil)
	require.NoError(t, err)
	require.NoError(t, first.Delete(ctx, "g1"))

	t.Run("reload on the same registry", func(t *testing.T) {
		_, _, err := first.Reload(ctx, "g1", nil)
		require.ErrorIs(t, err, ErrSessionNotFound)
	})

	first.Close()

	t.Run("restart", func(t *testing.T) {
		second := newTestRegistry(t, store)
		loaded, err := second.LoadAll(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, loaded)
		require.Equal(t, []string{"g2"}, second.List())
	})
}

func TestDeleteWithoutStore(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t, nil)
	_, err := reg.Create(ctx, "g1", doc("S0"))
	require.NoError(t, err)
	require.NoError(t, reg.Delete(ctx, "g1"))
	require.Zero(t, reg.Count())
}

func TestPushFuncSeesLatestState(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t, nil)
	_, err := reg.Create(ctx, "g1", doc("S0"))
	require.NoError(t, err)

	errStale := errors.New("current state already finished")
	entered := make(chan struct{})
	release := make(chan struct{})

	first := make(chan error, 1)
	go func() {
		_, _, err := reg.PushFuncAndBroadcast(ctx, "g1", func(current history.Snapshot) (state.State, []string, error) {
			close(entered)
			<-release
			next := doc("final")
			next.Terminal = true
			return next, nil, nil
		})
		first <- err
	}()
	<-entered

	// The second push starts while the first one holds the session.
	second := make(chan error, 1)
	var seen []string
	go func() {
		_, _, err := reg.PushFuncAndBroadcast(ctx, "g1", func(current history.Snapshot) (state.State, []string, error) {
			d := current.State.(*state.Document)
			seen = append(seen, string(d.Data))
			if d.Terminal {
				return nil, nil, errStale
			}
			return doc("late"), nil, nil
		})
		second <- err
	}()

	time.Sleep(20 * time.Millisecond)
	close(release)

	require.NoError(t, <-first)
	require.ErrorIs(t, <-second, errStale)
	require.Equal(t, []string{`{"label":"final"}`}, seen)

	view, err := reg.View("g1")
	require.NoError(t, err)
	require.Equal(t, "final", label(t, view.Current))
	require.Equal(t, 2, view.UndoDepth)
}

func TestUndoAudienceFromPreviousState(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t, nil)
	for _, id := range []string{"u1", "u3"} {
		require.NoError(t, reg.Broker().Register(id))
	}

	_, err := reg.Create(ctx, "g1", doc("S0"))
	require.NoError(t, err)
	next := doc("S1")
	next.Players = []string{"u3"}
	_, _, err = reg.PushAndBroadcast(ctx, "g1", next, nil)
	require.NoError(t, err)

	audience := func(before history.Snapshot) []string {
		return before.State.(*state.Document).Players
	}
	view, failures, err := reg.UndoAndBroadcastTo(ctx, "g1", audience)
	require.NoError(t, err)
	require.Empty(t, failures)
	require.Equal(t, "S0", label(t, view.Current))

	msg, err := reg.Broker().WaitNext(ctx, "u3")
	require.NoError(t, err)
	require.Equal(t, view.Current.Seq, msg.Seq)
	quiet, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = reg.Broker().WaitNext(quiet, "u1")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	view, failures, err = reg.RedoAndBroadcastTo(ctx, "g1", audience)
	require.NoError(t, err)
	require.Equal(t, []string{"u2"}, failures.IDs())
	require.Equal(t, "S1", label(t, view.Current))
}

func TestReload(t *testing.T) {
	ctx := context.Background()
	store := persist.NewMemoryStore()

	first := NewRegistry(Config{Store: store, Logger: zerolog.Nop()})
	_, err := first.Create(ctx, "g1", doc("S0"))
	require.NoError(t, err)
	_, _, err = first.PushAndBroadcast(ctx, "g1", doc("S1"), nil)
	require.NoError(t, err)
	_, _, err = first.PushAndBroadcast(ctx, "g1", doc("S2"), nil)
	require.NoError(t, err)
	_, _, err = first.UndoAndBroadcast(ctx, "g1", nil)
	require.NoError(t, err)
	first.Close()

	_, err = first.Create(ctx, "late", doc("x"))
	require.ErrorIs(t, err, ErrRegistryClosed)

	second := newTestRegistry(t, store)
	require.NoError(t, second.Broker().Register("u1"))

	t.Run("restores both stacks", func(t *testing.T) {
		view, failures, err := second.Reload(ctx, "g1", []string{"u1"})
		require.NoError(t, err)
		require.Empty(t, failures)
		require.Equal(t, "S1", label(t, view.Current))
		require.Equal(t, 2, view.UndoDepth)
		require.Equal(t, 1, view.RedoDepth)
		require.True(t, view.CanRedo)

		msg, err := second.Broker().WaitNext(ctx, "u1")
		require.NoError(t, err)
		require.Equal(t, view.Current.Seq, msg.Seq)
	})

	t.Run("already loaded", func(t *testing.T) {
		_, _, err := second.Reload(ctx, "g1", nil)
		require.ErrorIs(t, err, ErrSessionAlreadyExists)
	})

	t.Run("unknown", func(t *testing.T) {
		_, _, err := second.Reload(ctx, "nope", nil)
		require.ErrorIs(t, err, ErrSessionNotFound)
	})

	t.Run("sequence continues after reload", func(t *testing.T) {
		view, _, err := second.RedoAndBroadcast(ctx, "g1", nil)
		require.NoError(t, err)
		require.Equal(t, "S2", label(t, view.Current))

		view, _, err = second.PushAndBroadcast(ctx, "g1", doc("S3"), nil)
		require.NoError(t, err)
		require.Equal(t, uint64(4), view.Current.Seq)
	})
}

func TestReloadWithoutLoader(t *testing.T) {
	reg := newTestRegistry(t, nil)
	_, _, err := reg.Reload(context.Background(), "g1", nil)
	require.ErrorIs(t, err, ErrNoLoader)
}

func TestLoadAll(t *testing.T) {
	ctx := context.Background()
	store := persist.NewMemoryStore()

	first := NewRegistry(Config{Store: store, Logger: zerolog.Nop()})
	for _, id := range []string{"a", "b"} {
		_, err := first.Create(ctx, id, doc(id))
		require.NoError(t, err)
	}
	first.Close()
	require.NoError(t, store.Save(ctx, "broken", []byte("garbage")))

	second := newTestRegistry(t, store)
	_, err := second.Create(ctx, "a", doc("live"))
	require.NoError(t, err)

	loaded, err := second.LoadAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, loaded)
	require.Equal(t, []string{"a", "b"}, second.List())

	view, err := second.View("a")
	require.NoError(t, err)
	require.Equal(t, "live", label(t, view.Current))
}

func TestUpdateMessageSkipsNonJSON(t *testing.T) {
	view := View{ID: "g1", Current: history.Snapshot{Seq: 3}}
	msg := UpdateMessage(view)
	require.Equal(t, notify.KindGameUpdate, msg.Kind)
	require.Nil(t, msg.State)
}

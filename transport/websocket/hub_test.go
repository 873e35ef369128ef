package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/wricardo/mcp-training/gamehub/game/notify"
	"github.com/wricardo/mcp-training/gamehub/game/service"
	"github.com/wricardo/mcp-training/gamehub/game/session"
)

type testEnv struct {
	hub    *Hub
	svc    service.GameService
	broker *notify.Broker
	server *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	broker := notify.NewBroker(16, zerolog.Nop())
	reg := session.NewRegistry(session.Config{Broker: broker, Logger: zerolog.Nop()})
	svc := service.NewGameService(reg, broker, nil, zerolog.Nop())
	hub := NewHub(svc, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, r.URL.Query().Get("subscriber"))
	}))

	t.Cleanup(func() {
		server.Close()
		cancel()
		reg.Close()
	})
	return &testEnv{hub: hub, svc: svc, broker: broker, server: server}
}

func (e *testEnv) dial(t *testing.T, subscriberID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "?subscriber=" + subscriberID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	// ServeWS registers before it upgrades, but the hub loop may lag.
	require.Eventually(t, func() bool { return e.hub.Count() > 0 }, time.Second, 10*time.Millisecond)
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) notify.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg notify.Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHubDeliversGameUpdates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	conn := env.dial(t, "alice")
	require.True(t, env.broker.Registered("alice"))

	_, err := env.svc.CreateSession(ctx, service.CreateSessionRequest{ID: "g1", Players: []string{"alice"}})
	require.NoError(t, err)

	result, err := env.svc.Push(ctx, "g1", service.PushRequest{Data: json.RawMessage(`{"turn":2}`), CanUndo: true})
	require.NoError(t, err)
	require.Equal(t, []string{"alice"}, result.Notified)
	require.Empty(t, result.Failed)

	msg := readMessage(t, conn)
	require.Equal(t, notify.KindGameUpdate, msg.Kind)
	require.Equal(t, "g1", msg.SessionID)
	require.Equal(t, uint64(2), msg.Seq)
	require.True(t, msg.CanUndo)
	require.JSONEq(t, `{"players":["alice"],"data":{"turn":2},"can_undo":true}`, string(msg.State))
}

func TestHubRejectsDuplicateSubscriber(t *testing.T) {
	env := newTestEnv(t)
	env.dial(t, "alice")

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "?subscriber=alice"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestHubRejectsMissingSubscriber(t *testing.T) {
	env := newTestEnv(t)

	url := "ws" + strings.TrimPrefix(env.server.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHubDisconnectsOnClose(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, "alice")

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return !env.broker.Registered("alice") && env.hub.Count() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHubUnregisteredSubscriberIsDropped(t *testing.T) {
	env := newTestEnv(t)
	env.dial(t, "alice")

	// Disconnecting through another transport ends the socket too.
	require.NoError(t, env.svc.Disconnect(context.Background(), "alice"))

	require.Eventually(t, func() bool { return env.hub.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHubInviteAction(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.CreateSession(ctx, service.CreateSessionRequest{ID: "g1", Players: []string{"alice"}})
	require.NoError(t, err)

	alice := env.dial(t, "alice")
	require.NoError(t, env.svc.Connect(ctx, "bob"))

	require.NoError(t, alice.WriteJSON(Action{Action: "invite", To: "bob", SessionID: "g1"}))

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	msg, err := env.svc.Wait(waitCtx, "bob")
	require.NoError(t, err)
	require.Equal(t, notify.KindInvite, msg.Kind)
	require.Equal(t, "alice", msg.Invite.From)
	require.Equal(t, "g1", msg.Invite.SessionID)
}

func TestHubActionErrors(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, "alice")

	tests := []struct {
		name    string
		payload string
		status  int
	}{
		{name: "malformed", payload: `{nope`, status: http.StatusBadRequest},
		{name: "unknown action", payload: `{"action":"dance"}`, status: http.StatusBadRequest},
		{name: "invite offline subscriber", payload: `{"action":"invite","to":"carol"}`, status: http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(tt.payload)))
			msg := readMessage(t, conn)
			require.Equal(t, notify.KindError, msg.Kind)
			require.NotNil(t, msg.Error)
			require.Equal(t, tt.status, msg.Error.StatusCode)
		})
	}
}

func TestHubShutdownClosesClients(t *testing.T) {
	broker := notify.NewBroker(16, zerolog.Nop())
	reg := session.NewRegistry(session.Config{Broker: broker, Logger: zerolog.Nop()})
	defer reg.Close()
	svc := service.NewGameService(reg, broker, nil, zerolog.Nop())
	hub := NewHub(svc, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(runDone)
	}()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, r.URL.Query().Get("subscriber"))
	}))
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"?subscriber=alice", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, 10*time.Millisecond)

	cancel()
	<-runDone

	require.False(t, broker.Registered("alice"))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

package service

import (
	"context"
	"errors"

	"github.com/wricardo/mcp-training/gamehub/game/config"

	"github.com/wricardo/mcp-training/gamehub/game/notify"
	"github.com/wricardo/mcp-training/gamehub/game/session"
	"github.com/wricardo/mcp-training/gamehub/game/state"
)

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrGameOver       = errors.New("game is over")
)

// GameService defines all game-related operations
type GameService interface {
	// Session Management
	CreateSession(ctx context.Context, req CreateSessionRequest) (*SessionInfo, error)
	GetSession(ctx context.Context, sessionID string) (*SessionInfo, error)
	ListSessions(ctx context.Context) ([]*SessionInfo, error)
	DeleteSession(ctx context.Context, sessionID string) error
	ReloadSession(ctx context.Context, sessionID string) (*MutationResult, error)
	ListTemplates(ctx context.Context) ([]*config.TemplateInfo, error)

	// History
	Push(ctx context.Context, sessionID string, req PushRequest) (*MutationResult, error)
	Undo(ctx context.Context, sessionID string) (*MutationResult, error)
	Redo(ctx context.Context, sessionID string) (*MutationResult, error)

	// Notifications
	Connect(ctx context.Context, subscriberID string) error
	Disconnect(ctx context.Context, subscriberID string) error
	Wait(ctx context.Context, subscriberID string) (notify.Message, error)
	Invite(ctx context.Context, req InviteRequest) error
}

// SessionRegistry is the part of session.Registry the service needs.
type SessionRegistry interface {
	Create(ctx context.Context, id string, initial state.State) (*session.Handle, error)
	View(id string) (session.View, error)
	List() []string
	Delete(ctx context.Context, id string) error
	PushFuncAndBroadcast(ctx context.Context, id string, next session.NextFunc) (session.View, notify.Failures, error)
	UndoAndBroadcastTo(ctx context.Context, id string, audience session.AudienceFunc) (session.View, notify.Failures, error)
	RedoAndBroadcastTo(ctx context.Context, id string, audience session.AudienceFunc) (session.View, notify.Failures, error)
	Reload(ctx context.Context, id string, subscribers []string) (session.View, notify.Failures, error)
	Broadcast(id string, msg notify.Message, subscribers []string) (notify.Failures, error)
}

// TemplateSource supplies seed documents for new sessions.
type TemplateSource interface {
	LoadTemplate(id string) (*config.Template, error)
	ListTemplates() ([]*config.TemplateInfo, error)
	GetDefault() *config.Template
}

// Broker is the part of notify.Broker the service needs.
type Broker interface {
	Register(subscriberID string) error
	Unregister(subscriberID string) error
	Send(subscriberID string, msg notify.Message) error
	WaitNext(ctx context.Context, subscriberID string) (notify.Message, error)
}

var (
	_ SessionRegistry = (*session.Registry)(nil)
	_ Broker          = (*notify.Broker)(nil)
	_ TemplateSource  = (*config.Manager)(nil)
)

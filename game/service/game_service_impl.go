package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"github.com/wricardo/mcp-training/gamehub/game/config"
	"github.com/wricardo/mcp-training/gamehub/game/history"
	"github.com/wricardo/mcp-training/gamehub/game/notify"
	"github.com/wricardo/mcp-training/gamehub/game/session"
	"github.com/wricardo/mcp-training/gamehub/game/state"
)

// gameServiceImpl implements the GameService interface
type gameServiceImpl struct {
	sessions  SessionRegistry
	broker    Broker
	templates TemplateSource
	logger    zerolog.Logger
}

// NewGameService creates a new game service instance. templates may be nil.
func NewGameService(sessions SessionRegistry, broker Broker, templates TemplateSource, logger zerolog.Logger) GameService {
	return &gameServiceImpl{
		sessions:  sessions,
		broker:    broker,
		templates: templates,
		logger:    logger.With().Str("component", "service").Logger(),
	}
}

func (s *gameServiceImpl) CreateSession(ctx context.Context, req CreateSessionRequest) (*SessionInfo, error) {
	players, err := normalizePlayers(req.Players)
	if err != nil {
		return nil, err
	}
	doc, err := s.seedDocument(req, players)
	if err != nil {
		return nil, err
	}

	h, err := s.sessions.Create(ctx, strings.TrimSpace(req.ID), doc)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	view, err := h.View()
	if err != nil {
		return nil, err
	}
	return newSessionInfo(view), nil
}

// seedDocument picks the initial state: explicit data first, then the named
// template, then the default template.
func (s *gameServiceImpl) seedDocument(req CreateSessionRequest, players []string) (*state.Document, error) {
	if len(req.Data) > 0 || s.templates == nil {
		if req.Template != "" && s.templates == nil {
			return nil, fmt.Errorf("%w: templates are not configured", ErrInvalidRequest)
		}
		data, err := normalizeData(req.Data)
		if err != nil {
			return nil, err
		}
		return &state.Document{Players: players, Data: data, CanUndo: req.CanUndo}, nil
	}

	if req.Template == "" {
		return s.templates.GetDefault().Document(players), nil
	}
	tmpl, err := s.templates.LoadTemplate(req.Template)
	if err != nil {
		if errors.Is(err, config.ErrTemplateNotFound) {
			available, listErr := s.templates.ListTemplates()
			if listErr == nil && len(available) > 0 {
				ids := make([]string, 0, len(available))
				for _, t := range available {
					ids = append(ids, t.TemplateID)
				}
				return nil, fmt.Errorf("%w: template '%s' not found. Available templates: %v", ErrInvalidRequest, req.Template, ids)
			}
			return nil, fmt.Errorf("%w: template '%s' not found", ErrInvalidRequest, req.Template)
		}
		return nil, fmt.Errorf("failed to load template %s: %w", req.Template, err)
	}
	return tmpl.Document(players), nil
}

func (s *gameServiceImpl) ListTemplates(ctx context.Context) ([]*config.TemplateInfo, error) {
	if s.templates == nil {
		return []*config.TemplateInfo{}, nil
	}
	return s.templates.ListTemplates()
}

func (s *gameServiceImpl) GetSession(ctx context.Context, sessionID string) (*SessionInfo, error) {
	view, err := s.sessions.View(sessionID)
	if err != nil {
		return nil, err
	}
	return newSessionInfo(view), nil
}

func (s *gameServiceImpl) ListSessions(ctx context.Context) ([]*SessionInfo, error) {
	ids := s.sessions.List()
	infos := make([]*SessionInfo, 0, len(ids))
	for _, id := range ids {
		view, err := s.sessions.View(id)
		if err != nil {
			// Deleted between List and View.
			continue
		}
		infos = append(infos, newSessionInfo(view))
	}
	return infos, nil
}

func (s *gameServiceImpl) DeleteSession(ctx context.Context, sessionID string) error {
	return s.sessions.Delete(ctx, sessionID)
}

func (s *gameServiceImpl) ReloadSession(ctx context.Context, sessionID string) (*MutationResult, error) {
	// The audience is only known once the stored state is decoded, so the
	// registry broadcasts to nobody and the service notifies afterwards.
	view, _, err := s.sessions.Reload(ctx, sessionID, nil)
	if err != nil {
		return nil, err
	}
	players := audience(view)
	failures, err := s.sessions.Broadcast(sessionID, session.UpdateMessage(view), players)
	if err != nil {
		return nil, err
	}
	return newMutationResult(view, players, failures), nil
}

func (s *gameServiceImpl) Push(ctx context.Context, sessionID string, req PushRequest) (*MutationResult, error) {
	data, err := normalizeData(req.Data)
	if err != nil {
		return nil, err
	}

	// The game-over check and player inheritance read the state being replaced,
	// so they run inside the push.
	var (
		before  []string
		hadPrev bool
	)
	view, failures, err := s.sessions.PushFuncAndBroadcast(ctx, sessionID, func(current history.Snapshot) (state.State, []string, error) {
		prev, _ := current.State.(*state.Document)
		players := req.Players
		if prev != nil {
			if prev.IsTerminal() {
				return nil, nil, fmt.Errorf("%w: %w", history.ErrInvalidOperation, ErrGameOver)
			}
			before, hadPrev = prev.Players, true
			if players == nil {
				players = prev.Players
			}
		}
		players, err := normalizePlayers(players)
		if err != nil {
			return nil, nil, err
		}
		return &state.Document{
			Players:  players,
			Data:     data,
			CanUndo:  req.CanUndo,
			Terminal: req.Terminal,
		}, players, nil
	})
	if err != nil {
		return nil, err
	}

	players := audience(view)
	if hadPrev && !slices.Equal(before, players) {
		s.playersChanged(sessionID, before, players)
	}
	return newMutationResult(view, players, failures), nil
}

func (s *gameServiceImpl) Undo(ctx context.Context, sessionID string) (*MutationResult, error) {
	// Undo and redo notify whoever the session belonged to before the change.
	var players []string
	view, failures, err := s.sessions.UndoAndBroadcastTo(ctx, sessionID, func(before history.Snapshot) []string {
		players = snapshotPlayers(before)
		return players
	})
	if err != nil {
		return nil, err
	}
	return newMutationResult(view, players, failures), nil
}

func (s *gameServiceImpl) Redo(ctx context.Context, sessionID string) (*MutationResult, error) {
	var players []string
	view, failures, err := s.sessions.RedoAndBroadcastTo(ctx, sessionID, func(before history.Snapshot) []string {
		players = snapshotPlayers(before)
		return players
	})
	if err != nil {
		return nil, err
	}
	return newMutationResult(view, players, failures), nil
}

func (s *gameServiceImpl) Connect(ctx context.Context, subscriberID string) error {
	if strings.TrimSpace(subscriberID) == "" {
		return fmt.Errorf("%w: subscriber id is required", ErrInvalidRequest)
	}
	return s.broker.Register(subscriberID)
}

func (s *gameServiceImpl) Disconnect(ctx context.Context, subscriberID string) error {
	return s.broker.Unregister(subscriberID)
}

func (s *gameServiceImpl) Wait(ctx context.Context, subscriberID string) (notify.Message, error) {
	return s.broker.WaitNext(ctx, subscriberID)
}

func (s *gameServiceImpl) Invite(ctx context.Context, req InviteRequest) error {
	if req.From == "" || req.To == "" {
		return fmt.Errorf("%w: from and to are required", ErrInvalidRequest)
	}
	if req.SessionID != "" {
		if _, err := s.sessions.View(req.SessionID); err != nil {
			return err
		}
	}
	return s.broker.Send(req.To, notify.NewInvite(req.From, req.To, req.SessionID))
}

// playersChanged tells everyone who was or is now in the session about the
// new player list. Delivery is best effort.
func (s *gameServiceImpl) playersChanged(sessionID string, before, after []string) {
	recipients := slices.Clone(after)
	for _, id := range before {
		if !slices.Contains(recipients, id) {
			recipients = append(recipients, id)
		}
	}
	failures, err := s.sessions.Broadcast(sessionID, notify.NewPlayersChanged(sessionID, after), recipients)
	if err != nil {
		s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("players_changed not sent")
		return
	}
	if len(failures) > 0 {
		s.logger.Debug().Str("session_id", sessionID).Strs("failed", failures.IDs()).Msg("players_changed partially delivered")
	}
}

func normalizeData(data json.RawMessage) (json.RawMessage, error) {
	if len(data) == 0 {
		return json.RawMessage(`{}`), nil
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%w: data must be valid JSON", ErrInvalidRequest)
	}
	return data, nil
}

func normalizePlayers(players []string) ([]string, error) {
	out := make([]string, 0, len(players))
	for _, p := range players {
		p = strings.TrimSpace(p)
		if p == "" {
			return nil, fmt.Errorf("%w: empty player id", ErrInvalidRequest)
		}
		if !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	return out, nil
}

// IsInvalid reports whether err is a caller mistake rather than a missing or
// conflicting resource.
func IsInvalid(err error) bool {
	return errors.Is(err, ErrInvalidRequest) || errors.Is(err, history.ErrInvalidOperation)
}

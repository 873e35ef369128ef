package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wricardo/mcp-training/gamehub/game/history"
	"github.com/wricardo/mcp-training/gamehub/game/notify"
	"github.com/wricardo/mcp-training/gamehub/game/persist"
	"github.com/wricardo/mcp-training/gamehub/game/state"
)

var (
	ErrSessionNotFound      = errors.New("session not found")
	ErrSessionAlreadyExists = errors.New("session already exists")
	ErrNoLoader             = errors.New("no session loader configured")
	ErrRegistryClosed       = errors.New("session registry closed")
)

// Config wires a Registry to its collaborators.
type Config struct {
	Broker *notify.Broker

	// Store receives checkpoints. Nil disables persistence.
	Store persist.SessionStore

	// Loader restores sessions. If nil and Store implements persist.Loader,
	// Store is used.
	Loader persist.Loader

	// Codec serializes states. Defaults to state.DocumentCodec.
	Codec state.Codec

	QueueSize int
	Logger    zerolog.Logger
}

// Registry is the process-wide map of live sessions.
type Registry struct {
	broker    *notify.Broker
	store     persist.SessionStore
	loader    persist.Loader
	codec     state.Codec
	queueSize int
	base      zerolog.Logger
	logger    zerolog.Logger
	tracer    trace.Tracer

	sessions map[string]*Handle
	closed   bool
	mu       sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config) *Registry {
	if cfg.Broker == nil {
		cfg.Broker = notify.NewBroker(notify.DefaultMailboxCapacity, cfg.Logger)
	}
	if cfg.Codec == nil {
		cfg.Codec = state.DocumentCodec{}
	}
	if cfg.Loader == nil {
		if l, ok := cfg.Store.(persist.Loader); ok {
			cfg.Loader = l
		}
	}
	return &Registry{
		broker:    cfg.Broker,
		store:     cfg.Store,
		loader:    cfg.Loader,
		codec:     cfg.Codec,
		queueSize: cfg.QueueSize,
		base:      cfg.Logger,
		logger:    cfg.Logger.With().Str("component", "session").Logger(),
		tracer:    otel.Tracer("gamehub/session"),
		sessions:  make(map[string]*Handle),
	}
}

// Broker returns the broker used for notifications.
func (r *Registry) Broker() *notify.Broker {
	return r.broker
}

// Create registers a new session seeded with initial. An empty id gets a
// generated one.
func (r *Registry) Create(ctx context.Context, id string, initial state.State) (*Handle, error) {
	if id == "" {
		id = uuid.NewString()
	}
	_, span := r.tracer.Start(ctx, "session.Create", trace.WithAttributes(attribute.String("session.id", id)))
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}
	if _, exists := r.sessions[id]; exists {
		span.SetStatus(codes.Error, "exists")
		return nil, fmt.Errorf("%w: %s", ErrSessionAlreadyExists, id)
	}

	h := r.newHandle(id)
	h.stack = history.New(id, r.codec, r.sink(h))
	if _, err := h.stack.Push(initial); err != nil {
		h.close()
		span.RecordError(err)
		span.SetStatus(codes.Error, "seed")
		return nil, fmt.Errorf("create session %s: %w", id, err)
	}

	r.sessions[id] = h
	activeSessions.Inc()
	r.logger.Info().Str("session_id", id).Int("sessions", len(r.sessions)).Msg("session created")
	return h, nil
}

// Get looks up a session.
func (r *Registry) Get(id string) (*Handle, error) {
	r.mu.RLock()
	h, exists := r.sessions[id]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return h, nil
}

// View returns a consistent read of a session.
func (r *Registry) View(id string) (View, error) {
	h, err := r.Get(id)
	if err != nil {
		return View{}, err
	}
	return h.View()
}

// CurrentAndCanUndo reads both values under the session's read lock.
func (r *Registry) CurrentAndCanUndo(id string) (history.Snapshot, bool, error) {
	h, err := r.Get(id)
	if err != nil {
		return history.Snapshot{}, false, err
	}
	return h.CurrentAndCanUndo()
}

// NextFunc derives the next state from the current snapshot, together with
// the subscribers to notify. It runs under the session's write lock; an error
// rejects the push.
type NextFunc func(current history.Snapshot) (next state.State, subscribers []string, err error)

// AudienceFunc picks the subscribers for an undo or redo from the snapshot
// that was current before it. It runs under the session's write lock.
type AudienceFunc func(before history.Snapshot) []string

// PushAndBroadcast makes st the session's current state and then notifies
// subscribers. The session lock is released before any message is sent.
// Delivery failures do not fail the push.
func (r *Registry) PushAndBroadcast(ctx context.Context, id string, st state.State, subscribers []string) (View, notify.Failures, error) {
	return r.PushFuncAndBroadcast(ctx, id, func(history.Snapshot) (state.State, []string, error) {
		return st, subscribers, nil
	})
}

// PushFuncAndBroadcast is PushAndBroadcast for states that depend on the
// current one. next sees the current snapshot with no other writer between
// that read and the push.
func (r *Registry) PushFuncAndBroadcast(ctx context.Context, id string, next NextFunc) (View, notify.Failures, error) {
	return r.mutateAndBroadcast(ctx, "push", id, func(s *history.Stack) ([]string, error) {
		current, err := s.Current()
		if err != nil {
			return nil, err
		}
		st, subscribers, err := next(current)
		if err != nil {
			return nil, err
		}
		if _, err := s.Push(st); err != nil {
			return nil, err
		}
		return subscribers, nil
	})
}

// UndoAndBroadcast steps the session back one state and notifies subscribers.
func (r *Registry) UndoAndBroadcast(ctx context.Context, id string, subscribers []string) (View, notify.Failures, error) {
	return r.UndoAndBroadcastTo(ctx, id, fixed(subscribers))
}

// UndoAndBroadcastTo is UndoAndBroadcast with the audience chosen from the
// state being undone.
func (r *Registry) UndoAndBroadcastTo(ctx context.Context, id string, audience AudienceFunc) (View, notify.Failures, error) {
	return r.mutateAndBroadcast(ctx, "undo", id, step((*history.Stack).Undo, audience))
}

// RedoAndBroadcast reapplies the last undone state and notifies subscribers.
func (r *Registry) RedoAndBroadcast(ctx context.Context, id string, subscribers []string) (View, notify.Failures, error) {
	return r.RedoAndBroadcastTo(ctx, id, fixed(subscribers))
}

// RedoAndBroadcastTo is RedoAndBroadcast with the audience chosen from the
// state current before the redo.
func (r *Registry) RedoAndBroadcastTo(ctx context.Context, id string, audience AudienceFunc) (View, notify.Failures, error) {
	return r.mutateAndBroadcast(ctx, "redo", id, step((*history.Stack).Redo, audience))
}

func fixed(subscribers []string) AudienceFunc {
	return func(history.Snapshot) []string { return subscribers }
}

func step(op func(*history.Stack) (history.Snapshot, error), audience AudienceFunc) func(*history.Stack) ([]string, error) {
	return func(s *history.Stack) ([]string, error) {
		before, err := s.Current()
		if err != nil {
			return nil, err
		}
		if _, err := op(s); err != nil {
			return nil, err
		}
		return audience(before), nil
	}
}

// mutateAndBroadcast applies fn under the session's write lock and sends the
// resulting update to the subscribers fn returned once the lock is released.
func (r *Registry) mutateAndBroadcast(ctx context.Context, op, id string, fn func(*history.Stack) ([]string, error)) (View, notify.Failures, error) {
	_, span := r.tracer.Start(ctx, "session."+op, trace.WithAttributes(attribute.String("session.id", id)))
	defer span.End()

	h, err := r.Get(id)
	if err != nil {
		span.SetStatus(codes.Error, "not found")
		return View{}, nil, err
	}

	view, subscribers, err := h.mutate(fn)
	if err != nil {
		rejectedTotal.WithLabelValues(op).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, op)
		return View{}, nil, fmt.Errorf("%s %s: %w", op, id, err)
	}
	mutationsTotal.WithLabelValues(op).Inc()
	span.SetAttributes(
		attribute.Int64("session.seq", int64(view.Current.Seq)),
		attribute.Int("subscribers", len(subscribers)),
	)

	failures := r.broker.SendMany(subscribers, UpdateMessage(view))
	if len(failures) > 0 {
		span.SetAttributes(attribute.Int("delivery.failures", len(failures)))
	}

	r.logger.Debug().
		Str("session_id", id).
		Str("op", op).
		Uint64("seq", view.Current.Seq).
		Int("undo_depth", view.UndoDepth).
		Int("redo_depth", view.RedoDepth).
		Msg("session mutated")
	return view, failures, nil
}

// Broadcast sends msg to subscribers on behalf of a session.
func (r *Registry) Broadcast(id string, msg notify.Message, subscribers []string) (notify.Failures, error) {
	if _, err := r.Get(id); err != nil {
		return nil, err
	}
	if msg.SessionID == "" {
		msg.SessionID = id
	}
	return r.broker.SendMany(subscribers, msg), nil
}

// Reload restores a session from the loader and notifies subscribers with its
// current state. It fails if the session is already live.
func (r *Registry) Reload(ctx context.Context, id string, subscribers []string) (View, notify.Failures, error) {
	ctx, span := r.tracer.Start(ctx, "session.Reload", trace.WithAttributes(attribute.String("session.id", id)))
	defer span.End()

	h, err := r.restore(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reload")
		return View{}, nil, err
	}
	view, err := h.View()
	if err != nil {
		return View{}, nil, err
	}
	return view, r.broker.SendMany(subscribers, UpdateMessage(view)), nil
}

// LoadAll restores every session the loader knows about that is not already
// live. Sessions that fail to load are logged and skipped.
func (r *Registry) LoadAll(ctx context.Context) (int, error) {
	if r.loader == nil {
		return 0, nil
	}
	ids, err := r.loader.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list persisted sessions: %w", err)
	}

	loaded := 0
	for _, id := range ids {
		if _, err := r.restore(ctx, id); err != nil {
			if errors.Is(err, ErrSessionAlreadyExists) {
				continue
			}
			r.logger.Warn().Err(err).Str("session_id", id).Msg("failed to load persisted session")
			continue
		}
		loaded++
	}

	if loaded > 0 {
		r.logger.Info().Int("loaded", loaded).Msg("loaded persisted sessions")
	}
	return loaded, nil
}

func (r *Registry) restore(ctx context.Context, id string) (*Handle, error) {
	if r.loader == nil {
		return nil, ErrNoLoader
	}
	if _, err := r.Get(id); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionAlreadyExists, id)
	}

	blob, err := r.loader.Load(ctx, id)
	if err != nil {
		if errors.Is(err, persist.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	env, err := persist.Decode(blob, r.codec)
	if err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}
	if _, exists := r.sessions[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrSessionAlreadyExists, id)
	}

	h := r.newHandle(id)
	h.stack, err = history.Restore(id, r.codec, r.sink(h), env.Undo, env.Redo)
	if err != nil {
		h.close()
		return nil, fmt.Errorf("restore session %s: %w", id, err)
	}

	r.sessions[id] = h
	activeSessions.Inc()
	r.logger.Info().Str("session_id", id).Uint64("seq", env.Seq).Msg("session reloaded")
	return h, nil
}

// Delete tears a session down. Its pending checkpoints are written first,
// then the persisted copy is removed so the session does not come back on
// the next LoadAll or Reload.
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	h, exists := r.sessions[id]
	if exists {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	activeSessions.Dec()

	// Wait out any writer still holding the session before closing the worker.
	h.mu.Lock()
	h.close()
	h.mu.Unlock()

	if d := r.deleter(); d != nil {
		if err := d.Delete(ctx, id); err != nil && !errors.Is(err, persist.ErrNotFound) {
			r.logger.Error().Err(err).Str("session_id", id).Msg("failed to delete persisted session")
			return fmt.Errorf("delete persisted session %s: %w", id, err)
		}
	}

	r.logger.Info().Str("session_id", id).Msg("session deleted")
	return nil
}

func (r *Registry) deleter() persist.Deleter {
	if d, ok := r.store.(persist.Deleter); ok {
		return d
	}
	if d, ok := r.loader.(persist.Deleter); ok {
		return d
	}
	return nil
}

// List returns the live session ids in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Close drains every session's persistence queue and empties the registry.
// Later Create and Reload calls fail with ErrRegistryClosed.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Handle)
	r.closed = true
	r.mu.Unlock()

	start := time.Now()
	var wg sync.WaitGroup
	for _, h := range sessions {
		wg.Add(1)
		go func(h *Handle) {
			defer wg.Done()
			h.mu.Lock()
			h.close()
			h.mu.Unlock()
		}(h)
		activeSessions.Dec()
	}
	wg.Wait()

	r.logger.Info().Int("sessions", len(sessions)).Dur("elapsed", time.Since(start)).Msg("session registry closed")
}

func (r *Registry) newHandle(id string) *Handle {
	h := &Handle{id: id, createdAt: time.Now()}
	if r.store != nil {
		h.worker = persist.NewWorker(id, r.store, r.queueSize, r.base)
	}
	return h
}

func (r *Registry) sink(h *Handle) history.Sink {
	if h.worker == nil {
		return nil
	}
	return h.worker
}

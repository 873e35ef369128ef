package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/wricardo/mcp-training/gamehub/game/config"
	"github.com/wricardo/mcp-training/gamehub/game/history"
	"github.com/wricardo/mcp-training/gamehub/game/notify"
	"github.com/wricardo/mcp-training/gamehub/game/persist"
	"github.com/wricardo/mcp-training/gamehub/game/service"
	"github.com/wricardo/mcp-training/gamehub/game/session"
	"github.com/wricardo/mcp-training/gamehub/transport/websocket"
)

// DefaultPollTimeout bounds a long poll when the server is not configured.
const DefaultPollTimeout = 30 * time.Second

// Server represents the REST API server
type Server struct {
	service     service.GameService
	hub         *websocket.Hub
	router      *mux.Router
	logger      zerolog.Logger
	pollTimeout time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithLogger enables access logging through logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithPollTimeout caps how long a poll request may wait.
func WithPollTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.pollTimeout = d
		}
	}
}

// NewServer creates a new API server. hub may be nil, in which case /ws is
// not served.
func NewServer(gameService service.GameService, hub *websocket.Hub, opts ...Option) *Server {
	s := &Server{
		service:     gameService,
		hub:         hub,
		router:      mux.NewRouter(),
		logger:      zerolog.Nop(),
		pollTimeout: DefaultPollTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.Use(s.accessLog)

	api := s.router.PathPrefix("/api").Subrouter()

	// Session management
	api.HandleFunc("/sessions", s.handleCreateSession).Methods("POST")
	api.HandleFunc("/sessions", s.handleListSessions).Methods("GET")
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods("GET")
	api.HandleFunc("/sessions/{id}", s.handleDeleteSession).Methods("DELETE")
	api.HandleFunc("/sessions/{id}/reload", s.handleReload).Methods("POST")

	// History
	api.HandleFunc("/sessions/{id}/state", s.handlePush).Methods("POST")
	api.HandleFunc("/sessions/{id}/undo", s.handleUndo).Methods("POST")
	api.HandleFunc("/sessions/{id}/redo", s.handleRedo).Methods("POST")

	// Templates
	api.HandleFunc("/templates", s.handleListTemplates).Methods("GET")

	// Subscribers
	api.HandleFunc("/subscribers/{id}", s.handleConnect).Methods("POST")
	api.HandleFunc("/subscribers/{id}", s.handleDisconnect).Methods("DELETE")
	api.HandleFunc("/subscribers/{id}/poll", s.handlePoll).Methods("GET")
	api.HandleFunc("/invites", s.handleInvite).Methods("POST")

	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	s.router.Handle("/metrics", promhttp.Handler())

	if s.hub != nil {
		s.router.HandleFunc("/ws", s.handleWebSocket)
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router exposes the router so other handlers can be mounted next to the API.
func (s *Server) Router() *mux.Router {
	return s.router
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	h := hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	})(next)
	return hlog.NewHandler(s.logger)(h)
}

// Response helpers
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func respondErr(w http.ResponseWriter, err error) {
	respondError(w, statusFor(err), err.Error())
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, notify.ErrSubscriberNotFound),
		errors.Is(err, config.ErrTemplateNotFound),
		errors.Is(err, persist.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrSessionAlreadyExists),
		errors.Is(err, notify.ErrSubscriberExists),
		errors.Is(err, notify.ErrConcurrentReceive),
		errors.Is(err, history.ErrInvalidOperation):
		return http.StatusConflict
	case errors.Is(err, service.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, notify.ErrMailboxFull):
		return http.StatusServiceUnavailable
	case errors.Is(err, notify.ErrMailboxClosed):
		return http.StatusGone
	case errors.Is(err, session.ErrNoLoader):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody decodes an optional JSON body. An empty body leaves dst as is.
func decodeBody(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return fmt.Errorf("%w: %v", service.ErrInvalidRequest, err)
}

// Session Handlers

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req service.CreateSessionRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	info, err := s.service.CreateSession(r.Context(), req)
	if err != nil {
		respondErr(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, info)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.service.ListSessions(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}

	total := len(sessions)
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l < len(sessions) {
			sessions = sessions[:l]
		}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(sessions),
		"total":    total,
		"sessions": sessions,
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	info, err := s.service.GetSession(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondErr(w, err)
		return
	}

	respondJSON(w, http.StatusOK, info)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	if err := s.service.DeleteSession(r.Context(), sessionID); err != nil {
		respondErr(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Session %s deleted", sessionID),
	})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.ReloadSession(r.Context(), mux.Vars(r)["id"])
	s.respondMutation(w, r, "reload", result, err)
}

// History Handlers

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	var req service.PushRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := s.service.Push(r.Context(), mux.Vars(r)["id"], req)
	s.respondMutation(w, r, "push", result, err)
}

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.Undo(r.Context(), mux.Vars(r)["id"])
	s.respondMutation(w, r, "undo", result, err)
}

func (s *Server) handleRedo(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.Redo(r.Context(), mux.Vars(r)["id"])
	s.respondMutation(w, r, "redo", result, err)
}

func (s *Server) respondMutation(w http.ResponseWriter, r *http.Request, op string, result *service.MutationResult, err error) {
	if err != nil {
		respondErr(w, err)
		return
	}

	event := hlog.FromRequest(r).Info().
		Str("op", op).
		Str("session_id", result.Session.ID).
		Uint64("seq", result.Session.Seq).
		Int("notified", len(result.Notified))
	if len(result.Failed) > 0 {
		event = event.Int("failed", len(result.Failed))
	}
	event.Msg("session mutated")

	respondJSON(w, http.StatusOK, result)
}

// Template Handlers

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.service.ListTemplates(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}

	respondJSON(w, http.StatusOK, templates)
}

// Subscriber Handlers

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	subscriberID := mux.Vars(r)["id"]

	if err := s.service.Connect(r.Context(), subscriberID); err != nil {
		respondErr(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]string{"subscriber_id": subscriberID})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	subscriberID := mux.Vars(r)["id"]

	if err := s.service.Disconnect(r.Context(), subscriberID); err != nil {
		respondErr(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Subscriber %s disconnected", subscriberID),
	})
}

// handlePoll waits for the subscriber's next message. It answers 204 when
// nothing arrives before the timeout.
func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	timeout, err := parseTimeout(r.URL.Query().Get("timeout"), s.pollTimeout)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	msg, err := s.service.Wait(ctx, mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if errors.Is(err, context.Canceled) {
			return
		}
		respondErr(w, err)
		return
	}

	respondJSON(w, http.StatusOK, msg)
}

// parseTimeout accepts a Go duration ("5s") or a number of seconds, capped
// at limit.
func parseTimeout(raw string, limit time.Duration) (time.Duration, error) {
	if raw == "" {
		return limit, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		secs, convErr := strconv.ParseFloat(raw, 64)
		if convErr != nil {
			return 0, fmt.Errorf("invalid timeout %q", raw)
		}
		d = time.Duration(secs * float64(time.Second))
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid timeout %q", raw)
	}
	return min(d, limit), nil
}

func (s *Server) handleInvite(w http.ResponseWriter, r *http.Request) {
	var req service.InviteRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := s.service.Invite(r.Context(), req); err != nil {
		respondErr(w, err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{
		"message": fmt.Sprintf("Invite sent to %s", req.To),
	})
}

// WebSocket Handler

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	subscriberID := r.URL.Query().Get("subscriber")
	if subscriberID == "" {
		http.Error(w, "subscriber parameter required", http.StatusBadRequest)
		return
	}

	s.hub.ServeWS(w, r, subscriberID)
}

// Health check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status": "healthy",
	}
	if sessions, err := s.service.ListSessions(r.Context()); err == nil {
		resp["sessions"] = len(sessions)
	}
	if s.hub != nil {
		resp["websocket_clients"] = s.hub.Count()
	}
	respondJSON(w, http.StatusOK, resp)
}

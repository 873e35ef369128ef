package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/wricardo/mcp-training/gamehub/game/config"
	"github.com/wricardo/mcp-training/gamehub/game/notify"
	"github.com/wricardo/mcp-training/gamehub/game/persist"
	"github.com/wricardo/mcp-training/gamehub/game/persist/sqlite"
	"github.com/wricardo/mcp-training/gamehub/game/service"
	"github.com/wricardo/mcp-training/gamehub/game/session"
	"github.com/wricardo/mcp-training/gamehub/transport/mcp"
)

// app holds the long-lived core shared by every transport.
type app struct {
	logger     zerolog.Logger
	broker     *notify.Broker
	registry   *session.Registry
	service    service.GameService
	closeStore func() error
}

// newApp wires the store, broker, registry and service, and restores
// persisted sessions when configured to.
func newApp(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*app, error) {
	store, closeStore, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	broker := notify.NewBroker(cfg.MailboxCapacity, logger)
	registry := session.NewRegistry(session.Config{
		Broker:    broker,
		Store:     store,
		QueueSize: cfg.PersistQueueSize,
		Logger:    logger,
	})

	if cfg.LoadOnStart {
		loaded, err := registry.LoadAll(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to load persisted sessions")
		} else {
			logger.Info().Int("sessions", loaded).Msg("restored persisted sessions")
		}
	}

	// A nil *Manager must not become a non-nil interface.
	var templates service.TemplateSource
	manager, err := config.NewManager(cfg.TemplatesDir)
	if err != nil {
		logger.Warn().Err(err).Msg("templates disabled")
	} else {
		templates = manager
	}

	return &app{
		logger:     logger,
		broker:     broker,
		registry:   registry,
		service:    service.NewGameService(registry, broker, templates, logger),
		closeStore: closeStore,
	}, nil
}

// Close stops every persistence worker, waiting for queued saves, then
// releases the store and the subscriber mailboxes.
func (a *app) Close() {
	a.registry.Close()
	a.broker.Close()
	if err := a.closeStore(); err != nil {
		a.logger.Warn().Err(err).Msg("failed to close store")
	}
}

// openStore selects the session store named by cfg.Store. The memory driver
// keeps no store at all, so mutations skip persistence.
func openStore(cfg config.Config) (persist.SessionStore, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Store {
	case config.StoreMemory:
		return nil, noop, nil
	case config.StoreFile:
		fs, err := persist.NewFileStore(cfg.SessionsDir)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to create file store: %w", err)
		}
		return fs, noop, nil
	case config.StoreSQLite:
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return db, db.Close, nil
	default:
		return nil, noop, fmt.Errorf("%w: unknown store %q", config.ErrInvalidConfig, cfg.Store)
	}
}

// newHandler mounts the API at the root and the MCP JSON-RPC endpoint at /mcp.
func newHandler(apiServer http.Handler, mcpClient *mcp.Client) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/", apiServer)

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Failed to read request", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		response := mcpClient.GetMCPServer().HandleMessage(r.Context(), body)

		w.Header().Set("Content-Type", "application/json")
		responseData, err := json.Marshal(response)
		if err != nil {
			http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
			return
		}
		w.Write(responseData)
	})

	return mux
}

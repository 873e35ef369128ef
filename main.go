// Command gamehub serves multi-session game state with undo/redo history.
//
// It supports two modes:
//  1. "serve" (default) – runs the HTTP server exposing the REST API, WebSocket, metrics and an /mcp endpoint
//  2. "mcp" – runs an MCP stdio server, reusing a running API or starting an internal one
//
// Settings come from GAMEHUB_* environment variables (and a .env file); flags
// override them.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
	"golang.ngrok.com/ngrok"
	ngrokConfig "golang.ngrok.com/ngrok/config"
	"golang.org/x/sync/errgroup"

	"github.com/wricardo/mcp-training/gamehub/api"
	"github.com/wricardo/mcp-training/gamehub/game/config"
	"github.com/wricardo/mcp-training/gamehub/telemetry"
	"github.com/wricardo/mcp-training/gamehub/transport/mcp"
	"github.com/wricardo/mcp-training/gamehub/transport/websocket"
)

// Version information
const (
	Version = "1.0.0"
	AppName = "gamehub"
)

func main() {
	// Load .env file if it exists (ignore error if not found)
	envErr := godotenv.Load()

	cmd := newCommand()
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", AppName, err)
		os.Exit(1)
	}
	if envErr != nil && !os.IsNotExist(envErr) {
		log.Warn().Err(envErr).Msg("error loading .env file")
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:    AppName,
		Usage:   "multi-session game state server with undo/redo and notifications",
		Version: Version,
		Flags:   globalFlags(),
		Action:  runServe,
		Commands: []*cli.Command{
			{
				Name:    "serve",
				Aliases: []string{"server", "http"},
				Usage:   "Run HTTP server with API, WebSocket, metrics and MCP endpoint",
				Action:  runServe,
			},
			{
				Name:    "mcp",
				Aliases: []string{"stdio-mcp", "mcp-stdio"},
				Usage:   "Run MCP stdio server backed by a running or internal HTTP server",
				Action:  runMCP,
			},
		},
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "host", Usage: "HTTP server host (GAMEHUB_HOST)"},
		&cli.IntFlag{Name: "port", Usage: "HTTP server port (GAMEHUB_PORT)"},
		&cli.BoolFlag{Name: "debug", Usage: "Enable debug logging"},
		&cli.BoolFlag{Name: "pretty", Usage: "Human readable logs (GAMEHUB_LOG_PRETTY)"},
		&cli.StringFlag{Name: "store", Usage: "Session store: memory, file or sqlite (GAMEHUB_STORE)"},
		&cli.StringFlag{Name: "sessions-dir", Usage: "Directory for the file store (GAMEHUB_SESSIONS_DIR)"},
		&cli.StringFlag{Name: "sqlite-path", Usage: "Database path for the sqlite store (GAMEHUB_SQLITE_PATH)"},
		&cli.StringFlag{Name: "templates-dir", Usage: "Directory containing session templates (GAMEHUB_TEMPLATES_DIR)"},
		&cli.BoolFlag{Name: "ngrok", Usage: "Enable ngrok tunnel (NGROK_ENABLED)"},
		&cli.StringFlag{Name: "ngrok-domain", Usage: "Custom ngrok domain (NGROK_DOMAIN)"},
	}
}

// loadConfig reads the environment and applies flags that were set.
func loadConfig(cmd *cli.Command) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}

	if cmd.IsSet("host") {
		cfg.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Port = int(cmd.Int("port"))
	}
	if cmd.Bool("debug") {
		cfg.LogLevel = zerolog.DebugLevel.String()
	}
	if cmd.IsSet("pretty") {
		cfg.LogPretty = cmd.Bool("pretty")
	}
	if cmd.IsSet("store") {
		cfg.Store = cmd.String("store")
	}
	if cmd.IsSet("sessions-dir") {
		cfg.SessionsDir = cmd.String("sessions-dir")
	}
	if cmd.IsSet("sqlite-path") {
		cfg.SQLitePath = cmd.String("sqlite-path")
	}
	if cmd.IsSet("templates-dir") {
		cfg.TemplatesDir = cmd.String("templates-dir")
	}
	if cmd.IsSet("ngrok") {
		cfg.NgrokEnabled = cmd.Bool("ngrok")
	}
	if cmd.IsSet("ngrok-domain") {
		cfg.NgrokDomain = cmd.String("ngrok-domain")
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// setup loads configuration and installs the process logger. Logs go to
// stderr so the MCP stdio mode keeps stdout for protocol traffic.
func setup(cmd *cli.Command) (config.Config, zerolog.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return config.Config{}, zerolog.Nop(), err
	}
	logger, err := telemetry.NewLogger(cfg.LogLevel, cfg.LogPretty, os.Stderr)
	if err != nil {
		return config.Config{}, zerolog.Nop(), err
	}
	log.Logger = logger
	return cfg, logger, nil
}

// runServe starts the HTTP server with REST API, WebSocket hub, and an /mcp
// endpoint. If ngrok is enabled it also provisions a public tunnel.
func runServe(ctx context.Context, cmd *cli.Command) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	logger.Info().Str("version", Version).Str("mode", "serve").Str("store", cfg.Store).Msg("starting " + AppName)

	shutdownTracing, err := telemetry.SetupTracing(ctx, AppName, Version, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("tracing shutdown")
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	// Closing the app drains pending persistence after the servers stop.
	defer a.Close()

	hub := websocket.NewHub(a.service, logger)
	apiServer := api.NewServer(a.service, hub, api.WithLogger(logger), api.WithPollTimeout(cfg.PollTimeout))
	mcpClient := mcp.NewClient("http://" + cfg.Addr())
	handler := newHandler(apiServer, mcpClient)

	httpServer := &http.Server{
		Addr:        cfg.Addr(),
		Handler:     handler,
		ReadTimeout: 15 * time.Second,
		// Long polls hold the response open for up to PollTimeout.
		WriteTimeout: cfg.PollTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		logger.Info().
			Str("addr", cfg.Addr()).
			Str("api", "http://"+cfg.Addr()+"/api").
			Str("websocket", "ws://"+cfg.Addr()+"/ws?subscriber=<id>").
			Str("mcp", "http://"+cfg.Addr()+"/mcp").
			Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})

	if cfg.NgrokEnabled {
		g.Go(func() error {
			serveNgrok(gctx, cfg, handler, logger)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown: %w", err)
		}
		return nil
	})

	err = g.Wait()
	logger.Info().Msg("server stopped")
	return err
}

// serveNgrok exposes handler through an ngrok tunnel until ctx ends. A
// tunnel failure is logged and leaves the local server running.
func serveNgrok(ctx context.Context, cfg config.Config, handler http.Handler, logger zerolog.Logger) {
	var tunnel ngrokConfig.Tunnel
	if cfg.NgrokDomain != "" {
		tunnel = ngrokConfig.HTTPEndpoint(ngrokConfig.WithDomain(cfg.NgrokDomain))
	} else {
		tunnel = ngrokConfig.HTTPEndpoint()
	}

	logger.Info().Str("domain", cfg.NgrokDomain).Msg("starting ngrok tunnel")
	tun, err := ngrok.Listen(ctx, tunnel, ngrok.WithAuthtoken(cfg.NgrokAuthToken))
	if err != nil {
		logger.Error().Err(err).Msg("failed to start ngrok tunnel")
		return
	}

	srv := &http.Server{Handler: handler}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	url := tun.URL()
	logger.Info().
		Str("url", url).
		Str("api", url+"/api").
		Str("mcp", url+"/mcp").
		Msg("ngrok tunnel established")

	if err := srv.Serve(tun); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn().Err(err).Msg("ngrok server error")
	}
	logger.Info().Msg("ngrok tunnel closed")
}

// runMCP runs an MCP stdio server. It reuses the API at the configured
// address when one answers; otherwise it starts an internal API on a random
// loopback port.
func runMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}

	externalURL := "http://" + cfg.Addr()
	baseURL := externalURL

	if !apiAvailable(externalURL) {
		logger.Info().Str("checked", externalURL).Msg("no external API server found, starting internal HTTP server")

		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		listener, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return fmt.Errorf("failed to get available port: %w", err)
		}

		httpServer := &http.Server{
			Handler: api.NewServer(a.service, nil, api.WithLogger(logger), api.WithPollTimeout(cfg.PollTimeout)),
		}
		go func() {
			if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("internal HTTP server error")
			}
		}()
		defer httpServer.Close()

		baseURL = "http://" + listener.Addr().String()
	}

	logger.Info().Str("api", baseURL).Msg("MCP stdio server ready")
	if err := server.ServeStdio(mcp.NewClient(baseURL).GetMCPServer()); err != nil {
		return fmt.Errorf("MCP stdio server error: %w", err)
	}
	return nil
}

func apiAvailable(baseURL string) bool {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(baseURL + "/api/health")
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

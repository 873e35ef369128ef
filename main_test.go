package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"

	"github.com/wricardo/mcp-training/gamehub/api"
	"github.com/wricardo/mcp-training/gamehub/game/config"
	"github.com/wricardo/mcp-training/gamehub/game/service"
	"github.com/wricardo/mcp-training/gamehub/transport/mcp"
)

func TestConstants(t *testing.T) {
	if Version == "" {
		t.Error("Version should not be empty")
	}
	if AppName != "gamehub" {
		t.Errorf("Expected app name gamehub, got %s", AppName)
	}
}

func TestCommandTree(t *testing.T) {
	cmd := newCommand()
	require.NotNil(t, cmd.Action)

	names := map[string]bool{}
	for _, sub := range cmd.Commands {
		names[sub.Name] = true
	}
	require.True(t, names["serve"])
	require.True(t, names["mcp"])
}

// runWithFlags parses args with the real flag set and returns the resulting config.
func runWithFlags(t *testing.T, args ...string) (config.Config, error) {
	t.Helper()
	var cfg config.Config
	var loadErr error
	cmd := &cli.Command{
		Name:  "test",
		Flags: globalFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, loadErr = loadConfig(cmd)
			return nil
		},
	}
	require.NoError(t, cmd.Run(context.Background(), append([]string{"test"}, args...)))
	return cfg, loadErr
}

func TestLoadConfig(t *testing.T) {
	t.Run("environment", func(t *testing.T) {
		t.Setenv("GAMEHUB_PORT", "9191")
		t.Setenv("GAMEHUB_STORE", "memory")

		cfg, err := runWithFlags(t)
		require.NoError(t, err)
		require.Equal(t, 9191, cfg.Port)
		require.Equal(t, config.StoreMemory, cfg.Store)
		require.Equal(t, "info", cfg.LogLevel)
	})

	t.Run("flags override environment", func(t *testing.T) {
		t.Setenv("GAMEHUB_PORT", "9191")
		t.Setenv("GAMEHUB_STORE", "file")

		cfg, err := runWithFlags(t, "--port", "7070", "--store", "sqlite", "--sqlite-path", "x.db", "--debug", "--host", "0.0.0.0")
		require.NoError(t, err)
		require.Equal(t, 7070, cfg.Port)
		require.Equal(t, "0.0.0.0", cfg.Host)
		require.Equal(t, config.StoreSQLite, cfg.Store)
		require.Equal(t, "x.db", cfg.SQLitePath)
		require.Equal(t, "debug", cfg.LogLevel)
	})

	t.Run("invalid store flag", func(t *testing.T) {
		_, err := runWithFlags(t, "--store", "redis")
		require.ErrorIs(t, err, config.ErrInvalidConfig)
	})
}

func testConfig(t *testing.T, store string) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		Host:             "127.0.0.1",
		Port:             0,
		LogLevel:         "info",
		Store:            store,
		SessionsDir:      filepath.Join(dir, "sessions"),
		SQLitePath:       filepath.Join(dir, "gamehub.db"),
		TemplatesDir:     filepath.Join(dir, "templates"),
		LoadOnStart:      true,
		MailboxCapacity:  8,
		PersistQueueSize: 4,
		PollTimeout:      time.Second,
		ShutdownTimeout:  time.Second,
	}
}

func TestOpenStore(t *testing.T) {
	for _, driver := range []string{config.StoreMemory, config.StoreFile, config.StoreSQLite} {
		t.Run(driver, func(t *testing.T) {
			store, closeStore, err := openStore(testConfig(t, driver))
			require.NoError(t, err)
			defer closeStore()

			if driver == config.StoreMemory {
				require.Nil(t, store)
			} else {
				require.NotNil(t, store)
			}
		})
	}

	_, _, err := openStore(testConfig(t, "tape"))
	require.ErrorIs(t, err, config.ErrInvalidConfig)
}

// Sessions written by one app come back in the next one.
func TestAppRestoresSessions(t *testing.T) {
	for _, driver := range []string{config.StoreFile, config.StoreSQLite} {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			cfg := testConfig(t, driver)

			first, err := newApp(ctx, cfg, zerolog.Nop())
			require.NoError(t, err)

			_, err = first.service.CreateSession(ctx, service.CreateSessionRequest{ID: "g1", Players: []string{"alice"}})
			require.NoError(t, err)
			_, err = first.service.Push(ctx, "g1", service.PushRequest{Data: json.RawMessage(`{"turn":2}`), CanUndo: true})
			require.NoError(t, err)
			first.Close()

			second, err := newApp(ctx, cfg, zerolog.Nop())
			require.NoError(t, err)
			defer second.Close()

			info, err := second.service.GetSession(ctx, "g1")
			require.NoError(t, err)
			require.Equal(t, uint64(2), info.Seq)
			require.True(t, info.CanUndo)
			require.JSONEq(t, `{"turn":2}`, string(info.Data))
		})
	}
}

func TestAppUsesTemplates(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, config.StoreMemory)
	require.NoError(t, os.MkdirAll(cfg.TemplatesDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfg.TemplatesDir, "default.json"),
		[]byte(`{"name":"Default","data":{"board":"empty"}}`), 0o644))

	a, err := newApp(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	info, err := a.service.CreateSession(ctx, service.CreateSessionRequest{})
	require.NoError(t, err)
	require.JSONEq(t, `{"board":"empty"}`, string(info.Data))
}

func TestAppWithoutTemplates(t *testing.T) {
	ctx := context.Background()
	a, err := newApp(ctx, testConfig(t, config.StoreMemory), zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	templates, err := a.service.ListTemplates(ctx)
	require.NoError(t, err)
	require.Empty(t, templates)

	info, err := a.service.CreateSession(ctx, service.CreateSessionRequest{})
	require.NoError(t, err)
	require.JSONEq(t, `{}`, string(info.Data))
}

func TestHandlerMountsMCP(t *testing.T) {
	ctx := context.Background()
	a, err := newApp(ctx, testConfig(t, config.StoreMemory), zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	apiServer := api.NewServer(a.service, nil)
	server := httptest.NewServer(newHandler(apiServer, mcp.NewClient("http://127.0.0.1:1")))
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/health")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, apiAvailable(server.URL))

	resp, err = http.Get(server.URL + "/mcp")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	body := []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list","params":{}}`)
	resp, err = http.Post(server.URL+"/mcp", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rpc map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rpc))
	require.Contains(t, rpc, "result")
}

func TestAPIAvailableUnreachable(t *testing.T) {
	require.False(t, apiAvailable("http://127.0.0.1:1"))
}

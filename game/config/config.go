package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Store drivers.
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreSQLite = "sqlite"
)

// Config holds the server settings.
type Config struct {
	Host string `env:"GAMEHUB_HOST" envDefault:"localhost"`
	Port int    `env:"GAMEHUB_PORT" envDefault:"8080"`

	LogLevel  string `env:"GAMEHUB_LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"GAMEHUB_LOG_PRETTY" envDefault:"false"`

	Store        string `env:"GAMEHUB_STORE" envDefault:"file"`
	SessionsDir  string `env:"GAMEHUB_SESSIONS_DIR" envDefault:"sessions"`
	SQLitePath   string `env:"GAMEHUB_SQLITE_PATH" envDefault:"gamehub.db"`
	TemplatesDir string `env:"GAMEHUB_TEMPLATES_DIR" envDefault:"templates"`
	LoadOnStart  bool   `env:"GAMEHUB_LOAD_ON_START" envDefault:"true"`

	MailboxCapacity  int           `env:"GAMEHUB_MAILBOX_CAPACITY" envDefault:"100"`
	PersistQueueSize int           `env:"GAMEHUB_PERSIST_QUEUE_SIZE" envDefault:"32"`
	PollTimeout      time.Duration `env:"GAMEHUB_POLL_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout  time.Duration `env:"GAMEHUB_SHUTDOWN_TIMEOUT" envDefault:"10s"`

	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	NgrokEnabled   bool   `env:"NGROK_ENABLED" envDefault:"false"`
	NgrokAuthToken string `env:"NGROK_AUTHTOKEN"`
	NgrokDomain    string `env:"NGROK_DOMAIN"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field ranges and combinations.
func (c Config) Validate() error {
	var errs []error
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
		errs = append(errs, fmt.Errorf("log level: %w", err))
	}
	switch c.Store {
	case StoreMemory:
	case StoreFile:
		if strings.TrimSpace(c.SessionsDir) == "" {
			errs = append(errs, errors.New("sessions dir is required for the file store"))
		}
	case StoreSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			errs = append(errs, errors.New("sqlite path is required for the sqlite store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store %q (want memory, file or sqlite)", c.Store))
	}
	if c.MailboxCapacity <= 0 {
		errs = append(errs, errors.New("mailbox capacity must be positive"))
	}
	if c.PersistQueueSize <= 0 {
		errs = append(errs, errors.New("persist queue size must be positive"))
	}
	if c.PollTimeout <= 0 {
		errs = append(errs, errors.New("poll timeout must be positive"))
	}
	if c.NgrokEnabled && c.NgrokAuthToken == "" {
		errs = append(errs, errors.New("ngrok enabled without NGROK_AUTHTOKEN"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Addr returns host:port.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

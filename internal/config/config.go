package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "chatify"

// Config is the relay server configuration.
type Config struct {
	Addr           string   `envconfig:"ADDR" default:":3000"`
	AdminAddr      string   `envconfig:"ADMIN_ADDR" default:"localhost:3001"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS"`
	MaxMessageSize int64    `envconfig:"MAX_MESSAGE_SIZE" default:"10000000"`
	SendBuffer     int      `envconfig:"SEND_BUFFER" default:"100"`
	LogLevel       string   `envconfig:"LOG_LEVEL" default:"info"`
}

// ClientConfig configures the terminal client and its conversation store.
type ClientConfig struct {
	ServerURL         string        `envconfig:"SERVER_URL" default:"ws://localhost:3000/ws"`
	StateDB           string        `envconfig:"STATE_DB" default:"chatify.db"`
	ReconnectAttempts int           `envconfig:"RECONNECT_ATTEMPTS" default:"5"`
	ReconnectDelay    time.Duration `envconfig:"RECONNECT_DELAY" default:"1s"`
	TypingTimeout     time.Duration `envconfig:"TYPING_TIMEOUT" default:"1s"`
	ChunkSize         int           `envconfig:"CHUNK_SIZE" default:"500000"`
	ChunkThreshold    int           `envconfig:"CHUNK_THRESHOLD" default:"1000000"`
	ChunkDelay        time.Duration `envconfig:"CHUNK_DELAY" default:"50ms"`
	ChunkGrace        time.Duration `envconfig:"CHUNK_GRACE" default:"5s"`
	ChunkStale        time.Duration `envconfig:"CHUNK_STALE" default:"2m"`
	MaxImageSize      int64         `envconfig:"MAX_IMAGE_SIZE" default:"10485760"`
	MaxMessageLength  int           `envconfig:"MAX_MESSAGE_LENGTH" default:"500"`
	LogLevel          string        `envconfig:"LOG_LEVEL" default:"warn"`
}

func Load() (*Config, error) {
	loadDotEnv()

	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.New("CHATIFY_ADDR is required")
	}
	if c.MaxMessageSize <= 0 {
		return errors.New("CHATIFY_MAX_MESSAGE_SIZE must be greater than 0")
	}
	if c.SendBuffer <= 0 {
		return errors.New("CHATIFY_SEND_BUFFER must be greater than 0")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

func LoadClient() (*ClientConfig, error) {
	loadDotEnv()

	var cfg ClientConfig
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *ClientConfig) Validate() error {
	if c.ServerURL == "" {
		return errors.New("CHATIFY_SERVER_URL is required")
	}
	if c.ChunkSize <= 0 {
		return errors.New("CHATIFY_CHUNK_SIZE must be greater than 0")
	}
	if c.ChunkThreshold < c.ChunkSize {
		return errors.New("CHATIFY_CHUNK_THRESHOLD must not be smaller than CHATIFY_CHUNK_SIZE")
	}
	if c.ChunkStale < c.ChunkGrace {
		return errors.New("CHATIFY_CHUNK_STALE must not be shorter than CHATIFY_CHUNK_GRACE")
	}
	if c.TypingTimeout <= 0 {
		return errors.New("CHATIFY_TYPING_TIMEOUT must be greater than 0")
	}
	if c.ReconnectAttempts < 0 {
		return errors.New("CHATIFY_RECONNECT_ATTEMPTS must not be negative")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ParseLevel maps a level name such as "debug" or "warn" to a slog level.
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", name, err)
	}
	return level, nil
}

// SetupLogger installs the default slog logger writing text to stderr.
func SetupLogger(name string) error {
	level, err := ParseLevel(name)
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return nil
}

func loadDotEnv() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env file", "error", err)
	}
}

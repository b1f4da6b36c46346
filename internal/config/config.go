package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/signalboard/signalboard/internal/protocol"
)

// Config holds all configuration for the relay server.
type Config struct {
	Port     string
	Env      string
	LogLevel string
	WSPath   string

	// Inbound rate limiting, per connection or, with RedisURL, per client
	// address across processes.
	RateLimit       int
	RateLimitWindow time.Duration
	RedisURL        string

	// Analytics sink
	AnalyticsDriver  string
	AnalyticsDSN     string
	AnalyticsTimeout time.Duration

	// Webhook relay
	WebhookRoomActionURL string
	WebhookRoomStateURL  string
	WebhookTimeout       time.Duration

	RoomsFile          string
	CORSAllowedOrigins []string
	SendBuffer         int
}

// Load reads configuration from environment variables.
// A .env file in the working directory is loaded first if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 envOrDefault("PORT", "3000"),
		Env:                  envOrDefault("ENV", "development"),
		LogLevel:             envOrDefault("LOG_LEVEL", "info"),
		WSPath:               envOrDefault("WS_PATH", "/api/socket"),
		RedisURL:             os.Getenv("REDIS_URL"),
		AnalyticsDriver:      envOrDefault("ANALYTICS_DRIVER", "sqlite"),
		AnalyticsDSN:         envOrDefault("ANALYTICS_DSN", "./data/analytics.db"),
		WebhookRoomActionURL: os.Getenv("WEBHOOK_ROOM_ACTION_URL"),
		WebhookRoomStateURL:  os.Getenv("WEBHOOK_ROOM_STATE_URL"),
		RoomsFile:            os.Getenv("ROOMS_FILE"),
	}

	var err error
	if cfg.RateLimit, err = intEnv("RATE_LIMIT", 30); err != nil {
		return nil, err
	}
	if cfg.SendBuffer, err = intEnv("SEND_BUFFER", 64); err != nil {
		return nil, err
	}
	if cfg.RateLimitWindow, err = durationEnv("RATE_LIMIT_WINDOW", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.AnalyticsTimeout, err = durationEnv("ANALYTICS_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.WebhookTimeout, err = durationEnv("WEBHOOK_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}

	for _, origin := range strings.Split(envOrDefault("CORS_ALLOWED_ORIGINS", "*"), ",") {
		origin = strings.TrimSpace(origin)
		if origin != "" {
			cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, origin)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that flags may have overridden after Load.
func (c *Config) Validate() error {
	switch c.AnalyticsDriver {
	case "sqlite", "postgres", "none":
	default:
		return fmt.Errorf("ANALYTICS_DRIVER must be sqlite, postgres or none, got %q", c.AnalyticsDriver)
	}
	if c.RateLimit < 0 {
		return errors.New("RATE_LIMIT must not be negative")
	}
	if c.RateLimit > 0 && c.RateLimitWindow < time.Millisecond {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be at least 1ms when RATE_LIMIT is set, got %s", c.RateLimitWindow)
	}
	if c.SendBuffer <= 0 {
		return errors.New("SEND_BUFFER must be positive")
	}
	if !strings.HasPrefix(c.WSPath, "/") {
		return errors.New("WS_PATH must start with /")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + c.Port
}

// Rooms returns the room catalog, read from RoomsFile when set.
func (c *Config) Rooms() (*protocol.Catalog, error) {
	if c.RoomsFile == "" {
		return protocol.NewCatalog(protocol.DefaultRooms())
	}
	return LoadRooms(c.RoomsFile)
}

type roomsFile struct {
	Rooms []protocol.Room `yaml:"rooms"`
}

// LoadRooms reads a YAML room catalog:
//
//	rooms:
//	  - id: dashboard-a
//	    number: "139"
//	    name: Boardroom
func LoadRooms(path string) (*protocol.Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rooms file: %w", err)
	}
	return ParseRooms(data)
}

// ParseRooms decodes a YAML room catalog.
func ParseRooms(data []byte) (*protocol.Catalog, error) {
	var f roomsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rooms file: %w", err)
	}
	if len(f.Rooms) == 0 {
		return nil, fmt.Errorf("%w: rooms file lists no rooms", protocol.ErrInvalidRoom)
	}
	return protocol.NewCatalog(f.Rooms)
}

func envOrDefault(key string, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func intEnv(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

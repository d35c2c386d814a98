// Package config provides environment configuration for the API server and the widget harness.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Store drivers.
const (
	StoreSQLite = "sqlite"
	StoreNATS   = "nats"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string        `envconfig:"PORT" default:"8080"`
	ServerReadTimeout  time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"30s"`
	ServerWriteTimeout time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"120s"`
	AllowedOrigins     []string      `envconfig:"ALLOWED_ORIGINS"`

	// Store settings
	StoreDriver string `envconfig:"STORE_DRIVER" default:"sqlite"`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"data/widget.db"`
	SeedFile    string `envconfig:"CHATBOT_SEED_FILE"`

	// NATS settings
	NATSURL      string `envconfig:"NATS_URL" default:"nats://localhost:4222"`
	NATSCAFile   string `envconfig:"NATS_CA_FILE"`
	NATSCertFile string `envconfig:"NATS_CERT_FILE"`
	NATSKeyFile  string `envconfig:"NATS_KEY_FILE"`
	NATSToken    string `envconfig:"NATS_TOKEN"`

	// LLM settings
	AnthropicAPIKey string        `envconfig:"ANTHROPIC_API_KEY"`
	OpenAIAPIKey    string        `envconfig:"OPENAI_API_KEY"`
	DefaultLLM      string        `envconfig:"DEFAULT_LLM" default:"anthropic"`
	LLMModel        string        `envconfig:"LLM_MODEL"`
	LLMMaxTokens    int           `envconfig:"LLM_MAX_TOKENS" default:"512"`
	LLMTemperature  float64       `envconfig:"LLM_TEMPERATURE" default:"0.3"`
	LLMTimeout      time.Duration `envconfig:"LLM_TIMEOUT" default:"60s"`
	HistoryLimit    int           `envconfig:"HISTORY_LIMIT" default:"20"`

	// Chat behaviour
	GreetingEnabled bool `envconfig:"GREETING_ENABLED" default:"true"`

	// Rate limiting
	RateLimitRequests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"60"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`
	SendLimit         int           `envconfig:"SEND_LIMIT" default:"20"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Tracing
	TracingEndpoint string `envconfig:"TRACING_ENDPOINT" default:"localhost:4318"`
	TracingEnabled  bool   `envconfig:"TRACING_ENABLED" default:"false"`
}

// Load reads a .env file when present, then environment variables.
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that have no usable default.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreSQLite, StoreNATS:
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreSQLite, StoreNATS, c.StoreDriver)
	}
	if c.RateLimitWindow <= 0 {
		return errors.New("RATE_LIMIT_WINDOW must be positive")
	}
	return nil
}

// loadDotEnv loads path without overriding variables already set.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load %s: %w", path, err)
}

// Widget configures the terminal widget harness.
type Widget struct {
	APIURL          string        `envconfig:"WIDGET_API_URL" default:"http://localhost:8080"`
	GraphQLURL      string        `envconfig:"WIDGET_GRAPHQL_URL"`
	GraphQLAPIKey   string        `envconfig:"WIDGET_GRAPHQL_API_KEY"`
	DeliveryURL     string        `envconfig:"WIDGET_DELIVERY_URL"`
	ChatbotID       int64         `envconfig:"WIDGET_CHATBOT_ID" default:"1"`
	RequestTimeout  time.Duration `envconfig:"WIDGET_REQUEST_TIMEOUT" default:"60s"`
	RefreshInterval time.Duration `envconfig:"WIDGET_REFRESH_INTERVAL" default:"0s"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"warn"`
}

// LoadWidget reads the widget harness settings.
func LoadWidget() (*Widget, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	var cfg Widget
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}
	return &cfg, nil
}

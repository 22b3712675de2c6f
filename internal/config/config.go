package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds the configuration for the turn engine server.
type Config struct {
	// Server settings
	Port     string `envconfig:"SERVER_PORT" default:"8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// PostgreSQL settings
	DBHost        string        `envconfig:"DB_HOST" required:"true"`
	DBPort        string        `envconfig:"DB_PORT" default:"5432"`
	DBUser        string        `envconfig:"DB_USER" required:"true"`
	DBName        string        `envconfig:"DB_NAME" required:"true"`
	DBSSLMode     string        `envconfig:"DB_SSL_MODE" default:"disable"`
	DBMaxConns    int           `envconfig:"DB_MAX_CONNECTIONS" default:"10"`
	DBIdleTimeout time.Duration `envconfig:"DB_MAX_IDLE_MINUTES" default:"5m"`
	// Secret field WITHOUT an envconfig tag, loaded from the secrets dir.
	DBPassword string

	// Redis settings (projection read cache)
	RedisAddr          string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisDB            int           `envconfig:"REDIS_DB" default:"0"`
	ProjectionCacheTTL time.Duration `envconfig:"PROJECTION_CACHE_TTL" default:"10m"`

	// RabbitMQ settings (committed-turn fan-out to the presentation layer)
	RabbitMQURL          string `envconfig:"RABBITMQ_URL" required:"true"`
	TurnUpdatesQueueName string `envconfig:"TURN_UPDATES_QUEUE_NAME" default:"turn_updates"`

	// AI backend settings (Router/Director/Narrator generators)
	AIClientType string        `envconfig:"AI_CLIENT_TYPE" default:"openai"`
	AIBaseURL    string        `envconfig:"AI_BASE_URL" default:"https://api.openai.com/v1"`
	AIModel      string        `envconfig:"AI_MODEL" default:"gpt-4o-mini"`
	AITimeout    time.Duration `envconfig:"AI_TIMEOUT" default:"30s"`
	// Secret field WITHOUT an envconfig tag.
	AIAPIKey string

	// Turn pipeline settings
	TurnBudget     time.Duration `envconfig:"TURN_BUDGET" default:"90s"`
	GenMaxAttempts int           `envconfig:"GEN_MAX_ATTEMPTS" default:"3"`
	SnapshotEvery  int           `envconfig:"SNAPSHOT_EVERY" default:"50"`
	ContextTokens  int           `envconfig:"CONTEXT_TOKEN_BUDGET" default:"1500"`

	// Collaborator services
	ContentServiceURL string `envconfig:"CONTENT_SERVICE_URL" required:"true"`
	ContextServiceURL string `envconfig:"CONTEXT_SERVICE_URL" required:"true"`
}

// GetDSN returns the PostgreSQL connection string.
func (c *Config) GetDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// LoadConfig loads configuration from environment variables and secret files.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load turn engine config: %w", err)
	}

	var loadErr error
	cfg.DBPassword, loadErr = ReadSecret("db_password")
	if loadErr != nil {
		return nil, loadErr
	}

	// The API key secret is optional for local ollama setups.
	if cfg.AIClientType != "ollama" {
		cfg.AIAPIKey, loadErr = ReadSecret("ai_api_key")
		if loadErr != nil {
			return nil, loadErr
		}
	}

	return &cfg, nil
}

package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Queue    QueueConfig    `mapstructure:"queue" validate:"required"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Auth     AuthConfig     `mapstructure:"auth"`
	LLM      LLMConfig      `mapstructure:"llm"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port      int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel  string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	LogFormat string `mapstructure:"log_format" validate:"required,oneof=json text"`

	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DatabaseConfig selects and configures the task store backend.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" validate:"required,oneof=memory sqlite postgres"`

	// URL is the PostgreSQL connection string.
	URL string `mapstructure:"url" validate:"required_if=Driver postgres"`

	// SQLitePath is the database file used by the sqlite driver.
	SQLitePath string `mapstructure:"sqlite_path" validate:"required_if=Driver sqlite"`

	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"gte=0"`

	// AutoMigrate applies pending migrations when the store is opened.
	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// QueueConfig tunes claiming, polling and dead-worker recovery.
type QueueConfig struct {
	// LeaseWindow is how long a running task may go without an update
	// before another worker may reclaim it.
	LeaseWindow time.Duration `mapstructure:"lease_window" validate:"gt=0"`

	PollInterval    time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	MaxPollInterval time.Duration `mapstructure:"max_poll_interval" validate:"gtefield=PollInterval"`
	BatchSize       int           `mapstructure:"batch_size" validate:"gt=0,lte=500"`
	WorkerCount     int           `mapstructure:"worker_count" validate:"gt=0,lte=256"`

	// WorkerID identifies this process as a task owner. Generated when empty.
	WorkerID string `mapstructure:"worker_id" validate:"omitempty,max=128"`

	SupervisorInterval time.Duration `mapstructure:"supervisor_interval" validate:"gt=0"`
	HeartbeatTTL       time.Duration `mapstructure:"heartbeat_ttl" validate:"gt=0"`
}

// Notification drivers.
const (
	NotifyNone  = "none"
	NotifyRedis = "redis"
	NotifyNATS  = "nats"
)

// NotifyConfig selects how workers learn that new tasks are available.
type NotifyConfig struct {
	Driver string `mapstructure:"driver" validate:"required,oneof=none redis nats"`

	RedisAddr     string `mapstructure:"redis_addr" validate:"required_if=Driver redis"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db" validate:"gte=0"`

	NATSURL string `mapstructure:"nats_url" validate:"required_if=Driver nats"`

	// Channel is the pub/sub channel or subject for wakeups.
	Channel string `mapstructure:"channel" validate:"required"`
}

// AuthConfig contains all authentication and authorization settings.
// API authentication is disabled when JWTSecret is empty.
type AuthConfig struct {
	JWTSecret     string        `mapstructure:"jwt_secret" validate:"omitempty,min=32"`
	TokenLifetime time.Duration `mapstructure:"token_lifetime" validate:"gt=0"`
}

// LLMConfig contains all LLM integration related settings.
type LLMConfig struct {
	GeminiAPIKey string `mapstructure:"gemini_api_key"`
	ModelName    string `mapstructure:"model_name" validate:"required"`
	MaxRetries   int    `mapstructure:"max_retries" validate:"gte=0,lte=10"`

	BaseDelaySeconds float64 `mapstructure:"base_delay_seconds" validate:"gte=0"`

	// PromptTemplatePath overrides the built-in prompt templates.
	PromptTemplatePath string `mapstructure:"prompt_template_path"`

	// MaxTextRetries bounds how often a draft is regenerated after failing review.
	MaxTextRetries int `mapstructure:"max_text_retries" validate:"gte=0,lte=10"`
}

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. CONTENTQ_DATABASE_URL.
const EnvPrefix = "CONTENTQ"

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.url", "")
	v.SetDefault("database.sqlite_path", "contentq.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("queue.lease_window", 5*time.Minute)
	v.SetDefault("queue.poll_interval", 2*time.Second)
	v.SetDefault("queue.max_poll_interval", 30*time.Second)
	v.SetDefault("queue.batch_size", 4)
	v.SetDefault("queue.worker_count", 4)
	v.SetDefault("queue.worker_id", "")
	v.SetDefault("queue.supervisor_interval", 30*time.Second)
	v.SetDefault("queue.heartbeat_ttl", 45*time.Second)

	v.SetDefault("notify.driver", NotifyNone)
	v.SetDefault("notify.redis_addr", "")
	v.SetDefault("notify.redis_password", "")
	v.SetDefault("notify.redis_db", 0)
	v.SetDefault("notify.nats_url", "")
	v.SetDefault("notify.channel", "contentq.tasks")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_lifetime", 24*time.Hour)

	v.SetDefault("llm.gemini_api_key", "")
	v.SetDefault("llm.model_name", "gemini-2.0-flash")
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.base_delay_seconds", 1.0)
	v.SetDefault("llm.prompt_template_path", "")
	v.SetDefault("llm.max_text_retries", 2)
}

// Load reads configuration from environment variables and optionally a config file.
// Environment variables take precedence over values from the file. When
// configFile is empty, contentq.yaml is looked up in the working directory;
// a missing file is not an error.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("contentq")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Secrets have no useful default, so bind them explicitly.
	for _, key := range []string{"database.url", "auth.jwt_secret", "llm.gemini_api_key", "notify.redis_password"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("error binding environment variable for %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct tags and cross-field rules.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	if c.Queue.HeartbeatTTL <= c.Queue.PollInterval {
		return fmt.Errorf("configuration validation failed: queue.heartbeat_ttl (%s) must exceed queue.poll_interval (%s)",
			c.Queue.HeartbeatTTL, c.Queue.PollInterval)
	}
	return nil
}

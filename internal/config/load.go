package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable read by Load,
// e.g. TASKBID_PAYMENT_FEE_PERCENTAGE.
const EnvPrefix = "TASKBID"

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("store.driver", "postgres")

	v.SetDefault("gateway.task_service_url", "http://localhost:8081")
	v.SetDefault("gateway.user_service_url", "http://localhost:8082")
	v.SetDefault("gateway.request_timeout", 5*time.Second)

	v.SetDefault("provider.url", "http://localhost:8090")
	v.SetDefault("provider.api_key", "")
	v.SetDefault("provider.timeout", 10*time.Second)

	v.SetDefault("bidding.min_amount", 1.0)
	v.SetDefault("bidding.max_amount", 100000.0)
	v.SetDefault("bidding.auto_accept_age", 72*time.Hour)
	v.SetDefault("bidding.auto_accept_policy", "lowest_amount")
	v.SetDefault("bidding.terminal_retention", 90*24*time.Hour)

	v.SetDefault("payment.fee_percentage", 10.0)
	v.SetDefault("payment.currency", "USD")
	v.SetDefault("payment.default_method", "credit_card")
	v.SetDefault("payment.max_retries", 3)
	v.SetDefault("payment.pending_grace", 2*time.Minute)
	v.SetDefault("payment.pending_timeout", 24*time.Hour)
	v.SetDefault("payment.retry_backoff", 5*time.Minute)
	v.SetDefault("payment.stuck_processing", 30*time.Minute)
	v.SetDefault("payment.terminal_retention", 365*24*time.Hour)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.worker_count", 4)
	v.SetDefault("scheduler.batch_size", 100)
	v.SetDefault("scheduler.auto_accept_interval", 10*time.Minute)
	v.SetDefault("scheduler.pending_payments_interval", time.Minute)
	v.SetDefault("scheduler.retry_interval", 5*time.Minute)
	v.SetDefault("scheduler.cleanup_interval", time.Hour)
	v.SetDefault("scheduler.reconcile_interval", 10*time.Minute)
	v.SetDefault("scheduler.outbox_interval", 2*time.Second)
	v.SetDefault("scheduler.outbox_max_attempts", 10)
	v.SetDefault("scheduler.outbox_retention", 7*24*time.Hour)

	v.SetDefault("notify.twilio_account_sid", "")
	v.SetDefault("notify.twilio_auth_token", "")
	v.SetDefault("notify.twilio_from_number", "")
}

// Load configuration from environment variables and optionally config files.
// Precedence, lowest first: defaults, config.yaml in . or ./config,
// TASKBID_* environment variables.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct tags and the rules that span groups.
func Validate(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	if cfg.Store.Driver == "postgres" && cfg.Database.URL == "" {
		return fmt.Errorf("config validation failed: database.url is required when store.driver is postgres")
	}
	return nil
}

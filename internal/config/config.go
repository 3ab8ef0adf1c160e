package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Store     StoreConfig     `mapstructure:"store" validate:"required"`
	Gateway   GatewayConfig   `mapstructure:"gateway" validate:"required"`
	Provider  ProviderConfig  `mapstructure:"provider" validate:"required"`
	Bidding   BiddingConfig   `mapstructure:"bidding" validate:"required"`
	Payment   PaymentConfig   `mapstructure:"payment" validate:"required"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" validate:"required"`
	Notify    NotifyConfig    `mapstructure:"notify"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	LogFormat       string        `mapstructure:"log_format" validate:"required,oneof=json text"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// DatabaseConfig contains all database-related configuration settings.
// URL is required only when the postgres store driver is selected.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url" validate:"omitempty,url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"gte=0"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver string `mapstructure:"driver" validate:"required,oneof=postgres memory"`
}

// GatewayConfig holds the endpoints of the task and user services.
type GatewayConfig struct {
	TaskServiceURL string        `mapstructure:"task_service_url" validate:"required,url"`
	UserServiceURL string        `mapstructure:"user_service_url" validate:"required,url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
}

// ProviderConfig holds the payment provider endpoint and credentials.
type ProviderConfig struct {
	URL     string        `mapstructure:"url" validate:"required,url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

// BiddingConfig contains the bid lifecycle rules.
type BiddingConfig struct {
	MinAmount         float64       `mapstructure:"min_amount" validate:"gt=0"`
	MaxAmount         float64       `mapstructure:"max_amount" validate:"gtfield=MinAmount"`
	AutoAcceptAge     time.Duration `mapstructure:"auto_accept_age" validate:"gt=0"`
	AutoAcceptPolicy  string        `mapstructure:"auto_accept_policy" validate:"required,oneof=lowest_amount earliest"`
	TerminalRetention time.Duration `mapstructure:"terminal_retention" validate:"gt=0"`
}

// PaymentConfig contains the payment lifecycle rules.
type PaymentConfig struct {
	FeePercentage     float64       `mapstructure:"fee_percentage" validate:"gte=0,lte=100"`
	Currency          string        `mapstructure:"currency" validate:"required,len=3"`
	DefaultMethod     string        `mapstructure:"default_method" validate:"required,oneof=credit_card debit_card bank_transfer digital_wallet cash"`
	MaxRetries        int           `mapstructure:"max_retries" validate:"gte=1"`
	PendingGrace      time.Duration `mapstructure:"pending_grace" validate:"gte=0"`
	PendingTimeout    time.Duration `mapstructure:"pending_timeout" validate:"gtfield=PendingGrace"`
	RetryBackoff      time.Duration `mapstructure:"retry_backoff" validate:"gte=0"`
	StuckProcessing   time.Duration `mapstructure:"stuck_processing" validate:"gt=0"`
	TerminalRetention time.Duration `mapstructure:"terminal_retention" validate:"gt=0"`
}

// SchedulerConfig controls the background sweeps and the outbox relay.
type SchedulerConfig struct {
	Enabled                 bool          `mapstructure:"enabled"`
	WorkerCount             int           `mapstructure:"worker_count" validate:"gte=1"`
	BatchSize               int           `mapstructure:"batch_size" validate:"gte=1"`
	AutoAcceptInterval      time.Duration `mapstructure:"auto_accept_interval" validate:"gt=0"`
	PendingPaymentsInterval time.Duration `mapstructure:"pending_payments_interval" validate:"gt=0"`
	RetryInterval           time.Duration `mapstructure:"retry_interval" validate:"gt=0"`
	CleanupInterval         time.Duration `mapstructure:"cleanup_interval" validate:"gt=0"`
	ReconcileInterval       time.Duration `mapstructure:"reconcile_interval" validate:"gt=0"`
	OutboxInterval          time.Duration `mapstructure:"outbox_interval" validate:"gt=0"`
	OutboxMaxAttempts       int           `mapstructure:"outbox_max_attempts" validate:"gte=1"`
	OutboxRetention         time.Duration `mapstructure:"outbox_retention" validate:"gt=0"`
}

// NotifyConfig holds the optional Twilio credentials. When AccountSID is
// empty notifications are only logged.
type NotifyConfig struct {
	TwilioAccountSID string `mapstructure:"twilio_account_sid"`
	TwilioAuthToken  string `mapstructure:"twilio_auth_token" validate:"required_with=TwilioAccountSID"`
	TwilioFromNumber string `mapstructure:"twilio_from_number" validate:"required_with=TwilioAccountSID"`
}

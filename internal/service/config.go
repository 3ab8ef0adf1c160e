package service

import (
	"fmt"
	"time"

	"github.com/phrazzld/taskbid/internal/config"
	"github.com/phrazzld/taskbid/internal/domain"
	"github.com/shopspring/decimal"
)

// AutoAcceptPolicy selects the winning bid of an auto-acceptance sweep.
type AutoAcceptPolicy string

// Auto-acceptance policies.
const (
	// PolicyLowestAmount picks the cheapest bid; ties go to the earliest.
	PolicyLowestAmount AutoAcceptPolicy = "lowest_amount"
	// PolicyEarliest picks the earliest bid.
	PolicyEarliest AutoAcceptPolicy = "earliest"
)

// BidConfig holds the business rules of the bid lifecycle.
type BidConfig struct {
	MinAmount        decimal.Decimal
	MaxAmount        decimal.Decimal
	AutoAcceptAge    time.Duration
	AutoAcceptPolicy AutoAcceptPolicy
	Retention        time.Duration
	BatchSize        int
	Workers          int
}

// PaymentConfig holds the business rules of the payment lifecycle.
type PaymentConfig struct {
	FeePercentage   decimal.Decimal
	Currency        string
	DefaultMethod   domain.PaymentMethod
	MaxRetries      int
	ProviderTimeout time.Duration
	PendingGrace    time.Duration
	PendingTimeout  time.Duration
	RetryBackoff    time.Duration
	StuckProcessing time.Duration
	Retention       time.Duration
	BatchSize       int
	Workers         int
}

// NewBidConfig builds a BidConfig from application configuration.
func NewBidConfig(cfg *config.Config) (BidConfig, error) {
	bc := BidConfig{
		MinAmount:        domain.RoundMoney(decimal.NewFromFloat(cfg.Bidding.MinAmount)),
		MaxAmount:        domain.RoundMoney(decimal.NewFromFloat(cfg.Bidding.MaxAmount)),
		AutoAcceptAge:    cfg.Bidding.AutoAcceptAge,
		AutoAcceptPolicy: AutoAcceptPolicy(cfg.Bidding.AutoAcceptPolicy),
		Retention:        cfg.Bidding.TerminalRetention,
		BatchSize:        cfg.Scheduler.BatchSize,
		Workers:          cfg.Scheduler.WorkerCount,
	}
	return bc, bc.validate()
}

func (c BidConfig) validate() error {
	if !c.MinAmount.IsPositive() {
		return fmt.Errorf("minimum bid amount must be positive")
	}
	if c.MaxAmount.LessThan(c.MinAmount) {
		return fmt.Errorf("maximum bid amount %s is below minimum %s", c.MaxAmount, c.MinAmount)
	}
	switch c.AutoAcceptPolicy {
	case PolicyLowestAmount, PolicyEarliest:
	default:
		return fmt.Errorf("unknown auto-accept policy %q", c.AutoAcceptPolicy)
	}
	return nil
}

// NewPaymentConfig builds a PaymentConfig from application configuration.
func NewPaymentConfig(cfg *config.Config) (PaymentConfig, error) {
	pc := PaymentConfig{
		FeePercentage:   decimal.NewFromFloat(cfg.Payment.FeePercentage),
		Currency:        cfg.Payment.Currency,
		DefaultMethod:   domain.PaymentMethod(cfg.Payment.DefaultMethod),
		MaxRetries:      cfg.Payment.MaxRetries,
		ProviderTimeout: cfg.Provider.Timeout,
		PendingGrace:    cfg.Payment.PendingGrace,
		PendingTimeout:  cfg.Payment.PendingTimeout,
		RetryBackoff:    cfg.Payment.RetryBackoff,
		StuckProcessing: cfg.Payment.StuckProcessing,
		Retention:       cfg.Payment.TerminalRetention,
		BatchSize:       cfg.Scheduler.BatchSize,
		Workers:         cfg.Scheduler.WorkerCount,
	}
	return pc, pc.validate()
}

func (c PaymentConfig) validate() error {
	if c.FeePercentage.IsNegative() || c.FeePercentage.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("fee percentage must be between 0 and 100, got %s", c.FeePercentage)
	}
	if len(c.Currency) != 3 {
		return fmt.Errorf("currency must be a 3-letter code, got %q", c.Currency)
	}
	if !c.DefaultMethod.IsValid() {
		return fmt.Errorf("unknown default payment method %q", c.DefaultMethod)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max retries must be at least 1")
	}
	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("provider timeout must be positive")
	}
	return nil
}

func (c BidConfig) batchSize() int {
	if c.BatchSize <= 0 {
		return 100
	}
	return c.BatchSize
}

func (c PaymentConfig) batchSize() int {
	if c.BatchSize <= 0 {
		return 100
	}
	return c.BatchSize
}

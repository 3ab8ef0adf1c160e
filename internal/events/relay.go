package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/taskbid/internal/clock"
)

// Outbox is the persisted event log read by the Relay.
type Outbox interface {
	// ListUndispatched returns undelivered events with fewer than maxAttempts
	// failed deliveries, oldest first.
	ListUndispatched(ctx context.Context, maxAttempts, limit int) ([]*Event, error)
	MarkDispatched(ctx context.Context, id uuid.UUID, at time.Time) error
	// MarkFailed records the delivery error and increments the attempt count.
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
}

// RelayConfig holds configuration for the outbox relay.
type RelayConfig struct {
	// Interval is how often the outbox is polled when nobody signals.
	Interval time.Duration

	// BatchSize is the number of events read per query.
	BatchSize int

	// MaxAttempts is the number of failed deliveries after which an event
	// is left in the outbox for manual inspection.
	MaxAttempts int
}

// DefaultRelayConfig returns a RelayConfig with reasonable defaults.
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		Interval:    time.Second,
		BatchSize:   100,
		MaxAttempts: 10,
	}
}

// Relay moves events from the outbox to an EventEmitter. Delivery is at
// least once: an event is marked dispatched only after every handler
// accepted it.
type Relay struct {
	outbox  Outbox
	emitter EventEmitter
	clock   clock.Clock
	config  RelayConfig
	logger  *slog.Logger

	wake   chan struct{}
	passMu sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRelay creates a Relay. It does not start polling until Start is called.
func NewRelay(outbox Outbox, emitter EventEmitter, clk clock.Clock, config RelayConfig, logger *slog.Logger) (*Relay, error) {
	if outbox == nil {
		return nil, fmt.Errorf("outbox cannot be nil")
	}
	if emitter == nil {
		return nil, fmt.Errorf("emitter cannot be nil")
	}
	if clk == nil {
		return nil, fmt.Errorf("clock cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	defaults := DefaultRelayConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Relay{
		outbox:  outbox,
		emitter: emitter,
		clock:   clk,
		config:  config,
		logger:  logger.With("component", "outbox_relay"),
		wake:    make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Signal asks the relay to poll now. It never blocks.
func (r *Relay) Signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Start launches the polling goroutine.
func (r *Relay) Start() {
	r.wg.Add(1)
	go r.loop()
	r.logger.Info("outbox relay started", "interval", r.config.Interval)
}

// Stop halts polling and waits for an in-flight pass to finish.
func (r *Relay) Stop() {
	r.cancel()
	r.wg.Wait()
	r.logger.Info("outbox relay stopped")
}

func (r *Relay) loop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
		case <-r.wake:
		}

		if _, err := r.DispatchPending(r.ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("outbox dispatch pass failed", "error", err)
		}
	}
}

// DispatchPending delivers undispatched events until the outbox is drained
// or a delivery fails. It returns the number of events delivered.
func (r *Relay) DispatchPending(ctx context.Context) (int, error) {
	r.passMu.Lock()
	defer r.passMu.Unlock()

	delivered := 0
	for {
		batch, err := r.outbox.ListUndispatched(ctx, r.config.MaxAttempts, r.config.BatchSize)
		if err != nil {
			return delivered, fmt.Errorf("failed to list outbox events: %w", err)
		}

		failed := 0
		for _, event := range batch {
			if err := r.deliver(ctx, event); err != nil {
				failed++
				continue
			}
			delivered++
		}

		// Failed events stay undispatched; leave them for the next tick
		// instead of spinning on them within this pass.
		if failed > 0 || len(batch) < r.config.BatchSize {
			return delivered, nil
		}
	}
}

func (r *Relay) deliver(ctx context.Context, event *Event) error {
	log := r.logger.With("event_id", event.ID, "event_type", event.Type)

	if err := r.emitter.EmitEvent(ctx, event); err != nil {
		attempt := event.Attempts + 1
		if markErr := r.outbox.MarkFailed(ctx, event.ID, err.Error()); markErr != nil {
			log.Error("failed to record delivery failure", "error", markErr)
		}
		if attempt >= r.config.MaxAttempts {
			log.Error("event delivery abandoned", "attempts", attempt, "error", err)
		} else {
			log.Warn("event delivery failed", "attempts", attempt, "error", err)
		}
		return err
	}

	if err := r.outbox.MarkDispatched(ctx, event.ID, r.clock.Now()); err != nil {
		// The event will be delivered again; handlers are idempotent.
		log.Error("failed to mark event dispatched", "error", err)
		return err
	}
	return nil
}

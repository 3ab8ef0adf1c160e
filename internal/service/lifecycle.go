package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/phrazzld/taskbid/internal/clock"
	"github.com/phrazzld/taskbid/internal/events"
	"github.com/phrazzld/taskbid/internal/store"
)

// Signaler is told when a committed transaction appended events, so the
// outbox relay can deliver them without waiting for its next poll.
type Signaler interface {
	Signal()
}

// SweepResult summarizes one run of a background sweep.
type SweepResult struct {
	// Examined is the number of records the sweep considered.
	Examined int
	// Succeeded is the number of records transitioned.
	Succeeded int
	// Skipped is the number of records that needed no transition.
	Skipped int
	// Failed is the number of records whose unit of work returned an error.
	Failed int
	// Purged is the number of records deleted by retention.
	Purged int64
}

// txFn runs inside a store transaction and returns the events to append.
type txFn func(ctx context.Context, tx store.Store) ([]*events.Event, error)

// lifecycle holds what BidService and PaymentService share.
type lifecycle struct {
	store  store.Store
	clock  clock.Clock
	signal Signaler
	logger *slog.Logger
}

// SetSignaler sets the Signaler notified after commits that produced events.
func (l *lifecycle) SetSignaler(s Signaler) {
	l.signal = s
}

// inTx runs fn in a transaction and appends the events it returns in the
// same transaction.
func (l *lifecycle) inTx(ctx context.Context, fn txFn) error {
	var produced int
	err := l.store.RunInTx(ctx, func(ctx context.Context, tx store.Store) error {
		evts, err := fn(ctx, tx)
		if err != nil {
			return err
		}
		produced = len(evts)
		if produced == 0 {
			return nil
		}
		if err := tx.Outbox().Append(ctx, evts...); err != nil {
			return fmt.Errorf("failed to append events: %w", err)
		}
		return nil
	})
	if err == nil && produced > 0 && l.signal != nil {
		l.signal.Signal()
	}
	return err
}

type skipCounter struct {
	n atomic.Int64
}

func (c *skipCounter) inc()      { c.n.Add(1) }
func (c *skipCounter) load() int { return int(c.n.Load()) }

package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNoRecipient is returned when a message has no deliverable address.
var ErrNoRecipient = errors.New("notification has no recipient address")

// Message is a notification for one user.
type Message struct {
	UserID uuid.UUID
	// Phone is the E.164 number used by SMS notifiers. May be empty.
	Phone   string
	Subject string
	Body    string
}

// Notifier delivers messages.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// LogNotifier writes messages to the log. Used when no SMS provider is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger.With("component", "log_notifier")}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(ctx context.Context, msg Message) error {
	n.logger.InfoContext(ctx, "notification",
		"user_id", msg.UserID,
		"subject", msg.Subject,
		"body", msg.Body)
	return nil
}

// Async delivers through another Notifier on a background goroutine so the
// caller never waits on the delivery channel.
type Async struct {
	next    Notifier
	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// NewAsync wraps next. Each delivery gets its own timeout.
func NewAsync(next Notifier, timeout time.Duration, logger *slog.Logger) *Async {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Async{next: next, timeout: timeout, logger: logger.With("component", "async_notifier")}
}

// Notify implements Notifier. It always returns nil; failures are logged.
func (a *Async) Notify(ctx context.Context, msg Message) error {
	// Detach from the caller's cancellation but keep its values.
	ctx = context.WithoutCancel(ctx)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()

		ctx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()

		if err := a.next.Notify(ctx, msg); err != nil {
			a.logger.Warn("notification delivery failed",
				"user_id", msg.UserID,
				"subject", msg.Subject,
				"error", err)
		}
	}()
	return nil
}

// Wait blocks until every in-flight delivery has finished.
func (a *Async) Wait() {
	a.wg.Wait()
}

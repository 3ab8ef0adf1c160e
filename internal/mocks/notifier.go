package mocks

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/phrazzld/taskbid/internal/notify"
)

// MockNotifier implements notify.Notifier for testing and records every
// message it is asked to send.
type MockNotifier struct {
	// NotifyFn overrides the default behavior of accepting every message.
	NotifyFn func(ctx context.Context, msg notify.Message) error

	mu   sync.Mutex
	sent []notify.Message
}

var _ notify.Notifier = (*MockNotifier)(nil)

// Notify implements notify.Notifier.
func (m *MockNotifier) Notify(ctx context.Context, msg notify.Message) error {
	m.mu.Lock()
	m.sent = append(m.sent, msg)
	m.mu.Unlock()

	if m.NotifyFn != nil {
		return m.NotifyFn(ctx, msg)
	}
	return nil
}

// Sent returns the recorded messages in call order.
func (m *MockNotifier) Sent() []notify.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]notify.Message(nil), m.sent...)
}

// SentTo returns the recorded messages addressed to userID.
func (m *MockNotifier) SentTo(userID uuid.UUID) []notify.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []notify.Message
	for _, msg := range m.sent {
		if msg.UserID == userID {
			out = append(out, msg)
		}
	}
	return out
}

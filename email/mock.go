package email

import (
	"context"
	"log/slog"
	"sync"
)

// MockProvider is a mock email provider for local development and tests.
// It logs each message and keeps it in memory.
type MockProvider struct {
	logger *slog.Logger
	fail   map[string]error
	sent   []Message
	mu     sync.Mutex
}

// NewMockProvider creates a new mock email provider.
func NewMockProvider(logger *slog.Logger) *MockProvider {
	return &MockProvider{
		logger: logger,
		fail:   make(map[string]error),
	}
}

// FailFor makes every later send to the given address return err.
func (m *MockProvider) FailFor(to string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[to] = err
}

// Send logs the email instead of sending it.
func (m *MockProvider) Send(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.fail[msg.To]; ok {
		return err
	}
	m.sent = append(m.sent, msg)
	m.logger.Info("MOCK EMAIL",
		"to", msg.To,
		"subject", msg.Subject,
		"body_length", len(msg.HTML))
	return nil
}

// Sent returns a copy of every message sent so far.
func (m *MockProvider) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.sent))
	copy(out, m.sent)
	return out
}

package sessions

import (
	"context"
	"sync"
)

// Message is the rendered mail handed to the transport. Provider wiring
// (API tokens, sender identity) lives behind the Mailer implementation.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Mailer is the delivery capability this package depends on.
type Mailer interface {
	Deliver(ctx context.Context, msg Message) error
}

// MailerFunc adapts a function to the Mailer interface.
type MailerFunc func(ctx context.Context, msg Message) error

func (f MailerFunc) Deliver(ctx context.Context, msg Message) error {
	if f == nil {
		return nil
	}
	return f(ctx, msg)
}

// MemoryMailer records deliveries. Useful in tests and as a default when no
// transport is configured yet.
type MemoryMailer struct {
	mu       sync.Mutex
	messages []Message
	// FailWith makes every Deliver return this error, to exercise the
	// delivery-failure path.
	FailWith error
}

var _ Mailer = (*MemoryMailer)(nil)

func (m *MemoryMailer) Deliver(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWith != nil {
		return m.FailWith
	}

	m.messages = append(m.messages, msg)
	return nil
}

// Messages returns a copy of everything delivered so far.
func (m *MemoryMailer) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Message, len(m.messages))
	copy(out, m.messages)
	return out
}

type loggerMailer struct {
	logger Logger
}

// NewLoggerMailer returns a Mailer that only logs the would-be delivery.
func NewLoggerMailer(logger Logger) Mailer {
	if logger == nil {
		logger = defLogger{}
	}
	return loggerMailer{logger: logger}
}

func (m loggerMailer) Deliver(_ context.Context, msg Message) error {
	m.logger.Info("mail delivery", "to", msg.To, "subject", msg.Subject)
	return nil
}

// Package relay answers one inbound text message: it composes the prompt,
// obtains a completion, records the exchange and delivers the reply.
package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/comigor/line-relay/internal/audit"
	"github.com/comigor/line-relay/internal/delivery"
	"github.com/comigor/line-relay/internal/history"
	"github.com/comigor/line-relay/internal/logger"
	"github.com/comigor/line-relay/internal/prompt"
)

// Message is an inbound text message ready to relay.
type Message struct {
	ID         string
	UserID     string
	ReplyToken string
	Text       string
	ReceivedAt time.Time
}

// Completer produces reply text. On failure it returns a user-safe text
// together with a non-nil error.
type Completer interface {
	Complete(ctx context.Context, turns []history.Turn) (string, error)
}

// Deliverer sends text to the user.
type Deliverer interface {
	Deliver(ctx context.Context, userID, replyToken, text string) (delivery.Method, error)
}

// Service wires the relay flow.
type Service struct {
	history   *history.Store
	prompts   prompt.Provider
	completer Completer
	deliverer Deliverer
	audit     audit.Sink
}

// New creates a Service. A nil sink disables auditing.
func New(h *history.Store, p prompt.Provider, c Completer, d Deliverer, a audit.Sink) *Service {
	if a == nil {
		a = audit.Nop{}
	}
	return &Service{history: h, prompts: p, completer: c, deliverer: d, audit: a}
}

// Handle relays m. History is only extended when the provider produced a real
// answer; the apology text is still delivered. Only delivery errors are returned;
// audit failures are logged and dropped.
func (s *Service) Handle(ctx context.Context, m Message) error {
	log := logger.L.With("user", m.UserID, "message", m.ID)

	turns := prompt.Compose(s.prompts.SystemPrompt(m.UserID), s.history.Get(m.UserID), m.Text)
	answer, err := s.completer.Complete(ctx, turns)
	if err != nil {
		log.Warn("completion failed; sending apology", "error", err)
	} else {
		s.history.Append(m.UserID, history.User(m.Text), history.Assistant(answer))
	}

	method, err := s.deliverer.Deliver(ctx, m.UserID, m.ReplyToken, answer)
	if err != nil {
		return fmt.Errorf("deliver message %s: %w", m.ID, err)
	}
	attrs := []any{"method", method}
	if !m.ReceivedAt.IsZero() {
		attrs = append(attrs, "elapsed", time.Since(m.ReceivedAt))
	}
	log.Info("reply delivered", attrs...)

	entry := audit.Entry{
		MessageID: m.ID,
		UserID:    m.UserID,
		Question:  m.Text,
		Response:  answer,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		log.Warn("audit sink failed", "error", err)
	}
	return nil
}

package notification

import (
	"context"
	"log/slog"
	"sync"
)

const (
	KindTransferReceived   = "transfer_received"
	KindDepositCompleted   = "deposit_completed"
	KindWithdrawalSettled  = "withdrawal_settled"
	KindWithdrawalFailed   = "withdrawal_failed"
	KindMoneyRequested     = "money_requested"
	KindMoneyRequestClosed = "money_request_closed"
	KindMFACode            = "mfa_code"
)

// Message describes a notification payload. Destination is a user id.
type Message struct {
	Kind        string
	Destination string
	Body        string
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the structured logger instead of an
// email or SMS provider.
type LoggerNotifier struct {
	logger *slog.Logger
}

func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification", "kind", message.Kind, "destination", message.Destination, "body", message.Body)
	return nil
}

// Recorder keeps every message in memory. Tests use it to assert deliveries.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
}

func (r *Recorder) Send(_ context.Context, message Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
	return nil
}

// Messages returns a copy of the recorded messages.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// Notify sends message when n is non-nil, logging delivery failures instead
// of returning them.
func Notify(ctx context.Context, n Notifier, logger *slog.Logger, message Message) {
	if n == nil {
		return
	}
	if err := n.Send(ctx, message); err != nil && logger != nil {
		logger.Warn("notification delivery failed", "kind", message.Kind, "destination", message.Destination, "error", err)
	}
}

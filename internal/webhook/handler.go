package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/ledgerpay/internal/apierror"
	"github.com/congo-pay/ledgerpay/internal/metrics"
	"github.com/congo-pay/ledgerpay/internal/paystack"
)

// Events this service acts on. Anything else is acknowledged and ignored.
const (
	EventChargeSuccess    = "charge.success"
	EventTransferSuccess  = "transfer.success"
	EventTransferFailed   = "transfer.failed"
	EventTransferReversed = "transfer.reversed"
)

var (
	// ErrInvalidSignature means the payload was not signed with our secret.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrNotConfigured means no processor secret is configured.
	ErrNotConfigured = errors.New("webhook secret is not configured")

	ErrMalformedEvent = errors.New("malformed webhook payload")
)

// Event is the processor's notification envelope.
type Event struct {
	Event string    `json:"event"`
	Data  EventData `json:"data"`
}

// EventData holds the fields used from charge and transfer payloads.
type EventData struct {
	Reference    string `json:"reference"`
	Amount       int64  `json:"amount"`
	TransferCode string `json:"transfer_code"`
	Status       string `json:"status"`
}

// Queue accepts verified events for asynchronous processing.
type Queue interface {
	Enqueue(ev Event) error
}

// Handler verifies and queues processor webhooks.
type Handler struct {
	secret  string
	queue   Queue
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewHandler builds a webhook handler. logger and m may be nil.
func NewHandler(secret string, queue Queue, logger *slog.Logger, m *metrics.Metrics) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{secret: secret, queue: queue, logger: logger, metrics: m}
}

// Handle authenticates body against signature and queues the event it
// carries. Once the signature is valid, business outcomes never surface here.
func (h *Handler) Handle(_ context.Context, body []byte, signature string) (Event, error) {
	if h.secret == "" {
		return Event{}, ErrNotConfigured
	}
	if !paystack.VerifySignature(body, signature, h.secret) {
		return Event{}, ErrInvalidSignature
	}

	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil || ev.Event == "" {
		return Event{}, ErrMalformedEvent
	}
	if !Supported(ev.Event) {
		h.metrics.ObserveWebhook(ev.Event, "ignored")
		return ev, nil
	}
	if err := h.queue.Enqueue(ev); err != nil {
		return ev, err
	}
	h.metrics.ObserveWebhook(ev.Event, "queued")
	return ev, nil
}

// Receive is the HTTP entry point for processor webhooks.
func (h *Handler) Receive(c *fiber.Ctx) error {
	ev, err := h.Handle(c.UserContext(), c.Body(), c.Get(paystack.SignatureHeader))
	switch {
	case errors.Is(err, ErrInvalidSignature):
		h.logger.Warn("webhook signature mismatch",
			"remote_ip", c.IP(),
			"request_id", c.Locals("X-Request-ID"),
		)
		h.metrics.ObserveWebhook("unknown", "invalid_signature")
		return apierror.New(http.StatusUnauthorized, apierror.CodeInvalidSig, "invalid signature")
	case errors.Is(err, ErrNotConfigured):
		h.logger.Error("webhook received without a configured secret")
		return apierror.Internal()
	case errors.Is(err, ErrMalformedEvent):
		return apierror.Validation("malformed payload", nil)
	case errors.Is(err, ErrQueueFull), errors.Is(err, ErrStopped):
		h.logger.Warn("webhook not queued", "event", ev.Event, "reference", ev.Data.Reference, "error", err)
		return apierror.New(http.StatusServiceUnavailable, apierror.CodeInternal, "try again later")
	case err != nil:
		return err
	}
	return c.SendStatus(http.StatusOK)
}

// Supported reports whether event is acted upon.
func Supported(event string) bool {
	switch event {
	case EventChargeSuccess, EventTransferSuccess, EventTransferFailed, EventTransferReversed:
		return true
	}
	return false
}

package webhook

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/ledgerpay/internal/apierror"
	"github.com/congo-pay/ledgerpay/internal/logging"
	"github.com/congo-pay/ledgerpay/internal/paystack"
)

const testSecret = "sk_test_webhook"

type queueRecorder struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (q *queueRecorder) Enqueue(ev Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.events = append(q.events, ev)
	return nil
}

func (q *queueRecorder) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

func newTestApp(secret string, q Queue) *fiber.App {
	logger := logging.Discard()
	app := fiber.New(fiber.Config{ErrorHandler: apierror.Handler(logger)})
	h := NewHandler(secret, q, logger, nil)
	app.Post("/payments/webhook", h.Receive)
	return app
}

func post(t *testing.T, app *fiber.App, body []byte, signature string) int {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, "/payments/webhook", bytes.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if signature != "" {
		req.Header.Set(paystack.SignatureHeader, signature)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func TestReceiveQueuesSignedEvent(t *testing.T) {
	q := &queueRecorder{}
	app := newTestApp(testSecret, q)
	body := []byte(`{"event":"charge.success","data":{"reference":"DEP-1","amount":50000,"status":"success"}}`)

	if status := post(t, app, body, paystack.Sign(body, testSecret)); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if q.len() != 1 {
		t.Fatalf("expected one queued event, got %d", q.len())
	}
	ev := q.events[0]
	if ev.Event != EventChargeSuccess || ev.Data.Reference != "DEP-1" || ev.Data.Amount != 50000 {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestReceiveRejectsBadSignature(t *testing.T) {
	q := &queueRecorder{}
	app := newTestApp(testSecret, q)
	body := []byte(`{"event":"charge.success","data":{"reference":"DEP-1","amount":50000}}`)

	if status := post(t, app, body, paystack.Sign(body, "someone-else")); status != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", status)
	}
	if status := post(t, app, body, ""); status != http.StatusUnauthorized {
		t.Fatalf("expected 401 without signature, got %d", status)
	}
	tampered := []byte(`{"event":"charge.success","data":{"reference":"DEP-1","amount":99999}}`)
	if status := post(t, app, tampered, paystack.Sign(body, testSecret)); status != http.StatusUnauthorized {
		t.Fatalf("expected 401 for tampered body, got %d", status)
	}
	if q.len() != 0 {
		t.Fatalf("nothing should be queued, got %d", q.len())
	}
}

func TestReceiveWithoutSecretFails(t *testing.T) {
	app := newTestApp("", &queueRecorder{})
	body := []byte(`{"event":"charge.success","data":{}}`)
	if status := post(t, app, body, paystack.Sign(body, "")); status != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", status)
	}
}

func TestReceiveIgnoresUnknownEvents(t *testing.T) {
	q := &queueRecorder{}
	app := newTestApp(testSecret, q)
	body := []byte(`{"event":"subscription.create","data":{"reference":"SUB-1"}}`)

	if status := post(t, app, body, paystack.Sign(body, testSecret)); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if q.len() != 0 {
		t.Fatalf("unknown events must not be queued")
	}
}

func TestReceiveReportsFullQueue(t *testing.T) {
	app := newTestApp(testSecret, &queueRecorder{err: ErrQueueFull})
	body := []byte(`{"event":"transfer.success","data":{"reference":"WDR-1","transfer_code":"TRF_1"}}`)

	if status := post(t, app, body, paystack.Sign(body, testSecret)); status != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", status)
	}
}

func TestReceiveRejectsMalformedPayload(t *testing.T) {
	app := newTestApp(testSecret, &queueRecorder{})
	body := []byte(`not json`)
	if status := post(t, app, body, paystack.Sign(body, testSecret)); status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", status)
	}
}

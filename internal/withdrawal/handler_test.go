package withdrawal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/ledgerpay/internal/apierror"
	"github.com/congo-pay/ledgerpay/internal/logging"
	"github.com/congo-pay/ledgerpay/internal/processor"
)

func newHandlerApp(f fixture) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: apierror.Handler(logging.Discard())})
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("user_id", f.owner)
		return c.Next()
	})
	h := NewHandler(f.svc)
	app.Post("/withdrawals", h.Request)
	return app
}

func postWithdrawal(t *testing.T, app *fiber.App, body string) (int, apierror.Error) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, "/withdrawals", strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	var out struct {
		Error apierror.Error `json:"error"`
	}
	json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out.Error
}

func TestRequestReportsFailedInitiationWithoutMovingFunds(t *testing.T) {
	cases := []struct {
		name            string
		cachedRecipient bool
	}{
		{name: "recipient creation rejected", cachedRecipient: false},
		{name: "transfer rejected after reservation", cachedRecipient: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, 200, Options{})
			if tc.cachedRecipient {
				if _, err := f.users.SaveRecipientCode(context.Background(), f.owner, "RCP_cached"); err != nil {
					t.Fatalf("save recipient: %v", err)
				}
			}
			f.payouts.FailNext = processor.ErrRejected

			status, apiErr := postWithdrawal(t, newHandlerApp(f), `{"amount":"1.50"}`)
			if status != http.StatusBadGateway {
				t.Fatalf("expected 502, got %d", status)
			}
			if apiErr.Message != "payout could not be started; no funds were moved" {
				t.Fatalf("unexpected message %q", apiErr.Message)
			}
			if w := f.wallet(t); w.Balance != 200 || w.Held != 0 {
				t.Fatalf("expected wallet untouched, got %+v", w)
			}
		})
	}
}

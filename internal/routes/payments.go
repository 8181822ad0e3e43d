package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/ledgerpay/internal/deposit"
	"github.com/congo-pay/ledgerpay/internal/webhook"
	"github.com/congo-pay/ledgerpay/internal/withdrawal"
)

// PaymentHandlers groups the processor-facing handlers.
type PaymentHandlers struct {
	Deposits    *deposit.Handler
	Withdrawals *withdrawal.Handler
	Webhook     *webhook.Handler
}

// RegisterPaymentRoutes wires deposits, withdrawals and the processor webhook.
// The checkout callback and the webhook are public; the rest require a token.
func RegisterPaymentRoutes(r fiber.Router, h PaymentHandlers, jwtmw, idem fiber.Handler) {
	group := r.Group("/payments")
	group.Get("/verify", h.Deposits.Verify)
	group.Post("/webhook", h.Webhook.Receive)

	group.Post("/deposit", jwtmw, idem, h.Deposits.Initiate)
	group.Post("/withdrawals", jwtmw, idem, h.Withdrawals.Request)
	group.Post("/withdrawals/confirm", jwtmw, idem, h.Withdrawals.Confirm)
	group.Get("/withdrawals/:transferCode", jwtmw, h.Withdrawals.Status)
}

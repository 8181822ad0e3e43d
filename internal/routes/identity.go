package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/ledgerpay/internal/identity"
)

// RegisterIdentityRoutes wires the authenticated profile endpoints.
func RegisterIdentityRoutes(r fiber.Router, h *identity.Handler) {
	r.Get("/me", h.Me)
	r.Put("/me", h.UpdateProfile)
	r.Put("/me/payout-account", h.UpdatePayoutAccount)
}

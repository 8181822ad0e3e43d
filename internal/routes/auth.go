package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/ledgerpay/internal/auth"
	"github.com/congo-pay/ledgerpay/internal/identity"
)

// RegisterAuthRoutes wires registration and token endpoints.
func RegisterAuthRoutes(r fiber.Router, ids *identity.Handler, h *auth.Handler, mfa *auth.MFAHandler, rateLimiter, jwtmw fiber.Handler) {
	group := r.Group("/auth")
	group.Post("/register", ids.Register)
	if rateLimiter != nil {
		group.Post("/login", rateLimiter, h.Login)
		group.Post("/mfa/setup", rateLimiter, mfa.Setup)
		group.Post("/mfa/verify", rateLimiter, mfa.Verify)
	} else {
		group.Post("/login", h.Login)
		group.Post("/mfa/setup", mfa.Setup)
		group.Post("/mfa/verify", mfa.Verify)
	}
	group.Post("/refresh", h.Refresh)
	group.Post("/logout", jwtmw, h.Logout)
}

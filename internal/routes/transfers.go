package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/ledgerpay/internal/moneyrequest"
	"github.com/congo-pay/ledgerpay/internal/transfer"
)

// RegisterTransferRoutes wires P2P transfers and money requests.
func RegisterTransferRoutes(r fiber.Router, transfers *transfer.Handler, requests *moneyrequest.Handler) {
	r.Post("/transfers", transfers.Create)

	r.Post("/requests", requests.Create)
	r.Get("/requests", requests.List)
	r.Post("/requests/:id/approve", requests.Approve)
	r.Post("/requests/:id/decline", requests.Decline)
}

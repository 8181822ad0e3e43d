package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/ledgerpay/internal/apierror"
	"github.com/congo-pay/ledgerpay/internal/metrics"
)

// Metrics counts requests by method, route template and status.
func Metrics(m *metrics.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()
		status := c.Response().StatusCode()
		if err != nil {
			status = apierror.From(err).Status
		}
		m.ObserveHTTP(c.Method(), c.Route().Path, status)
		return err
	}
}

package middleware

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/ledgerpay/internal/apierror"
	"github.com/congo-pay/ledgerpay/internal/idempotency"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	replayedHeader       = "Idempotent-Replayed"
	maxIdempotencyKeyLen = 128
)

type storedResponse struct {
	Status      int    `json:"status"`
	Body        string `json:"body"`
	ContentType string `json:"content_type"`
}

// Idempotency replays the recorded response of an unsafe request carrying an
// Idempotency-Key header. Keys are scoped to the caller and route. Requests
// without the header pass through; the ledger's unique references still apply.
func Idempotency(guard *idempotency.Guard, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		switch strings.ToUpper(c.Method()) {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			return c.Next()
		}

		key := strings.TrimSpace(c.Get(idempotencyKeyHeader))
		if key == "" || guard == nil {
			return c.Next()
		}
		if len(key) > maxIdempotencyKeyLen {
			return apierror.Validation("Idempotency-Key is too long", map[string]string{idempotencyKeyHeader: "max 128 characters"})
		}

		uid, _ := c.Locals("user_id").(string)
		scope := "http:" + uid + ":" + c.Method() + ":" + c.Path()

		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		claim, err := guard.Begin(ctx, scope, key)
		cancel()
		if err != nil {
			if errors.Is(err, idempotency.ErrInProgress) {
				return apierror.From(err)
			}
			logger.Error("idempotency lookup failed", slog.String("key", key), slog.Any("error", err))
			return apierror.Internal()
		}

		if claim.Replayed {
			var stored storedResponse
			if err := claim.Decode(&stored); err != nil {
				logger.Warn("failed to decode stored idempotent response", slog.String("key", key), slog.Any("error", err))
				return apierror.New(fiber.StatusConflict, apierror.CodeStateConflict, "duplicate request")
			}
			if stored.ContentType != "" {
				c.Set(fiber.HeaderContentType, stored.ContentType)
			}
			c.Set(replayedHeader, "true")
			return c.Status(stored.Status).SendString(stored.Body)
		}

		release := func() {
			cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(c.UserContext()), 2*time.Second)
			defer cancel()
			_ = guard.Release(cleanupCtx, claim)
		}

		if err := c.Next(); err != nil {
			release()
			return err
		}
		status := c.Response().StatusCode()
		if status >= fiber.StatusInternalServerError {
			release()
			return nil
		}

		stored := storedResponse{
			Status:      status,
			Body:        string(c.Response().Body()),
			ContentType: string(c.Response().Header.ContentType()),
		}
		persistCtx, persistCancel := context.WithTimeout(context.WithoutCancel(c.UserContext()), 2*time.Second)
		defer persistCancel()
		if err := guard.Complete(persistCtx, claim, stored); err != nil {
			logger.Error("failed to persist idempotent response", slog.String("key", key), slog.Any("error", err))
			_ = guard.Release(persistCtx, claim)
		}
		return nil
	}
}

package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/ledgerpay/internal/apierror"
	"github.com/congo-pay/ledgerpay/internal/auth"
)

// JWTAuth validates bearer access tokens and rejects revoked ones. The caller's
// id is stored under "user_id" and the full claims under auth.ClaimsKey.
func JWTAuth(tokens *auth.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if len(authz) < len("Bearer ") || !strings.EqualFold(authz[:len("Bearer ")], "bearer ") {
			return apierror.Unauthorized("missing bearer token")
		}
		tokenStr := strings.TrimSpace(authz[len("Bearer "):])
		claims, err := tokens.Verify(c.UserContext(), tokenStr)
		if err != nil {
			return auth.TokenError(err)
		}

		c.Locals("user_id", claims.UserID())
		c.Locals(auth.ClaimsKey, claims)
		return c.Next()
	}
}

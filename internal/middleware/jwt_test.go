package middleware

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/ledgerpay/internal/apierror"
	"github.com/congo-pay/ledgerpay/internal/auth"
	"github.com/congo-pay/ledgerpay/internal/identity"
	"github.com/congo-pay/ledgerpay/internal/logging"
)

func TestJWTAuthSetsCallerAndRejectsRevoked(t *testing.T) {
	ids := identity.NewService(identity.NewMemoryRepository(), nil)
	user, err := ids.Register(context.Background(), identity.RegisterInput{Email: "ada@example.com", Phone: "+2348030000000", Password: "long-enough"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	svc := auth.NewService(auth.NewIssuer("a", "r", time.Minute, time.Hour), auth.NewMemoryRevocationList(), ids)
	pair, err := svc.Login(user)
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	app := fiber.New(fiber.Config{ErrorHandler: apierror.Handler(logging.Discard())})
	app.Get("/whoami", JWTAuth(svc), func(c *fiber.Ctx) error {
		return c.SendString(c.Locals("user_id").(string))
	})

	call := func(header string) int {
		req := httptest.NewRequest(fiber.MethodGet, "/whoami", nil)
		if header != "" {
			req.Header.Set(fiber.HeaderAuthorization, header)
		}
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if got := call(""); got != fiber.StatusUnauthorized {
		t.Fatalf("expected 401 without header, got %d", got)
	}
	if got := call("Bearer garbage"); got != fiber.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", got)
	}
	if got := call("bearer " + pair.AccessToken); got != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", got)
	}

	claims, err := svc.Verify(context.Background(), pair.AccessToken)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := svc.Logout(context.Background(), claims, ""); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if got := call("Bearer " + pair.AccessToken); got != fiber.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", got)
	}
}

func newLoginApp(cache *redis.Client, limit int) *fiber.App {
	logger := logging.Discard()
	app := fiber.New(fiber.Config{ErrorHandler: apierror.Handler(logger)})
	app.Post("/login", LoginRateLimit(cache, limit, logger), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	return app
}

func attemptLogin(t *testing.T, app *fiber.App, email string) int {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, "/login", strings.NewReader(`{"email":"`+email+`"}`))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func TestLoginRateLimitRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cache.Close()

	app := newLoginApp(cache, 2)
	for i := 0; i < 2; i++ {
		if got := attemptLogin(t, app, "ada@example.com"); got != fiber.StatusOK {
			t.Fatalf("attempt %d: expected 200, got %d", i, got)
		}
	}
	if got := attemptLogin(t, app, "ADA@example.com"); got != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", got)
	}
	if got := attemptLogin(t, app, "bob@example.com"); got != fiber.StatusOK {
		t.Fatalf("other emails should not be limited, got %d", got)
	}

	mr.FastForward(time.Minute + time.Second)
	if got := attemptLogin(t, app, "ada@example.com"); got != fiber.StatusOK {
		t.Fatalf("expected window to reset, got %d", got)
	}
}

func TestLoginRateLimitWithoutRedis(t *testing.T) {
	app := newLoginApp(nil, 2)
	for i := 0; i < 2; i++ {
		if got := attemptLogin(t, app, "ada@example.com"); got != fiber.StatusOK {
			t.Fatalf("attempt %d: expected 200, got %d", i, got)
		}
	}
	if got := attemptLogin(t, app, "ada@example.com"); got != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", got)
	}
}

package auth

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/ledgerpay/internal/identity"
	"github.com/congo-pay/ledgerpay/internal/logging"
	"github.com/congo-pay/ledgerpay/internal/notification"
)

var sixDigits = regexp.MustCompile(`\b(\d{6})\b`)

func newMFA(t *testing.T, codes CodeStore) (*MFA, *notification.Recorder, identity.User) {
	t.Helper()
	ids := identity.NewService(identity.NewMemoryRepository(), nil)
	user, err := ids.Register(context.Background(), identity.RegisterInput{Email: "ada@example.com", Phone: "+2348030000000", Password: "long-enough"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	rec := &notification.Recorder{}
	return NewMFA(codes, ids, rec, logging.Discard(), 5*time.Minute), rec, user
}

func sentCode(t *testing.T, rec *notification.Recorder) string {
	t.Helper()
	msgs := rec.Messages()
	if len(msgs) == 0 {
		t.Fatalf("no verification code was sent")
	}
	m := sixDigits.FindStringSubmatch(msgs[len(msgs)-1].Body)
	if m == nil {
		t.Fatalf("no code in %q", msgs[len(msgs)-1].Body)
	}
	return m[1]
}

func TestMFACodeIsSentStoredAndConsumed(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	mfa, rec, user := newMFA(t, NewRedisCodeStore(client))
	ctx := context.Background()

	if err := mfa.Setup(ctx, "Ada@Example.com"); err != nil {
		t.Fatalf("setup: %v", err)
	}
	msg := rec.Messages()[0]
	if msg.Kind != notification.KindMFACode || msg.Destination != user.ID {
		t.Fatalf("unexpected notification %+v", msg)
	}
	code := sentCode(t, rec)
	if ttl := mr.TTL(mfaPrefix + "ada@example.com"); ttl != 5*time.Minute {
		t.Fatalf("expected a five minute ttl, got %s", ttl)
	}

	wrong := "100000"
	if code == wrong {
		wrong = "999999"
	}
	if err := mfa.Verify(ctx, "ada@example.com", wrong); !errors.Is(err, ErrMFACodeInvalid) {
		t.Fatalf("expected wrong code to fail, got %v", err)
	}
	if err := mfa.Verify(ctx, "ada@example.com", code); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := mfa.Verify(ctx, "ada@example.com", code); !errors.Is(err, ErrMFACodeInvalid) {
		t.Fatalf("expected a used code to be rejected, got %v", err)
	}
}

func TestMFACodeExpires(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	mfa, rec, _ := newMFA(t, NewRedisCodeStore(client))
	ctx := context.Background()

	if err := mfa.Setup(ctx, "ada@example.com"); err != nil {
		t.Fatalf("setup: %v", err)
	}
	code := sentCode(t, rec)
	mr.FastForward(6 * time.Minute)
	if err := mfa.Verify(ctx, "ada@example.com", code); !errors.Is(err, ErrMFACodeInvalid) {
		t.Fatalf("expected expired code to be rejected, got %v", err)
	}
}

func TestMFASetupForUnknownEmailSendsNothing(t *testing.T) {
	mfa, rec, _ := newMFA(t, NewMemoryCodeStore())
	ctx := context.Background()

	if err := mfa.Setup(ctx, "nobody@example.com"); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if n := len(rec.Messages()); n != 0 {
		t.Fatalf("expected no notification, got %d", n)
	}
	if err := mfa.Verify(ctx, "nobody@example.com", "123456"); !errors.Is(err, ErrMFACodeInvalid) {
		t.Fatalf("expected invalid code, got %v", err)
	}
}

func TestMFASetupReplacesPendingCode(t *testing.T) {
	mfa, rec, _ := newMFA(t, NewMemoryCodeStore())
	ctx := context.Background()

	if err := mfa.Setup(ctx, "ada@example.com"); err != nil {
		t.Fatalf("setup: %v", err)
	}
	first := sentCode(t, rec)
	if err := mfa.Setup(ctx, "ada@example.com"); err != nil {
		t.Fatalf("setup: %v", err)
	}
	second := sentCode(t, rec)
	if first != second {
		if err := mfa.Verify(ctx, "ada@example.com", first); !errors.Is(err, ErrMFACodeInvalid) {
			t.Fatalf("expected the replaced code to be rejected, got %v", err)
		}
	}
	if err := mfa.Verify(ctx, "ada@example.com", second); err != nil {
		t.Fatalf("verify latest code: %v", err)
	}
}

package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/ledgerpay/internal/identity"
)

func newTestService(t *testing.T, revoked RevocationList) (*Service, *Issuer, identity.User) {
	t.Helper()
	ids := identity.NewService(identity.NewMemoryRepository(), nil)
	user, err := ids.Register(context.Background(), identity.RegisterInput{Email: "ada@example.com", Phone: "+2348030000000", Password: "long-enough"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	issuer := NewIssuer("access-secret", "refresh-secret", time.Minute, time.Hour)
	return NewService(issuer, revoked, ids), issuer, user
}

func TestLoginAndVerify(t *testing.T) {
	svc, _, user := newTestService(t, NewMemoryRevocationList())
	ctx := context.Background()

	pair, err := svc.Login(user)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if pair.ExpiresIn <= 0 || pair.ExpiresIn > 60 {
		t.Fatalf("unexpected expires_in %d", pair.ExpiresIn)
	}

	claims, err := svc.Verify(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID() != user.ID || claims.ID == "" {
		t.Fatalf("unexpected claims %+v", claims)
	}

	// A refresh token is not accepted where an access token is expected.
	if _, err := svc.Verify(ctx, pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token for refresh token, got %v", err)
	}
}

func TestVerifyRejectsTamperedAndExpiredTokens(t *testing.T) {
	svc, issuer, user := newTestService(t, NewMemoryRevocationList())
	ctx := context.Background()

	other := NewIssuer("other-secret", "refresh-secret", time.Minute, time.Hour)
	foreign, _, err := other.issue(user.ID, TokenTypeAccess)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := svc.Verify(ctx, foreign); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token, got %v", err)
	}

	issuer.now = func() time.Time { return time.Now().Add(-2 * time.Minute) }
	stale, _, err := issuer.issue(user.ID, TokenTypeAccess)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	issuer.now = time.Now
	if _, err := svc.Verify(ctx, stale); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected expired token, got %v", err)
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{Type: TokenTypeAccess, RegisteredClaims: jwt.RegisteredClaims{Subject: user.ID, ID: "x"}})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := svc.Verify(ctx, unsigned); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected alg none to be rejected, got %v", err)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	svc, _, user := newTestService(t, NewMemoryRevocationList())
	ctx := context.Background()

	pair, err := svc.Login(user)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	next, err := svc.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if next.AccessToken == pair.AccessToken || next.RefreshToken == pair.RefreshToken {
		t.Fatalf("expected new tokens")
	}
	if _, err := svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrRevokedToken) {
		t.Fatalf("expected reused refresh token to be revoked, got %v", err)
	}
	if _, err := svc.Refresh(ctx, pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected access token to be refused for refresh, got %v", err)
	}
}

func TestLogoutRevokesInRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	svc, _, user := newTestService(t, NewRedisRevocationList(client))
	ctx := context.Background()

	pair, err := svc.Login(user)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	claims, err := svc.Verify(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := svc.Logout(ctx, claims, pair.RefreshToken); err != nil {
		t.Fatalf("logout: %v", err)
	}

	if _, err := svc.Verify(ctx, pair.AccessToken); !errors.Is(err, ErrRevokedToken) {
		t.Fatalf("expected revoked access token, got %v", err)
	}
	if _, err := svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrRevokedToken) {
		t.Fatalf("expected revoked refresh token, got %v", err)
	}

	ttl := mr.TTL(revokedPrefix + claims.ID)
	if ttl <= 0 || ttl > time.Minute {
		t.Fatalf("expected revocation to live for the token's remaining lifetime, got %s", ttl)
	}
	mr.FastForward(2 * time.Minute)
	if mr.Exists(revokedPrefix + claims.ID) {
		t.Fatalf("revocation entry should expire with the token")
	}
}

func TestMemoryRevocationListExpires(t *testing.T) {
	list := NewMemoryRevocationList()
	ctx := context.Background()
	now := time.Now()
	list.now = func() time.Time { return now }

	if err := list.Revoke(ctx, "a", now.Add(time.Minute)); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if revoked, _ := list.IsRevoked(ctx, "a"); !revoked {
		t.Fatalf("expected revoked")
	}
	list.now = func() time.Time { return now.Add(2 * time.Minute) }
	if revoked, _ := list.IsRevoked(ctx, "a"); revoked {
		t.Fatalf("expected entry to lapse with the token")
	}
}

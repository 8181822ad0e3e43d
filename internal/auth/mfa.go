package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/ledgerpay/internal/identity"
	"github.com/congo-pay/ledgerpay/internal/notification"
)

const (
	mfaPrefix         = "auth:mfa:"
	defaultMFACodeTTL = 5 * time.Minute
)

// ErrMFACodeInvalid covers wrong, expired and never-issued codes alike.
var ErrMFACodeInvalid = errors.New("invalid or expired verification code")

// CodeStore keeps one pending verification code per email.
type CodeStore interface {
	Put(ctx context.Context, email, code string, ttl time.Duration) error
	Get(ctx context.Context, email string) (string, bool, error)
	Delete(ctx context.Context, email string) error
}

// RedisCodeStore shares pending codes across instances.
type RedisCodeStore struct {
	client *redis.Client
}

func NewRedisCodeStore(client *redis.Client) *RedisCodeStore {
	return &RedisCodeStore{client: client}
}

func (s *RedisCodeStore) Put(ctx context.Context, email, code string, ttl time.Duration) error {
	return s.client.SetEx(ctx, mfaPrefix+email, code, ttl).Err()
}

func (s *RedisCodeStore) Get(ctx context.Context, email string) (string, bool, error) {
	code, err := s.client.Get(ctx, mfaPrefix+email).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return code, true, nil
}

func (s *RedisCodeStore) Delete(ctx context.Context, email string) error {
	return s.client.Del(ctx, mfaPrefix+email).Err()
}

type memoryCode struct {
	code      string
	expiresAt time.Time
}

// MemoryCodeStore is the single-process CodeStore used without Redis.
type MemoryCodeStore struct {
	mu    sync.Mutex
	codes map[string]memoryCode
}

func NewMemoryCodeStore() *MemoryCodeStore {
	return &MemoryCodeStore{codes: make(map[string]memoryCode)}
}

func (s *MemoryCodeStore) Put(_ context.Context, email, code string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[email] = memoryCode{code: code, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (s *MemoryCodeStore) Get(_ context.Context, email string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.codes[email]
	if !ok || !time.Now().Before(c.expiresAt) {
		delete(s.codes, email)
		return "", false, nil
	}
	return c.code, true, nil
}

func (s *MemoryCodeStore) Delete(_ context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.codes, email)
	return nil
}

// Directory finds the user a code is issued for.
type Directory interface {
	Resolve(ctx context.Context, identifier string) (identity.User, error)
}

// MFA issues six-digit email verification codes and checks them once.
type MFA struct {
	codes    CodeStore
	users    Directory
	notifier notification.Notifier
	logger   *slog.Logger
	ttl      time.Duration
}

// NewMFA builds the verification-code flow. ttl defaults to five minutes.
func NewMFA(codes CodeStore, users Directory, notifier notification.Notifier, logger *slog.Logger, ttl time.Duration) *MFA {
	if ttl <= 0 {
		ttl = defaultMFACodeTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MFA{codes: codes, users: users, notifier: notifier, logger: logger, ttl: ttl}
}

// Setup sends a fresh code to the user registered under email, replacing any
// pending one. Unknown emails succeed silently.
func (m *MFA) Setup(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	user, err := m.users.Resolve(ctx, email)
	if errors.Is(err, identity.ErrUserNotFound) {
		m.logger.Info("auth.mfa setup for unknown email")
		return nil
	}
	if err != nil {
		return err
	}

	code, err := newCode()
	if err != nil {
		return err
	}
	if err := m.codes.Put(ctx, email, code, m.ttl); err != nil {
		return fmt.Errorf("store verification code: %w", err)
	}
	notification.Notify(ctx, m.notifier, m.logger, notification.Message{
		Kind:        notification.KindMFACode,
		Destination: user.ID,
		Body:        fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", code, int(m.ttl.Minutes())),
	})
	return nil
}

// Verify checks code against the pending one for email and consumes it on a
// match.
func (m *MFA) Verify(ctx context.Context, email, code string) error {
	email = normalizeEmail(email)
	stored, ok, err := m.codes.Get(ctx, email)
	if err != nil {
		return fmt.Errorf("load verification code: %w", err)
	}
	if !ok || subtle.ConstantTimeCompare([]byte(stored), []byte(code)) != 1 {
		return ErrMFACodeInvalid
	}
	if err := m.codes.Delete(ctx, email); err != nil {
		return fmt.Errorf("consume verification code: %w", err)
	}
	return nil
}

func newCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

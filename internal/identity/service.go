package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/congo-pay/ledgerpay/internal/ledger"
)

const minPasswordLength = 8

// WalletProvisioner creates the wallet of a newly registered user.
type WalletProvisioner interface {
	EnsureWallet(ctx context.Context, ownerID string) (ledger.Wallet, error)
}

// Service manages identity lifecycle.
type Service struct {
	repo    Repository
	wallets WalletProvisioner
}

// NewService creates a new identity service. wallets may be nil, in which case
// wallets are created lazily on the first credit.
func NewService(repo Repository, wallets WalletProvisioner) *Service {
	return &Service{repo: repo, wallets: wallets}
}

// Register creates a user with a bcrypt-hashed password and provisions the
// user's wallet.
func (s *Service) Register(ctx context.Context, input RegisterInput) (User, error) {
	if len(input.Password) < minPasswordLength {
		return User{}, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}

	user := User{
		ID:           uuid.New().String(),
		Email:        strings.ToLower(strings.TrimSpace(input.Email)),
		Phone:        strings.TrimSpace(input.Phone),
		FullName:     strings.TrimSpace(input.FullName),
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.repo.Create(ctx, user); err != nil {
		return User{}, err
	}

	if s.wallets != nil {
		if _, err := s.wallets.EnsureWallet(ctx, user.ID); err != nil {
			return User{}, fmt.Errorf("provision wallet: %w", err)
		}
	}

	return user, nil
}

// Authenticate verifies an email and password.
func (s *Service) Authenticate(ctx context.Context, email, password string) (User, error) {
	user, err := s.repo.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, ErrUserNotFound) {
		return User{}, ErrInvalidCredentials
	}
	if err != nil {
		return User{}, err
	}

	if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)); err != nil {
		return User{}, ErrInvalidCredentials
	}
	return user, nil
}

// Get returns a user by id.
func (s *Service) Get(ctx context.Context, id string) (User, error) {
	return s.repo.FindByID(ctx, id)
}

// Resolve finds a user by id, email or phone number.
func (s *Service) Resolve(ctx context.Context, identifier string) (User, error) {
	identifier = strings.TrimSpace(identifier)
	switch {
	case identifier == "":
		return User{}, ErrUserNotFound
	case isUUID(identifier):
		return s.repo.FindByID(ctx, identifier)
	case strings.Contains(identifier, "@"):
		return s.repo.FindByEmail(ctx, strings.ToLower(identifier))
	default:
		return s.repo.FindByPhone(ctx, identifier)
	}
}

// UpdateProfile applies the non-empty fields of update. A new password is
// re-hashed with bcrypt and requires the current one.
func (s *Service) UpdateProfile(ctx context.Context, userID string, update ProfileUpdate) (User, error) {
	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return User{}, err
	}
	if v := strings.TrimSpace(update.FullName); v != "" {
		user.FullName = v
	}
	if v := strings.ToLower(strings.TrimSpace(update.Email)); v != "" {
		user.Email = v
	}
	if v := strings.TrimSpace(update.Phone); v != "" {
		user.Phone = v
	}
	if update.Password != "" {
		if len(update.Password) < minPasswordLength {
			return User{}, ErrWeakPassword
		}
		if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(update.CurrentPassword)); err != nil {
			return User{}, ErrWrongPassword
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(update.Password), bcrypt.DefaultCost)
		if err != nil {
			return User{}, err
		}
		user.PasswordHash = hash
	}
	if err := s.repo.UpdateProfile(ctx, user); err != nil {
		return User{}, err
	}
	return s.repo.FindByID(ctx, userID)
}

// UpdatePayoutAccount stores the bank account withdrawals are sent to.
func (s *Service) UpdatePayoutAccount(ctx context.Context, userID string, account PayoutAccount) (User, error) {
	if err := s.repo.SetPayoutAccount(ctx, userID, account); err != nil {
		return User{}, err
	}
	return s.repo.FindByID(ctx, userID)
}

// SaveRecipientCode caches the processor's recipient handle on the user. When
// a concurrent withdrawal already stored one, that code is returned instead.
func (s *Service) SaveRecipientCode(ctx context.Context, userID, code string) (string, error) {
	return s.repo.SetRecipientCode(ctx, userID, code)
}

func isUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

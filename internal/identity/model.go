package identity

import (
	"errors"
	"time"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUserExists         = errors.New("a user with this email or phone already exists")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrNoPayoutAccount    = errors.New("no payout bank account on file")
	ErrWrongPassword      = errors.New("current password is incorrect")
)

// User represents a registered wallet owner.
type User struct {
	ID           string
	Email        string
	Phone        string
	FullName     string
	PasswordHash []byte
	// PayoutAccount is the bank account withdrawals are sent to.
	PayoutAccount *PayoutAccount
	// RecipientCode is the processor's handle for PayoutAccount, created on
	// the first withdrawal and reused afterwards.
	RecipientCode string
	CreatedAt     time.Time
}

// PayoutAccount identifies a destination bank account.
type PayoutAccount struct {
	AccountName   string
	AccountNumber string
	BankCode      string
}

// RegisterInput captures sign-up data.
type RegisterInput struct {
	Email    string
	Phone    string
	FullName string
	Password string
}

// ProfileUpdate lists the profile fields to change. Empty fields keep their
// current value. CurrentPassword must match when Password is set.
type ProfileUpdate struct {
	Email           string
	Phone           string
	FullName        string
	Password        string
	CurrentPassword string
}

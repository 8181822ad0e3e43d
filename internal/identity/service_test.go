package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/congo-pay/ledgerpay/internal/ledger"
)

type walletRecorder struct {
	owners []string
}

func (w *walletRecorder) EnsureWallet(_ context.Context, ownerID string) (ledger.Wallet, error) {
	w.owners = append(w.owners, ownerID)
	return ledger.Wallet{OwnerID: ownerID}, nil
}

func TestRegisterAndAuthenticate(t *testing.T) {
	wallets := &walletRecorder{}
	svc := NewService(NewMemoryRepository(), wallets)
	ctx := context.Background()

	user, err := svc.Register(ctx, RegisterInput{Email: "Ada@Example.com", Phone: "+2348030000000", FullName: "Ada Obi", Password: "correct-horse"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.Email != "ada@example.com" {
		t.Fatalf("expected normalised email, got %s", user.Email)
	}
	if len(wallets.owners) != 1 || wallets.owners[0] != user.ID {
		t.Fatalf("expected wallet provisioned for %s, got %v", user.ID, wallets.owners)
	}

	authed, err := svc.Authenticate(ctx, "ada@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if authed.ID != user.ID {
		t.Fatalf("authenticated wrong user")
	}

	if _, err := svc.Authenticate(ctx, "ada@example.com", "wrong-horse"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, "nobody@example.com", "correct-horse"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for unknown email, got %v", err)
	}
}

func TestRegisterRejectsDuplicatesAndWeakPasswords(t *testing.T) {
	svc := NewService(NewMemoryRepository(), nil)
	ctx := context.Background()

	if _, err := svc.Register(ctx, RegisterInput{Email: "a@example.com", Phone: "+111", Password: "short"}); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected weak password, got %v", err)
	}
	if _, err := svc.Register(ctx, RegisterInput{Email: "a@example.com", Phone: "+111", Password: "long-enough"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Register(ctx, RegisterInput{Email: "A@example.com", Phone: "+222", Password: "long-enough"}); !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected duplicate email, got %v", err)
	}
}

func TestResolveByIDEmailAndPhone(t *testing.T) {
	svc := NewService(NewMemoryRepository(), nil)
	ctx := context.Background()

	user, err := svc.Register(ctx, RegisterInput{Email: "bola@example.com", Phone: "+2348011111111", Password: "long-enough"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	for _, id := range []string{user.ID, "BOLA@example.com", "+2348011111111"} {
		got, err := svc.Resolve(ctx, id)
		if err != nil {
			t.Fatalf("resolve %q: %v", id, err)
		}
		if got.ID != user.ID {
			t.Fatalf("resolve %q returned %s", id, got.ID)
		}
	}
	if _, err := svc.Resolve(ctx, "+0000"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRecipientCodeIsStoredOnce(t *testing.T) {
	svc := NewService(NewMemoryRepository(), nil)
	ctx := context.Background()

	user, err := svc.Register(ctx, RegisterInput{Email: "c@example.com", Password: "long-enough"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.UpdatePayoutAccount(ctx, user.ID, PayoutAccount{AccountName: "C", AccountNumber: "0123456789", BankCode: "058"}); err != nil {
		t.Fatalf("payout account: %v", err)
	}

	first, err := svc.SaveRecipientCode(ctx, user.ID, "RCP_first")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	second, err := svc.SaveRecipientCode(ctx, user.ID, "RCP_second")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if first != "RCP_first" || second != "RCP_first" {
		t.Fatalf("expected the first code to win, got %s and %s", first, second)
	}

	// A new bank account invalidates the cached handle.
	updated, err := svc.UpdatePayoutAccount(ctx, user.ID, PayoutAccount{AccountName: "C", AccountNumber: "9999999999", BankCode: "044"})
	if err != nil {
		t.Fatalf("payout account: %v", err)
	}
	if updated.RecipientCode != "" {
		t.Fatalf("expected recipient code to be cleared, got %s", updated.RecipientCode)
	}
}

func TestUpdateProfile(t *testing.T) {
	svc := NewService(NewMemoryRepository(), nil)
	ctx := context.Background()

	user, err := svc.Register(ctx, RegisterInput{Email: "dayo@example.com", Phone: "+2348022222222", FullName: "Dayo", Password: "old-password"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Register(ctx, RegisterInput{Email: "taken@example.com", Phone: "+2348033333333", Password: "long-enough"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	updated, err := svc.UpdateProfile(ctx, user.ID, ProfileUpdate{FullName: "Dayo Ade", Phone: "+2348044444444"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.FullName != "Dayo Ade" || updated.Phone != "+2348044444444" || updated.Email != "dayo@example.com" {
		t.Fatalf("unexpected profile %+v", updated)
	}

	if _, err := svc.UpdateProfile(ctx, user.ID, ProfileUpdate{Email: "TAKEN@example.com"}); !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected duplicate email, got %v", err)
	}
	if _, err := svc.UpdateProfile(ctx, user.ID, ProfileUpdate{Password: "new-password", CurrentPassword: "guess"}); !errors.Is(err, ErrWrongPassword) {
		t.Fatalf("expected wrong current password, got %v", err)
	}
	if _, err := svc.UpdateProfile(ctx, user.ID, ProfileUpdate{Password: "short", CurrentPassword: "old-password"}); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected weak password, got %v", err)
	}

	if _, err := svc.UpdateProfile(ctx, user.ID, ProfileUpdate{Password: "new-password", CurrentPassword: "old-password"}); err != nil {
		t.Fatalf("change password: %v", err)
	}
	if _, err := svc.Authenticate(ctx, "dayo@example.com", "old-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected old password to stop working, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, "dayo@example.com", "new-password"); err != nil {
		t.Fatalf("authenticate with new password: %v", err)
	}
	if _, err := svc.UpdateProfile(ctx, "missing", ProfileUpdate{FullName: "x"}); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

package transfer

import (
	"context"
	"errors"
	"testing"

	"github.com/congo-pay/ledgerpay/internal/identity"
	"github.com/congo-pay/ledgerpay/internal/ledger"
	"github.com/congo-pay/ledgerpay/internal/notification"
)

type fixture struct {
	ledger   ledger.Ledger
	users    *identity.Service
	notifier *notification.Recorder
	svc      *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	led := ledger.NewInMemory()
	users := identity.NewService(identity.NewMemoryRepository(), led)
	notifier := &notification.Recorder{}
	return &fixture{
		ledger:   led,
		users:    users,
		notifier: notifier,
		svc:      NewService(led, users, notifier, nil, nil),
	}
}

func (f *fixture) register(t *testing.T, email, phone string) identity.User {
	t.Helper()
	user, err := f.users.Register(context.Background(), identity.RegisterInput{
		Email: email, Phone: phone, FullName: email, Password: "long-enough-pass",
	})
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	return user
}

func (f *fixture) balance(t *testing.T, owner string) int64 {
	t.Helper()
	w, err := f.ledger.Wallet(context.Background(), owner)
	if err != nil {
		t.Fatalf("wallet %s: %v", owner, err)
	}
	return w.Balance
}

func TestTransferSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice@example.com", "+2348010000001")
	bob := f.register(t, "bob@example.com", "+2348010000002")
	ledger.SeedBalance(f.ledger, alice.ID, 30_000)

	res, err := f.svc.Transfer(ctx, Input{SenderID: alice.ID, Recipient: bob.Email, Amount: 10_000, Note: "lunch"})
	if err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	if res.Balance != 20_000 || res.RecipientID != bob.ID || res.AlreadyApplied {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got := f.balance(t, alice.ID); got != 20_000 {
		t.Fatalf("expected sender balance 20000, got %d", got)
	}
	if got := f.balance(t, bob.ID); got != 10_000 {
		t.Fatalf("expected recipient balance 10000, got %d", got)
	}

	history, err := f.ledger.History(ctx, ledger.HistoryFilter{OwnerID: alice.ID, Type: ledger.TypeTransfer})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].Status != ledger.StatusCompleted || history[0].Note != "lunch" {
		t.Fatalf("expected one completed transfer, got %+v", history)
	}

	msgs := f.notifier.Messages()
	if len(msgs) != 1 || msgs[0].Kind != notification.KindTransferReceived || msgs[0].Destination != bob.ID {
		t.Fatalf("expected recipient notification, got %+v", msgs)
	}
}

func TestTransferByPhoneAndID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice@example.com", "+2348010000001")
	bob := f.register(t, "bob@example.com", "+2348010000002")
	ledger.SeedBalance(f.ledger, alice.ID, 5_000)

	if _, err := f.svc.Transfer(ctx, Input{SenderID: alice.ID, Recipient: bob.Phone, Amount: 1_000}); err != nil {
		t.Fatalf("transfer by phone: %v", err)
	}
	if _, err := f.svc.Transfer(ctx, Input{SenderID: alice.ID, Recipient: bob.ID, Amount: 1_000}); err != nil {
		t.Fatalf("transfer by id: %v", err)
	}
	if got := f.balance(t, bob.ID); got != 2_000 {
		t.Fatalf("expected 2000, got %d", got)
	}
}

func TestTransferInsufficientFunds(t *testing.T) {
	f := newFixture(t)
	alice := f.register(t, "alice@example.com", "+2348010000001")
	bob := f.register(t, "bob@example.com", "+2348010000002")
	ledger.SeedBalance(f.ledger, alice.ID, 500)

	_, err := f.svc.Transfer(context.Background(), Input{SenderID: alice.ID, Recipient: bob.ID, Amount: 1_000})
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if got := f.balance(t, alice.ID); got != 500 {
		t.Fatalf("balance changed on failed transfer: %d", got)
	}
	if len(f.notifier.Messages()) != 0 {
		t.Fatalf("no notification expected on failure")
	}
}

func TestTransferRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice@example.com", "+2348010000001")
	ledger.SeedBalance(f.ledger, alice.ID, 5_000)

	if _, err := f.svc.Transfer(ctx, Input{SenderID: alice.ID, Recipient: "ghost@example.com", Amount: 100}); !errors.Is(err, ErrRecipientNotFound) {
		t.Fatalf("expected recipient not found, got %v", err)
	}
	if _, err := f.svc.Transfer(ctx, Input{SenderID: alice.ID, Recipient: alice.Email, Amount: 100}); !errors.Is(err, ledger.ErrSelfTransfer) {
		t.Fatalf("expected self transfer error, got %v", err)
	}
	if _, err := f.svc.Transfer(ctx, Input{SenderID: alice.ID, Recipient: "bob@example.com", Amount: 0}); !errors.Is(err, ledger.ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
}

func TestTransferReplaysSuppliedReference(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.register(t, "alice@example.com", "+2348010000001")
	bob := f.register(t, "bob@example.com", "+2348010000002")
	carol := f.register(t, "carol@example.com", "+2348010000003")
	ledger.SeedBalance(f.ledger, alice.ID, 5_000)
	ledger.SeedBalance(f.ledger, carol.ID, 5_000)

	in := Input{SenderID: alice.ID, Recipient: bob.ID, Amount: 1_000, Reference: "TRF-client-1"}
	first, err := f.svc.Transfer(ctx, in)
	if err != nil {
		t.Fatalf("first transfer: %v", err)
	}
	second, err := f.svc.Transfer(ctx, in)
	if err != nil {
		t.Fatalf("replayed transfer: %v", err)
	}
	if !second.AlreadyApplied || second.TransactionID != first.TransactionID {
		t.Fatalf("expected replay of %s, got %+v", first.TransactionID, second)
	}
	if got := f.balance(t, alice.ID); got != 4_000 {
		t.Fatalf("expected a single debit, balance %d", got)
	}
	if len(f.notifier.Messages()) != 1 {
		t.Fatalf("expected one notification, got %d", len(f.notifier.Messages()))
	}

	// Another sender cannot claim someone else's reference.
	_, err = f.svc.Transfer(ctx, Input{SenderID: carol.ID, Recipient: bob.ID, Amount: 1_000, Reference: "TRF-client-1"})
	if !errors.Is(err, ledger.ErrDuplicateReference) {
		t.Fatalf("expected duplicate reference, got %v", err)
	}
}

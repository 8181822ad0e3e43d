package deposit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/congo-pay/ledgerpay/internal/idempotency"
	"github.com/congo-pay/ledgerpay/internal/ledger"
	"github.com/congo-pay/ledgerpay/internal/logging"
	"github.com/congo-pay/ledgerpay/internal/notification"
	"github.com/congo-pay/ledgerpay/internal/processor"
)

type fixture struct {
	svc      *Service
	ledger   ledger.Ledger
	gateway  *processor.StaticProcessor
	notifier *notification.Recorder
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	l := ledger.NewInMemory()
	gw := processor.NewStaticProcessor()
	rec := &notification.Recorder{}
	svc, err := NewService(l, gw, Options{
		Guard:       idempotency.NewGuard(idempotency.NewMemoryStore(), time.Hour, time.Minute, nil),
		Notifier:    rec,
		CallbackURL: "https://app.example/deposit/callback",
		Logger:      logging.Discard(),
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return fixture{svc: svc, ledger: l, gateway: gw, notifier: rec}
}

func TestDepositInitiateThenReconcile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := uuid.NewString()

	init, err := f.svc.Initiate(ctx, InitiateInput{OwnerID: owner, Email: "ada@example.com", Amount: 500})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if init.AuthorizationURL == "" || init.Reference == "" {
		t.Fatalf("expected checkout handle, got %+v", init)
	}
	if _, err := f.ledger.Wallet(ctx, owner); !errors.Is(err, ledger.ErrWalletNotFound) {
		t.Fatalf("initiate must not touch the wallet, got %v", err)
	}
	p, err := f.ledger.Payment(ctx, init.Reference)
	if err != nil || p.Status != ledger.PaymentPending {
		t.Fatalf("expected pending payment, got %+v %v", p, err)
	}

	f.gateway.CompletePayment(init.Reference, 0)
	res, err := f.svc.Reconcile(ctx, init.Reference)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if res.Balance != 500 || res.AlreadyApplied {
		t.Fatalf("unexpected result %+v", res)
	}

	history, err := f.ledger.History(ctx, ledger.HistoryFilter{OwnerID: owner})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].Type != ledger.TypeDeposit || history[0].Status != ledger.StatusCompleted || history[0].Amount != 500 {
		t.Fatalf("expected one completed deposit, got %+v", history)
	}
	if msgs := f.notifier.Messages(); len(msgs) != 1 || msgs[0].Kind != notification.KindDepositCompleted {
		t.Fatalf("expected a deposit notification, got %+v", msgs)
	}
}

func TestReconcileTwiceCreditsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := uuid.NewString()

	init, err := f.svc.Initiate(ctx, InitiateInput{OwnerID: owner, Email: "ada@example.com", Amount: 700})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	f.gateway.CompletePayment(init.Reference, 0)

	first, err := f.svc.Reconcile(ctx, init.Reference)
	if err != nil {
		t.Fatalf("first reconcile: %v", err)
	}
	second, err := f.svc.Reconcile(ctx, init.Reference)
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if second.TransactionID != first.TransactionID {
		t.Fatalf("expected the original transaction, got %s vs %s", second.TransactionID, first.TransactionID)
	}
	w, _ := f.ledger.Wallet(ctx, owner)
	if w.Balance != 700 {
		t.Fatalf("expected balance 700, got %d", w.Balance)
	}
}

func TestPollAndWebhookRaceCreditsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := uuid.NewString()

	init, err := f.svc.Initiate(ctx, InitiateInput{OwnerID: owner, Email: "ada@example.com", Amount: 300})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	f.gateway.CompletePayment(init.Reference, 0)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				f.svc.Reconcile(ctx, init.Reference)
				return
			}
			f.svc.ApplyConfirmed(ctx, init.Reference, 300)
		}(i)
	}
	wg.Wait()

	// Losers of the race may have seen ErrInProgress; a final call settles.
	if _, err := f.svc.Reconcile(ctx, init.Reference); err != nil {
		t.Fatalf("final reconcile: %v", err)
	}
	w, _ := f.ledger.Wallet(ctx, owner)
	if w.Balance != 300 {
		t.Fatalf("expected a single credit of 300, got %d", w.Balance)
	}
	history, _ := f.ledger.History(ctx, ledger.HistoryFilter{OwnerID: owner})
	if len(history) != 1 {
		t.Fatalf("expected one transaction, got %d", len(history))
	}
}

func TestReconcileRejectsUnconfirmedPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := uuid.NewString()

	init, err := f.svc.Initiate(ctx, InitiateInput{OwnerID: owner, Email: "ada@example.com", Amount: 250})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if _, err := f.svc.Reconcile(ctx, init.Reference); !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("expected verification failure, got %v", err)
	}
	p, _ := f.ledger.Payment(ctx, init.Reference)
	if p.Status != ledger.PaymentPending {
		t.Fatalf("payment must stay pending, got %s", p.Status)
	}

	// A later confirmation is still applied.
	f.gateway.CompletePayment(init.Reference, 0)
	if _, err := f.svc.Reconcile(ctx, init.Reference); err != nil {
		t.Fatalf("reconcile after confirmation: %v", err)
	}
}

func TestReconcileRejectsAmountMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	init, err := f.svc.Initiate(ctx, InitiateInput{OwnerID: uuid.NewString(), Email: "ada@example.com", Amount: 1_000})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	f.gateway.CompletePayment(init.Reference, 100)
	if _, err := f.svc.Reconcile(ctx, init.Reference); !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("expected verification failure on amount mismatch, got %v", err)
	}
	if _, err := f.svc.ApplyConfirmed(ctx, init.Reference, 999); !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("expected webhook amount mismatch to fail, got %v", err)
	}
}

func TestReconcileUnknownReference(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Reconcile(context.Background(), "DEP-missing"); !errors.Is(err, ledger.ErrPaymentNotFound) {
		t.Fatalf("expected payment not found, got %v", err)
	}
}

func TestInitiateValidatesAndSurfacesProcessorErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Initiate(ctx, InitiateInput{OwnerID: uuid.NewString(), Email: "ada@example.com", Amount: 0}); !errors.Is(err, ledger.ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if _, err := f.svc.Initiate(ctx, InitiateInput{OwnerID: uuid.NewString(), Amount: 10}); !errors.Is(err, ErrEmailRequired) {
		t.Fatalf("expected email required, got %v", err)
	}

	f.gateway.FailNext = processor.ErrRejected
	if _, err := f.svc.Initiate(ctx, InitiateInput{OwnerID: uuid.NewString(), Email: "ada@example.com", Amount: 10}); !errors.Is(err, processor.ErrRejected) {
		t.Fatalf("expected processor rejection, got %v", err)
	}
}

func TestSweepPendingResolvesConfirmedPayments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := uuid.NewString()

	paid, err := f.svc.Initiate(ctx, InitiateInput{OwnerID: owner, Email: "ada@example.com", Amount: 400})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if _, err := f.svc.Initiate(ctx, InitiateInput{OwnerID: owner, Email: "ada@example.com", Amount: 900}); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	f.gateway.CompletePayment(paid.Reference, 0)

	resolved, err := f.svc.SweepPending(ctx, -time.Second)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if resolved != 1 {
		t.Fatalf("expected one resolved payment, got %d", resolved)
	}
	w, _ := f.ledger.Wallet(ctx, owner)
	if w.Balance != 400 {
		t.Fatalf("expected balance 400, got %d", w.Balance)
	}
}

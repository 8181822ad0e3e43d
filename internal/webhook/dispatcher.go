package webhook

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/congo-pay/ledgerpay/internal/deposit"
	"github.com/congo-pay/ledgerpay/internal/idempotency"
	"github.com/congo-pay/ledgerpay/internal/ledger"
	"github.com/congo-pay/ledgerpay/internal/metrics"
	"github.com/congo-pay/ledgerpay/internal/processor"
	"github.com/congo-pay/ledgerpay/internal/reference"
	"github.com/congo-pay/ledgerpay/internal/withdrawal"
)

var (
	// ErrQueueFull is returned by Enqueue when every worker is busy and the
	// backlog is at capacity.
	ErrQueueFull = errors.New("webhook queue is full")

	// ErrStopped is returned by Enqueue after Stop.
	ErrStopped = errors.New("webhook dispatcher stopped")

	// ErrForeignReference marks events for charges or transfers this service
	// did not initiate.
	ErrForeignReference = errors.New("reference was not issued by this service")
)

// Deposits applies confirmed charges.
type Deposits interface {
	ApplyConfirmed(ctx context.Context, ref string, amount int64) (deposit.Result, error)
}

// Withdrawals applies transfer outcomes.
type Withdrawals interface {
	ApplyTransferStatus(ctx context.Context, ref, transferCode string, state processor.TransferState) (withdrawal.Withdrawal, error)
}

// DispatcherOptions tunes the worker pool.
type DispatcherOptions struct {
	Workers     int
	QueueSize   int
	MaxAttempts int
	Backoff     time.Duration
	// Timeout bounds a single attempt.
	Timeout time.Duration
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Dispatcher applies verified webhook events on a bounded pool of workers,
// retrying failures that may succeed later.
type Dispatcher struct {
	deposits    Deposits
	withdrawals Withdrawals
	opts        DispatcherOptions
	logger      *slog.Logger

	queue   chan Event
	mu      sync.RWMutex
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewDispatcher builds a dispatcher. Call Start before enqueuing.
func NewDispatcher(deposits Deposits, withdrawals Withdrawals, opts DispatcherOptions) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 500 * time.Millisecond
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		deposits:    deposits,
		withdrawals: withdrawals,
		opts:        opts,
		logger:      logger,
		queue:       make(chan Event, opts.QueueSize),
	}
}

// Start launches the workers. They run until Stop is called.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(context.WithoutCancel(ctx))
	for i := 0; i < d.opts.Workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for ev := range d.queue {
				d.handle(ctx, ev)
			}
		}()
	}
}

// Enqueue hands ev to the pool without blocking.
func (d *Dispatcher) Enqueue(ev Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return ErrStopped
	}
	select {
	case d.queue <- ev:
		return nil
	default:
		d.opts.Metrics.ObserveWebhook(ev.Event, "dropped")
		return ErrQueueFull
	}
}

// Stop refuses new events and waits for queued ones to drain, or for ctx to
// expire, whichever comes first. Pending retries are abandoned on expiry; the
// sweepers pick those records up.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.stopped {
		d.stopped = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		if d.cancel != nil {
			d.cancel()
		}
		<-done
		return ctx.Err()
	}
}

func (d *Dispatcher) handle(ctx context.Context, ev Event) {
	var err error
	for attempt := 1; attempt <= d.opts.MaxAttempts; attempt++ {
		err = d.attempt(ctx, ev)
		if err == nil || permanent(err) {
			break
		}
		d.logger.Warn("webhook event failed, retrying", "event", ev.Event, "reference", ev.Data.Reference, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			d.opts.Metrics.ObserveWebhook(ev.Event, "abandoned")
			return
		case <-time.After(d.opts.Backoff * time.Duration(1<<(attempt-1))):
		}
	}

	switch {
	case err == nil:
		d.opts.Metrics.ObserveWebhook(ev.Event, "applied")
	case errors.Is(err, ErrForeignReference):
		d.logger.Info("webhook event ignored", "event", ev.Event, "reference", ev.Data.Reference)
		d.opts.Metrics.ObserveWebhook(ev.Event, "ignored")
	case permanent(err):
		d.logger.Warn("webhook event rejected", "event", ev.Event, "reference", ev.Data.Reference, "error", err)
		d.opts.Metrics.ObserveWebhook(ev.Event, "rejected")
	default:
		d.logger.Error("webhook event gave up", "event", ev.Event, "reference", ev.Data.Reference, "error", err)
		d.opts.Metrics.ObserveWebhook(ev.Event, "failed")
	}
}

func (d *Dispatcher) attempt(ctx context.Context, ev Event) error {
	ctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()
	return d.Process(ctx, ev)
}

// Process applies ev synchronously.
func (d *Dispatcher) Process(ctx context.Context, ev Event) error {
	switch ev.Event {
	case EventChargeSuccess:
		if !reference.HasPrefix(ev.Data.Reference, reference.Deposit) {
			return ErrForeignReference
		}
		_, err := d.deposits.ApplyConfirmed(ctx, ev.Data.Reference, ev.Data.Amount)
		return err
	case EventTransferSuccess, EventTransferFailed, EventTransferReversed:
		if ev.Data.Reference != "" && !reference.HasPrefix(ev.Data.Reference, reference.Withdrawal) {
			return ErrForeignReference
		}
		_, err := d.withdrawals.ApplyTransferStatus(ctx, ev.Data.Reference, ev.Data.TransferCode, transferState(ev.Event))
		return err
	}
	return nil
}

func transferState(event string) processor.TransferState {
	switch event {
	case EventTransferSuccess:
		return processor.TransferSuccess
	case EventTransferReversed:
		return processor.TransferReversed
	default:
		return processor.TransferFailed
	}
}

// permanent reports errors a retry cannot fix.
func permanent(err error) bool {
	switch {
	case errors.Is(err, idempotency.ErrInProgress), errors.Is(err, processor.ErrOutcomeUnknown):
		return false
	case errors.Is(err, ErrForeignReference),
		errors.Is(err, deposit.ErrVerificationFailed),
		errors.Is(err, ledger.ErrPaymentNotFound),
		errors.Is(err, ledger.ErrTransactionNotFound),
		errors.Is(err, ledger.ErrStateConflict),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrMissingReference):
		return true
	}
	return false
}

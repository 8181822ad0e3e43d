package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/congo-pay/ledgerpay/internal/metrics"
)

// ErrInProgress is returned when another worker currently holds the key.
var ErrInProgress = errors.New("operation already in progress")

// Store persists claims and recorded results.
type Store interface {
	// Reserve atomically marks key as in flight for lease. When the key already
	// holds a recorded result it returns that result and reserved=false.
	Reserve(ctx context.Context, key string, lease time.Duration) (reserved bool, result []byte, err error)
	Save(ctx context.Context, key string, result []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Claim is the outcome of Begin. A replayed claim carries the result recorded
// by the first execution; otherwise the caller owns the key until Complete or
// Release.
type Claim struct {
	Scope    string
	Key      string
	Replayed bool
	Result   []byte
}

// Decode unmarshals a replayed result into v.
func (c Claim) Decode(v any) error {
	if len(c.Result) == 0 {
		return fmt.Errorf("claim %s/%s has no recorded result", c.Scope, c.Key)
	}
	return json.Unmarshal(c.Result, v)
}

func (c Claim) storeKey() string {
	return c.Scope + ":" + c.Key
}

// Guard deduplicates operations keyed by an external reference so retries and
// duplicate deliveries never re-run side effects.
type Guard struct {
	store   Store
	ttl     time.Duration
	lease   time.Duration
	metrics *metrics.Metrics
}

const (
	defaultResultTTL = 24 * time.Hour
	defaultLease     = 2 * time.Minute
)

// NewGuard builds a guard. ttl bounds how long a recorded result is replayed;
// lease bounds how long an unfinished claim blocks the key. m may be nil.
func NewGuard(store Store, ttl, lease time.Duration, m *metrics.Metrics) *Guard {
	if ttl <= 0 {
		ttl = defaultResultTTL
	}
	if lease <= 0 {
		lease = defaultLease
	}
	if lease > ttl {
		lease = ttl
	}
	return &Guard{store: store, ttl: ttl, lease: lease, metrics: m}
}

// Begin claims scope/key for the caller, or reports the recorded result.
func (g *Guard) Begin(ctx context.Context, scope, key string) (Claim, error) {
	if key == "" {
		return Claim{}, errors.New("idempotency key is required")
	}
	claim := Claim{Scope: scope, Key: key}
	reserved, result, err := g.store.Reserve(ctx, claim.storeKey(), g.lease)
	if err != nil {
		if errors.Is(err, ErrInProgress) {
			g.metrics.ObserveIdempotency(scope, "in_progress")
		}
		return Claim{}, err
	}
	if !reserved {
		g.metrics.ObserveIdempotency(scope, "replayed")
		claim.Replayed = true
		claim.Result = result
		return claim, nil
	}
	g.metrics.ObserveIdempotency(scope, "claimed")
	return claim, nil
}

// Complete records result for future replays.
func (g *Guard) Complete(ctx context.Context, claim Claim, result any) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode idempotent result: %w", err)
	}
	return g.store.Save(ctx, claim.storeKey(), payload, g.ttl)
}

// Release drops an in-flight claim so a later retry can run.
func (g *Guard) Release(ctx context.Context, claim Claim) error {
	return g.store.Delete(ctx, claim.storeKey())
}

// Run executes fn at most once per scope/key. Later calls return the recorded
// result with replayed=true. A failing fn releases the key. A nil guard simply
// runs fn.
func Run[T any](ctx context.Context, g *Guard, scope, key string, fn func(context.Context) (T, error)) (T, bool, error) {
	var zero T
	if g == nil {
		v, err := fn(ctx)
		return v, false, err
	}

	claim, err := g.Begin(ctx, scope, key)
	if err != nil {
		return zero, false, err
	}
	if claim.Replayed {
		var v T
		if err := claim.Decode(&v); err != nil {
			return zero, true, err
		}
		return v, true, nil
	}

	v, err := fn(ctx)
	if err != nil {
		// Detached: the caller's context may already be cancelled.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = g.Release(releaseCtx, claim)
		return zero, false, err
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := g.Complete(saveCtx, claim, v); err != nil {
		// The ledger's unique references still reject a re-run; only the
		// fast replay path is lost.
		_ = g.Release(saveCtx, claim)
	}
	return v, false, nil
}

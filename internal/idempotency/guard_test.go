package idempotency

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type outcome struct {
	Reference string `json:"reference"`
	Balance   int64  `json:"balance"`
}

func newRedisGuard(t *testing.T) (*Guard, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return NewGuard(NewRedisStore(client), time.Hour, time.Minute, nil), mr
}

func TestRunReplaysRecordedResult(t *testing.T) {
	guard, _ := newRedisGuard(t)
	ctx := context.Background()

	var calls int
	fn := func(context.Context) (outcome, error) {
		calls++
		return outcome{Reference: "DEP-1", Balance: 500}, nil
	}

	first, replayed, err := Run(ctx, guard, "deposit", "DEP-1", fn)
	if err != nil || replayed {
		t.Fatalf("first run: replayed=%v err=%v", replayed, err)
	}
	second, replayed, err := Run(ctx, guard, "deposit", "DEP-1", fn)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !replayed {
		t.Fatalf("expected replay on second run")
	}
	if calls != 1 {
		t.Fatalf("expected fn to run once, ran %d times", calls)
	}
	if second != first {
		t.Fatalf("expected replayed %+v, got %+v", first, second)
	}
}

func TestRunReleasesOnFailure(t *testing.T) {
	guard, _ := newRedisGuard(t)
	ctx := context.Background()
	boom := errors.New("processor unavailable")

	if _, _, err := Run(ctx, guard, "deposit", "DEP-2", func(context.Context) (outcome, error) {
		return outcome{}, boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected failure to propagate, got %v", err)
	}

	res, replayed, err := Run(ctx, guard, "deposit", "DEP-2", func(context.Context) (outcome, error) {
		return outcome{Reference: "DEP-2", Balance: 10}, nil
	})
	if err != nil || replayed {
		t.Fatalf("retry after failure should execute: replayed=%v err=%v", replayed, err)
	}
	if res.Balance != 10 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestBeginReportsInProgress(t *testing.T) {
	guard, _ := newRedisGuard(t)
	ctx := context.Background()

	claim, err := guard.Begin(ctx, "withdrawal", "TRF_1")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := guard.Begin(ctx, "withdrawal", "TRF_1"); !errors.Is(err, ErrInProgress) {
		t.Fatalf("expected in progress, got %v", err)
	}
	if err := guard.Release(ctx, claim); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := guard.Begin(ctx, "withdrawal", "TRF_1"); err != nil {
		t.Fatalf("begin after release: %v", err)
	}
}

func TestAbandonedClaimLapsesAfterLease(t *testing.T) {
	guard, mr := newRedisGuard(t)
	ctx := context.Background()

	if _, err := guard.Begin(ctx, "deposit", "DEP-crash"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	mr.FastForward(30 * time.Second)
	if _, err := guard.Begin(ctx, "deposit", "DEP-crash"); !errors.Is(err, ErrInProgress) {
		t.Fatalf("expected claim to hold within the lease, got %v", err)
	}

	mr.FastForward(2 * time.Minute)
	claim, err := guard.Begin(ctx, "deposit", "DEP-crash")
	if err != nil {
		t.Fatalf("expected reclaim after the lease, got %v", err)
	}
	if claim.Replayed {
		t.Fatalf("an abandoned claim has no result to replay")
	}
}

func TestRecordedResultOutlivesLease(t *testing.T) {
	guard, mr := newRedisGuard(t)
	ctx := context.Background()

	claim, err := guard.Begin(ctx, "deposit", "DEP-done")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := guard.Complete(ctx, claim, outcome{Reference: "DEP-done", Balance: 5}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	mr.FastForward(30 * time.Minute)

	again, err := guard.Begin(ctx, "deposit", "DEP-done")
	if err != nil || !again.Replayed {
		t.Fatalf("expected replay within the result ttl: replayed=%v err=%v", again.Replayed, err)
	}
	if ttl := mr.TTL(keyPrefix + "deposit:DEP-done"); ttl <= 2*time.Minute {
		t.Fatalf("expected the result ttl, got %s", ttl)
	}
}

func TestMemoryStoreLeaseExpires(t *testing.T) {
	guard := NewGuard(NewMemoryStore(), time.Hour, 20*time.Millisecond, nil)
	ctx := context.Background()

	if _, err := guard.Begin(ctx, "withdrawal", "TRF_lease"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := guard.Begin(ctx, "withdrawal", "TRF_lease"); !errors.Is(err, ErrInProgress) {
		t.Fatalf("expected in progress, got %v", err)
	}
	time.Sleep(40 * time.Millisecond)
	if _, err := guard.Begin(ctx, "withdrawal", "TRF_lease"); err != nil {
		t.Fatalf("expected reclaim after lease, got %v", err)
	}
}

func TestScopesAreIndependent(t *testing.T) {
	guard, mr := newRedisGuard(t)
	ctx := context.Background()

	if _, err := guard.Begin(ctx, "deposit", "ref"); err != nil {
		t.Fatalf("begin deposit: %v", err)
	}
	if _, err := guard.Begin(ctx, "withdrawal", "ref"); err != nil {
		t.Fatalf("begin withdrawal: %v", err)
	}
	if !mr.Exists(keyPrefix + "deposit:ref") {
		t.Fatalf("expected namespaced key in redis")
	}
}

func TestMemoryStoreConcurrentRunExecutesOnce(t *testing.T) {
	guard := NewGuard(NewMemoryStore(), time.Hour, time.Minute, nil)
	ctx := context.Background()

	var (
		executed int32
		wg       sync.WaitGroup
		release  = make(chan struct{})
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			Run(ctx, guard, "deposit", "DEP-c", func(context.Context) (outcome, error) {
				atomic.AddInt32(&executed, 1)
				<-release
				return outcome{Reference: "DEP-c"}, nil
			})
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if executed != 1 {
		t.Fatalf("expected exactly one execution, got %d", executed)
	}
}

func TestNilGuardRunsDirectly(t *testing.T) {
	res, replayed, err := Run(context.Background(), nil, "scope", "key", func(context.Context) (int, error) {
		return 7, nil
	})
	if err != nil || replayed || res != 7 {
		t.Fatalf("unexpected nil guard result: %d %v %v", res, replayed, err)
	}
}

package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/congo-pay/ledgerpay/internal/metrics"
)

// Job is a unit of periodic background work. Run returns how many records it
// resolved.
type Job struct {
	Name string
	Run  func(ctx context.Context) (int, error)
}

// Runner ticks every registered job at a fixed interval until its context is
// cancelled.
type Runner struct {
	interval time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
	jobs     []Job
	wg       sync.WaitGroup
}

func NewRunner(interval time.Duration, logger *slog.Logger, m *metrics.Metrics, jobs ...Job) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{interval: interval, logger: logger, metrics: m, jobs: jobs}
}

// Start launches one goroutine per job. It is a no-op when the interval is not
// positive.
func (r *Runner) Start(ctx context.Context) {
	if r.interval <= 0 {
		return
	}
	for _, job := range r.jobs {
		r.wg.Add(1)
		go func(job Job) {
			defer r.wg.Done()
			ticker := time.NewTicker(r.interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					r.RunOnce(ctx, job)
				}
			}
		}(job)
	}
}

// RunOnce executes job a single time and records the outcome.
func (r *Runner) RunOnce(ctx context.Context, job Job) {
	resolved, err := job.Run(ctx)
	r.metrics.ObserveSweep(job.Name, resolved, err)
	if err != nil {
		r.logger.Error("background job failed", "job", job.Name, "error", err)
		return
	}
	if resolved > 0 {
		r.logger.Info("background job resolved records", "job", job.Name, "resolved", resolved)
	}
}

// Wait blocks until every job goroutine has returned.
func (r *Runner) Wait() {
	r.wg.Wait()
}

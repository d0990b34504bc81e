package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Handler runs one claimed job. Returning an error schedules a retry with
// exponential backoff until the job's attempts are used up.
type Handler func(ctx context.Context, job Job) error

// Runner polls the queue and dispatches due jobs to handlers by kind.
type Runner struct {
	repo           Repo
	logger         *slog.Logger
	pollInterval   time.Duration
	staleThreshold time.Duration
	claimLimit     int
	now            func() time.Time

	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRunner(repo Repo, pollInterval time.Duration, logger *slog.Logger) *Runner {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		repo:           repo,
		logger:         logger,
		pollInterval:   pollInterval,
		staleThreshold: 5 * time.Minute,
		claimLimit:     10,
		now:            time.Now,
		handlers:       make(map[string]Handler),
	}
}

func (r *Runner) RegisterHandler(kind string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = h
}

// Backoff is the delay before retry number attempt+1: 30s, 60s, 120s, ...
func Backoff(attempt int) time.Duration {
	return time.Duration(30*(1<<attempt)) * time.Second
}

// RecoverStale requeues jobs left running by a crashed process. Call it
// once at startup.
func (r *Runner) RecoverStale(ctx context.Context) error {
	n, err := r.repo.RequeueStale(ctx, r.now().Add(-r.staleThreshold))
	if err != nil {
		return err
	}
	if n > 0 {
		r.logger.Info("requeued stale jobs", "count", n)
	}
	return nil
}

// Run polls until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("job runner started", "poll_interval", r.pollInterval.String())
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("job runner stopped")
			return nil
		case <-ticker.C:
			r.Poll(ctx)
		}
	}
}

// Poll claims and runs every due job once.
func (r *Runner) Poll(ctx context.Context) {
	now := r.now()
	due, err := r.repo.ClaimDue(ctx, now, r.claimLimit)
	if err != nil {
		r.logger.Error("claiming jobs failed", "error", err)
	}

	for _, job := range due {
		r.mu.RLock()
		h, ok := r.handlers[job.Kind]
		r.mu.RUnlock()

		log := r.logger.With("job", job.ID, "kind", job.Kind, "attempt", job.Attempt)
		if !ok {
			log.Warn("no handler for job kind")
			if err := r.repo.Fail(ctx, job.ID, "no handler registered for kind: "+job.Kind, now.Add(time.Minute)); err != nil {
				log.Error("failing job", "error", err)
			}
			continue
		}

		if err := h(ctx, job); err != nil {
			log.Error("job failed", "error", err, "final", job.LastAttempt())
			if err := r.repo.Fail(ctx, job.ID, err.Error(), now.Add(Backoff(job.Attempt))); err != nil {
				log.Error("failing job", "error", err)
			}
			continue
		}
		if err := r.repo.Complete(ctx, job.ID); err != nil {
			log.Error("completing job", "error", err)
			continue
		}
		log.Debug("job completed")
	}
}

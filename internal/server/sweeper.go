package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/playperu/snapbooth/internal/booth"
)

// Sweeper marks sessions abandoned once they sit idle past the timeout and
// stops their runtimes.
type Sweeper struct {
	admin   *AdminStore
	clients *Registry
	hub     *Hub
	idle    time.Duration
	logger  *slog.Logger
	now     func() time.Time

	cron *cron.Cron
}

func NewSweeper(admin *AdminStore, clients *Registry, hub *Hub, idle time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		admin:   admin,
		clients: clients,
		hub:     hub,
		idle:    idle,
		logger:  logger,
		now:     time.Now,
		cron:    cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.Recover(cron.DefaultLogger))),
	}
}

// Sweep runs one pass over every client and returns how many sessions it
// abandoned.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	clients, err := s.admin.ListClients(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing clients: %w", err)
	}

	before := s.now().Add(-s.idle)
	swept := 0
	for _, c := range clients {
		store, err := s.clients.Get(ctx, c.Slug)
		if err != nil {
			s.logger.Warn("sweep: opening client failed", "client", c.Slug, "error", err)
			continue
		}
		ids, err := store.IdleSessions(ctx, before)
		if err != nil {
			s.logger.Warn("sweep: listing idle sessions failed", "client", c.Slug, "error", err)
			continue
		}
		for _, id := range ids {
			s.hub.Evict(c.Slug, id)
			err := store.WriteSession(ctx, id, booth.SessionUpdate{
				Status: booth.Ptr(booth.SessionAbandoned),
			})
			if err != nil {
				s.logger.Warn("sweep: abandoning session failed", "client", c.Slug, "session", id, "error", err)
				continue
			}
			swept++
		}
	}
	return swept, nil
}

// Run sweeps on schedule until ctx is done.
func (s *Sweeper) Run(ctx context.Context, schedule string) error {
	_, err := s.cron.AddFunc(schedule, func() {
		n, err := s.Sweep(ctx)
		if err != nil {
			s.logger.Error("session sweep failed", "error", err)
			return
		}
		if n > 0 {
			s.logger.Info("abandoned idle sessions", "count", n)
		}
	})
	if err != nil {
		return fmt.Errorf("scheduling sweeper %q: %w", schedule, err)
	}

	s.cron.Start()
	s.logger.Info("session sweeper started", "schedule", schedule, "idle", s.idle)
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/playperu/snapbooth/internal/config"
	"github.com/playperu/snapbooth/internal/database"
	"github.com/playperu/snapbooth/internal/jobs"
	"github.com/playperu/snapbooth/internal/migrations"
	"github.com/playperu/snapbooth/internal/server"
	"github.com/playperu/snapbooth/internal/transform"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stdout io.Writer) error {
	// A missing .env is fine; the environment wins either way.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	// --- SQLite ---
	if err := os.MkdirAll(cfg.DBDir, 0o755); err != nil {
		return fmt.Errorf("creating db dir: %w", err)
	}
	adminPath := filepath.Join(cfg.DBDir, "admin.db")
	db, err := database.Open(ctx, adminPath)
	if err != nil {
		return fmt.Errorf("connecting to sqlite: %w", err)
	}
	defer db.Close()

	if err := migrations.RunAdmin(ctx, db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("connected to sqlite", "path", adminPath)

	admin := server.NewAdminStore(db)
	if cfg.AdminPassword != "" {
		created, err := admin.EnsureAdmin(ctx, cfg.AdminUsername, cfg.AdminPassword)
		if err != nil {
			return fmt.Errorf("bootstrapping admin: %w", err)
		}
		if created {
			logger.Info("created admin user", "username", cfg.AdminUsername)
		}
	}

	checks := map[string]server.Checker{
		"sqlite": server.CheckFunc(db.PingContext),
	}

	// --- Notifications ---
	var notifier server.Notifier = server.NewBroker()
	if cfg.RedisURL != "" {
		rdb, err := openRedis(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer rdb.Close()
		notifier = server.NewRedisNotifier(rdb)
		checks["redis"] = server.CheckFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
		logger.Info("connected to redis")
	}

	clients := server.NewRegistry(cfg.DBDir, admin, notifier, logger)
	defer clients.Close()
	checks["tenants"] = server.CheckFunc(clients.Check)

	queue := jobs.NewSQLRepo(db)
	hub := server.NewHub(queue, logger)
	defer hub.Close()

	if cfg.SeedDemo {
		if err := server.SeedDemo(ctx, logger, admin, clients); err != nil {
			return fmt.Errorf("seeding demo: %w", err)
		}
	}

	// --- Jobs ---
	var images transform.ImageGenerator
	if cfg.OpenAIKey != "" {
		images = transform.NewOpenAI(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.ImageModel, cfg.ImageSize)
	} else {
		logger.Warn("OPENAI_API_KEY not set, transform jobs will fail")
	}
	runner := jobs.NewRunner(queue, cfg.JobPollInterval, logger)
	runner.RegisterHandler(transform.Kind, transform.NewHandler(server.NewTenantSessions(clients), images, logger).Run)
	if err := runner.RecoverStale(ctx); err != nil {
		return fmt.Errorf("recovering stale jobs: %w", err)
	}

	sweeper := server.NewSweeper(admin, clients, hub, cfg.SessionIdleTimeout, logger)

	// --- HTTP Server ---
	srv := server.New(cfg.HTTPAddr, logger, server.Deps{
		Admin:   admin,
		Clients: clients,
		Hub:     hub,
		Checks:  checks,
		SPADir:  cfg.SPADir,
	})

	// --- Run ---
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting http server", "addr", cfg.HTTPAddr)
		return srv.Run(gctx)
	})

	g.Go(func() error {
		return runner.Run(gctx)
	})

	g.Go(func() error {
		return sweeper.Run(gctx, cfg.SweepSchedule)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down http server")
		return srv.Shutdown(context.Background())
	})

	return g.Wait()
}

func openRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}

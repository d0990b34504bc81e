package server

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"
)

// Checker verifies that a dependency is reachable.
type Checker interface {
	Check(ctx context.Context) error
}

// CheckFunc adapts a function to Checker.
type CheckFunc func(ctx context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

type HealthResult struct {
	Status string `json:"status"`
}

// HealthResponse maps each dependency name to its status.
type HealthResponse map[string]HealthResult

func handleHealth(logger *slog.Logger, checks map[string]Checker) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		results := make(HealthResponse, len(checks))
		status := http.StatusOK

		for _, name := range names {
			if err := checks[name].Check(ctx); err != nil {
				logger.Error("health check failed", "name", name, "error", err)
				results[name] = HealthResult{Status: "error"}
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = HealthResult{Status: "ok"}
		}

		writeJSON(w, status, results)
	}
}

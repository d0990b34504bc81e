package server

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"

	"github.com/playperu/snapbooth/internal/experience"
)

//go:embed seed/demo.yaml
var demoExperience []byte

const demoClient = "demo"

// SeedDemo creates the demo client with one published experience when no
// clients exist yet. It does nothing otherwise.
func SeedDemo(ctx context.Context, logger *slog.Logger, admin *AdminStore, clients *Registry) error {
	existing, err := admin.ListClients(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	exp, problems := experience.Check(demoExperience)
	if experience.HasErrors(problems) {
		return fmt.Errorf("demo experience is invalid: %v", problems)
	}

	if _, err := admin.CreateClient(ctx, demoClient, "Demo"); err != nil {
		return err
	}
	store, err := clients.Create(ctx, demoClient)
	if err != nil {
		return err
	}
	saved, err := store.CreateExperience(ctx, exp)
	if err != nil {
		return err
	}

	logger.Info("demo client created and seeded", "client", demoClient, "experience", saved.ID)
	return nil
}

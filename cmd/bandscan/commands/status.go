package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/qflowhq/bandscan/internal/config"
	dockerpkg "github.com/qflowhq/bandscan/internal/docker"
	"github.com/qflowhq/bandscan/internal/printer"
	"github.com/qflowhq/bandscan/internal/refine"
	"github.com/qflowhq/bandscan/pkg/runstore"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of the configured run",
	Long: `Show the recorded state of the configured run: per-stage status from
the run ledger, the latest search checkpoint, and the crossing set if the
search has converged.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load(configPath)
	if err != nil {
		return printer.Error(
			"configuration not found or invalid",
			fmt.Sprintf("Could not load %s: %v", configPath, err),
			[]string{"Initialize a project first:\n  bandscan init"},
		)
	}

	store, err := connectLedger(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	printer.Printf("Run: %s\n\n", cfg.Run)

	stages, err := store.ListStages(ctx)
	if err != nil {
		return fmt.Errorf("failed to read stages: %w", err)
	}
	if len(stages) == 0 {
		printer.Info("No recorded stages. The run has not started yet.\n")
		return nil
	}

	printer.Printf("Stages:\n")
	for _, s := range stages {
		line := fmt.Sprintf("  %-10s %s", s.Name, s.Status)
		if s.Status == runstore.StageStatusFailed {
			line += fmt.Sprintf(" [%s] %s", s.FailureKind, s.Message)
		} else if s.FinishedAtMs > 0 && s.StartedAtMs > 0 {
			line += fmt.Sprintf(" (%s)", time.Duration(s.FinishedAtMs-s.StartedAtMs)*time.Millisecond)
		}
		printer.Println(line)
	}

	iteration, snapshot, err := store.LatestCheckpoint(ctx)
	if err == nil {
		var state refine.State
		if jsonErr := json.Unmarshal(snapshot, &state); jsonErr == nil {
			printer.Printf("\nSearch: iteration %d, distance=%g, threshold=%g\n",
				iteration, state.Distance, state.Threshold)
		}
	} else if !runstore.IsNotFound(err) {
		return fmt.Errorf("failed to read checkpoint: %w", err)
	}

	crossings, err := store.GetCrossings(ctx)
	if err != nil {
		if runstore.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to read crossings: %w", err)
	}

	printer.Printf("\nCrossings (%d):\n", len(crossings))
	for _, c := range crossings {
		printer.Printf("  (%.6f, %.6f, %.6f)\n", c[0], c[1], c[2])
	}

	return nil
}

// connectLedger connects to the run ledger: the configured Redis address, or
// the run-local container discovered by its Docker labels.
func connectLedger(ctx context.Context, cfg *config.Config) (*runstore.Client, error) {
	addr := ""
	if cfg.Redis != nil {
		addr = cfg.Redis.Addr
	}
	if addr == "" {
		cli, err := dockerpkg.NewClient(ctx)
		if err != nil {
			return nil, err
		}
		defer cli.Close()

		addr, err = dockerpkg.FindRunRedisAddr(ctx, cli, cfg.Run)
		if err != nil {
			return nil, printer.Error(
				"run ledger not found",
				fmt.Sprintf("No Redis container found for run '%s' and no redis.addr is configured.", cfg.Run),
				[]string{"Start the run first:\n  bandscan run"},
			)
		}
	}

	store, err := runstore.NewClient(&redis.Options{Addr: addr}, cfg.Run)
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger client: %w", err)
	}
	if err := store.Ping(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to connect to run ledger at %s: %w", addr, err)
	}
	return store, nil
}

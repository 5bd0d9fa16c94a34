package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/qflowhq/bandscan/internal/config"
	dockerpkg "github.com/qflowhq/bandscan/internal/docker"
	"github.com/qflowhq/bandscan/internal/pipeline"
	"github.com/qflowhq/bandscan/internal/printer"
	"github.com/qflowhq/bandscan/internal/refine"
	"github.com/qflowhq/bandscan/internal/solver"
	"github.com/qflowhq/bandscan/pkg/runstore"
)

var (
	runResume bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute the crossing-search pipeline",
	Long: `Execute the full pipeline for the configured structure: optional
relaxation, the SCF baseline, the adaptive crossing search, and the optional
invariant calculation.

Stage status, per-iteration checkpoints, and the final crossing set are
persisted to the run ledger. Use --resume to continue an interrupted search
from its latest checkpoint.

Examples:
  # Run with ./bandscan.yml
  bandscan run

  # Resume the search stage of an interrupted run
  bandscan run --resume`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runResume, "resume", false, "Resume the search from the latest checkpoint in the run ledger")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cancel the pipeline on SIGINT/SIGTERM; in-flight containers are
	// removed by the job layer on its way out.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		printer.Warning("Received signal %v, aborting run...\n", sig)
		cancel()
	}()

	cfg, err := config.Load(configPath)
	if err != nil {
		return printer.Error(
			"configuration not found or invalid",
			fmt.Sprintf("Could not load %s: %v", configPath, err),
			[]string{"Initialize a project first:\n  bandscan init"},
		)
	}

	cli, err := dockerpkg.NewClient(ctx)
	if err != nil {
		return err
	}
	defer cli.Close()

	runID := dockerpkg.GenerateRunID()

	// Run ledger: configured address, or a run-local container
	redisAddr := ""
	if cfg.Redis != nil {
		redisAddr = cfg.Redis.Addr
	}
	if redisAddr == "" {
		printer.Step("Starting run ledger (Redis) for run '%s'...\n", cfg.Run)
		redisAddr, err = dockerpkg.StartLocalRedis(ctx, cli, cfg.Run, runID)
		if err != nil {
			return fmt.Errorf("failed to start run ledger: %w", err)
		}
	}

	store, err := runstore.NewClient(&redis.Options{Addr: redisAddr}, cfg.Run)
	if err != nil {
		return fmt.Errorf("failed to create ledger client: %w", err)
	}
	defer store.Close()

	if err := store.Ping(ctx); err != nil {
		return printer.ErrorWithContext(
			"Redis connection failed",
			fmt.Sprintf("Could not connect to the run ledger at %s", redisAddr),
			map[string]string{"Run": cfg.Run},
			[]string{"Check the redis.addr setting in bandscan.yml"},
		)
	}

	runner, err := solver.NewDockerRunner(cli, solver.DockerConfig{
		Image:          cfg.Solver.Image,
		InvariantImage: cfg.Solver.InvariantImage,
		Command:        cfg.Solver.Command,
		ScratchRoot:    cfg.Solver.ScratchDir,
		RunName:        cfg.Run,
		RunID:          runID,
		JobTimeout:     cfg.Solver.Timeout(),
	})
	if err != nil {
		return fmt.Errorf("failed to create solver runner: %w", err)
	}

	req := pipeline.Request{
		Structure:       cfg.Structure.ToStructure(),
		Pseudos:         cfg.Pseudos,
		StartingKPoints: cfg.Search.KPoints(),
		Params:          cfg.Search.Params(),
		Relax:           cfg.Relax,
		Invariant:       cfg.Invariant,
	}

	if runResume {
		state, err := loadCheckpoint(ctx, store)
		if err != nil {
			return err
		}
		req.Resume = state
		printer.Info("Resuming search from iteration %d\n", state.Iteration)
	}

	p := &pipeline.Pipeline{
		Runner:    runner,
		Relaxer:   runner,
		Invariant: runner,
		Store:     store,
	}

	printer.Step("Starting pipeline for run '%s'...\n", cfg.Run)
	result, err := p.Run(ctx, req)
	if err != nil {
		var stageErr *pipeline.StageError
		if errors.As(err, &stageErr) {
			return printer.ErrorWithContext(
				fmt.Sprintf("run failed in stage '%s'", stageErr.Stage),
				stageErr.Error(),
				map[string]string{
					"Run":   cfg.Run,
					"Stage": stageErr.Stage,
					"Kind":  string(stageErr.Kind),
				},
				[]string{
					"Inspect the run ledger:\n  bandscan status",
					"Re-run after fixing the failing stage:\n  bandscan run --resume",
				},
			)
		}
		return err
	}

	printer.Success("Search converged: %d crossing(s) found\n", len(result.Crossings))
	for _, c := range result.Crossings {
		printer.Printf("  (%.6f, %.6f, %.6f)\n", c[0], c[1], c[2])
	}
	if result.Invariant != nil {
		printer.Success("Invariant (%s) = %g\n", result.Invariant.Kind, result.Invariant.Value)
	}

	return nil
}

// loadCheckpoint restores the most recent search checkpoint from the ledger.
func loadCheckpoint(ctx context.Context, store *runstore.Client) (*refine.State, error) {
	_, snapshot, err := store.LatestCheckpoint(ctx)
	if err != nil {
		if runstore.IsNotFound(err) {
			return nil, printer.Error(
				"no checkpoint to resume from",
				"The run ledger holds no search checkpoints for this run.",
				[]string{"Start a fresh run:\n  bandscan run"},
			)
		}
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	var state refine.State
	if err := json.Unmarshal(snapshot, &state); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	return &state, nil
}

package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/qflowhq/bandscan/internal/config"
	"github.com/qflowhq/bandscan/internal/printer"
	"github.com/qflowhq/bandscan/internal/watch"
)

var (
	watchOutputFormat string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Monitor refinement iterations in real time",
	Long: `Stream the configured run's refinement-iteration events as they are
published: pinned/found counts, the current k-point distance, and the gap
threshold after each iteration.

Output Formats:
  default - Human-readable line per iteration
  json    - Line-delimited JSON for programmatic processing

Examples:
  # Watch the run configured in ./bandscan.yml
  bandscan watch

  # Export events as JSON
  bandscan watch --output=json > iterations.jsonl`,
	RunE: runWatchCmd,
}

func init() {
	watchCmd.Flags().StringVarP(&watchOutputFormat, "output", "o", "default", "Output format (default or json)")
	rootCmd.AddCommand(watchCmd)
}

func runWatchCmd(cmd *cobra.Command, args []string) error {
	var outputFormat watch.OutputFormat
	switch watchOutputFormat {
	case "default":
		outputFormat = watch.OutputFormatDefault
	case "json":
		outputFormat = watch.OutputFormatJSON
	default:
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", watchOutputFormat),
			[]string{"Valid formats: default, json"},
		)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigCh
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

	store, err := connectLedger(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if outputFormat == watch.OutputFormatDefault {
		printer.Info("Watching run '%s' (Ctrl+C to stop)...\n", cfg.Run)
	}

	return watch.StreamIterations(ctx, store, outputFormat, os.Stdout)
}

package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/qflowhq/bandscan/internal/scaffold"
)

var (
	forceInit bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new bandscan project",
	Long: `Initialize a new bandscan project with a starter configuration.

Creates:
  • bandscan.yml - Run configuration file with a documented example structure

Use --force to reinitialize an existing project (WARNING: overwrites the
existing configuration).`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&forceInit, "force", "f", false, "Force reinitialization (removes existing bandscan.yml)")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	// Check for existing files (unless --force)
	if !forceInit {
		if err := scaffold.CheckExisting(); err != nil {
			return err
		}
	}

	if err := scaffold.Initialize(forceInit); err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	scaffold.PrintSuccess()

	return nil
}

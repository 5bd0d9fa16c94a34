package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	version string
	commit  string
	date    string

	// --config applies to every subcommand that reads bandscan.yml
	configPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "bandscan",
	Short: "Bandscan - adaptive band-crossing search pipeline",
	Long: `Bandscan locates band crossings in a material's Brillouin zone by
adaptive refinement of a reciprocal-space k-point mesh, then feeds the
converged crossing set into a topological-invariant calculation.

Electronic-structure jobs run as one-shot Docker containers; run state is
persisted to a Redis-backed ledger so a search can be inspected live and
resumed after interruption.`,
	Version: version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "bandscan.yml", "Path to the run configuration file")
}

// Package cli provides the cobra command tree. Commands are thin adapters:
// they parse flags, call the indexer port and format output.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/tabsense/tabsense/internal/logger"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "tabsense",
	Short: "Local semantic index over browsing content",
	Long: `tabsense maintains an incremental semantic index over page content.
Pages are chunked, embedded with a local model and stored in an
approximate-nearest-neighbour index for similarity search.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.SetVerbose(verbose)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
}

// Execute runs the CLI.
func Execute() error {
	defer teardownServices()
	return rootCmd.Execute()
}

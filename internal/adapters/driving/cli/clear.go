package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	clearYes    bool
	clearModels bool
)

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all indexed content",
	RunE:  runClear,
}

func init() {
	clearCmd.Flags().BoolVarP(&clearYes, "yes", "y", false, "skip the confirmation prompt")
	clearCmd.Flags().BoolVar(&clearModels, "models", false, "also purge cached model artifacts")
	rootCmd.AddCommand(clearCmd)
}

func runClear(cmd *cobra.Command, args []string) error {
	if !clearYes {
		cmd.Print("This deletes the full semantic index. Continue? [y/N] ")
		var answer string
		fmt.Fscanln(cmd.InOrStdin(), &answer)
		if answer != "y" && answer != "Y" {
			cmd.Println("Aborted.")
			return nil
		}
	}

	if err := initServices(); err != nil {
		return err
	}

	// Clearing needs no embedding model; ClearAll works on the stored
	// index directly, so nothing is downloaded here.
	ctx := context.Background()
	if err := indexerService.ClearAll(ctx); err != nil {
		return fmt.Errorf("clear index: %w", err)
	}

	if clearModels && modelCache != nil {
		if err := modelCache.Clear(ctx); err != nil {
			return fmt.Errorf("clear model cache: %w", err)
		}
		cmd.Println("Index and model cache cleared.")
		return nil
	}

	cmd.Println("Index cleared.")
	return nil
}

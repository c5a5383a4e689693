package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tabsense/tabsense/internal/core/domain"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show index statistics",
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	if err := initServices(); err != nil {
		return err
	}

	// Stats are readable without a model: skip engine setup when the
	// artifact is not cached instead of downloading it just to print state.
	ctx := context.Background()
	if err := initializeIfLocal(ctx); err != nil {
		if !errors.Is(err, domain.ErrNotReady) {
			return fmt.Errorf("initialize index: %w", err)
		}
	}
	stats := indexerService.GetStats(ctx)

	heading := color.New(color.Bold)
	cmd.Println(heading.Sprint("Semantic index"))
	cmd.Printf("  Indexed pages:  %d\n", stats.IndexedPages)
	cmd.Printf("  Documents:      %d\n", stats.TotalDocuments)
	cmd.Printf("  Sources:        %d\n", stats.TotalSources)
	cmd.Printf("  Graph slots:    %d\n", stats.IndexSize)
	cmd.Println()
	cmd.Println(heading.Sprint("State"))
	cmd.Printf("  Index ready:    %v\n", stats.IsInitialized)
	cmd.Printf("  Engine ready:   %v\n", stats.EngineReady)
	if stats.EngineInitializing {
		cmd.Println("  Engine is initializing...")
	}

	if modelCache != nil {
		entries, total, err := modelCache.Stats(ctx)
		if err != nil {
			return fmt.Errorf("model cache stats: %w", err)
		}
		cmd.Println()
		cmd.Println(heading.Sprint("Model cache"))
		cmd.Printf("  Cached models:  %d (%.1f MB)\n", len(entries), float64(total)/(1<<20))
		for _, e := range entries {
			marker := ""
			if e.Expired {
				marker = " (expired)"
			}
			cmd.Printf("    %s v%s%s\n", e.URL, e.Version, marker)
		}
	}
	return nil
}

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tabsense/tabsense/internal/core/domain"
)

var (
	searchTopK int
	searchJSON bool
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search indexed content by semantic similarity",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchTopK, "top-k", "k", 5, "maximum number of results")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	if err := initServices(); err != nil {
		return err
	}

	ctx := context.Background()
	if err := initializeIfLocal(ctx); err != nil {
		if errors.Is(err, domain.ErrNotReady) {
			return errors.New("no embedding model downloaded yet, index some content first")
		}
		return fmt.Errorf("initialize index: %w", err)
	}

	results, err := indexerService.Search(ctx, args[0], searchTopK)
	if errors.Is(err, domain.ErrNotReady) {
		return errors.New("the semantic index is not ready yet, index some content first")
	}
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if searchJSON {
		data, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal results: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	if len(results) == 0 {
		cmd.Println("No results found.")
		return nil
	}

	titleColor := color.New(color.FgCyan, color.Bold)
	scoreColor := color.New(color.FgGreen)
	for i, r := range results {
		title := r.Document.Title
		if title == "" {
			title = r.Document.URL
		}
		cmd.Printf("  [%d] %s %s\n", i+1, titleColor.Sprint(title), scoreColor.Sprintf("(%.3f)", r.Similarity))
		cmd.Printf("      %s\n", r.Document.URL)
		cmd.Printf("      %s\n\n", snippet(r.Document.Chunk, 160))
	}
	return nil
}

// snippet truncates text on a rune boundary.
func snippet(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "..."
}

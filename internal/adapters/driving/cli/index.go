package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var (
	indexSource string
	indexURL    string
	indexTitle  string
)

var indexCmd = &cobra.Command{
	Use:   "index [file]",
	Short: "Index page content from a file or stdin",
	Long: `Chunks the given text, embeds each chunk with the active model and
inserts the vectors into the semantic index. Content already indexed
under the same URL and title is skipped.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().StringVar(&indexSource, "source", "", "source id owning the content (e.g. a tab id)")
	indexCmd.Flags().StringVar(&indexURL, "url", "", "page URL")
	indexCmd.Flags().StringVar(&indexTitle, "title", "", "page title")
	_ = indexCmd.MarkFlagRequired("source")
	_ = indexCmd.MarkFlagRequired("url")
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	if err := initServices(); err != nil {
		return err
	}

	var text []byte
	var err error
	if len(args) == 1 {
		text, err = os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read content file: %w", err)
		}
	} else {
		text, err = io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
	}

	ctx := context.Background()
	if err := indexerService.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize index: %w", err)
	}
	if err := indexerService.IndexContent(ctx, indexSource, indexURL, indexTitle, string(text)); err != nil {
		return fmt.Errorf("index content: %w", err)
	}

	stats := indexerService.GetStats(ctx)
	cmd.Printf("Indexed. %d documents across %d sources.\n", stats.TotalDocuments, stats.TotalSources)
	return nil
}

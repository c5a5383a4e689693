package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tabsense/tabsense/internal/adapters/driven/config/file"
	"github.com/tabsense/tabsense/internal/core/domain"
	"github.com/tabsense/tabsense/internal/logger"
)

var (
	modelPreset    string
	modelVersion   string
	modelDimension int
	modelURL       string
)

var modelCmd = &cobra.Command{
	Use:   "model",
	Short: "Show or change the active embedding model",
}

var modelShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the active model configuration",
	RunE:  runModelShow,
}

var modelSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Switch to a different embedding model",
	Long: `Switches the active embedding model. Changing the vector dimension
clears the existing index; there is no in-place migration.`,
	RunE: runModelSet,
}

var modelWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the config file and switch models on change",
	Long: `Keeps the process running and applies model changes as the config
file is edited. Useful while tabsense serves another process.`,
	RunE: runModelWatch,
}

func init() {
	modelSetCmd.Flags().StringVar(&modelPreset, "preset", "", "model family name")
	modelSetCmd.Flags().StringVar(&modelVersion, "version", "1", "model artifact version")
	modelSetCmd.Flags().IntVar(&modelDimension, "dimension", 0, "embedding vector length")
	modelSetCmd.Flags().StringVar(&modelURL, "url", "", "model artifact URL")
	_ = modelSetCmd.MarkFlagRequired("preset")
	_ = modelSetCmd.MarkFlagRequired("dimension")
	_ = modelSetCmd.MarkFlagRequired("url")

	modelCmd.AddCommand(modelShowCmd)
	modelCmd.AddCommand(modelSetCmd)
	modelCmd.AddCommand(modelWatchCmd)
	rootCmd.AddCommand(modelCmd)
}

func runModelShow(cmd *cobra.Command, args []string) error {
	if err := initServices(); err != nil {
		return err
	}

	cfg := configStore.ModelConfig()
	if cfg.Preset == "" {
		cfg = defaultModel
		cmd.Println("No model configured, using the default:")
	}
	cmd.Printf("  Preset:    %s\n", cfg.Preset)
	cmd.Printf("  Version:   %s\n", cfg.Version)
	cmd.Printf("  Dimension: %d\n", cfg.Dimension)
	cmd.Printf("  URL:       %s\n", cfg.URL)
	return nil
}

func runModelSet(cmd *cobra.Command, args []string) error {
	if err := initServices(); err != nil {
		return err
	}

	cfg := domain.ModelConfig{
		Preset:    modelPreset,
		Version:   modelVersion,
		Dimension: modelDimension,
		URL:       modelURL,
	}
	if cfg.Dimension <= 0 {
		return errors.New("dimension must be positive")
	}

	ctx := context.Background()
	if err := indexerService.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize index: %w", err)
	}

	result := indexerService.SwitchModel(ctx, cfg)
	if !result.Success {
		return fmt.Errorf("model switch failed: %s", result.Error)
	}

	if err := configStore.SetModelConfig(cfg); err != nil {
		return fmt.Errorf("persist model config: %w", err)
	}

	cmd.Printf("Switched to %s (dimension %d).\n", cfg.Preset, cfg.Dimension)
	return nil
}

func runModelWatch(cmd *cobra.Command, args []string) error {
	if err := initServices(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := indexerService.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize index: %w", err)
	}

	w, err := file.NewWatcher(configStore, func(cfg domain.ModelConfig) {
		result := indexerService.SwitchModel(ctx, cfg)
		if !result.Success {
			logger.Warn("model switch failed: %s", result.Error)
			return
		}
		cmd.Printf("Switched to %s (dimension %d).\n", cfg.Preset, cfg.Dimension)
	})
	if err != nil {
		return fmt.Errorf("watch config: %w", err)
	}
	defer w.Close()

	cmd.Printf("Watching %s, press Ctrl+C to stop.\n", configStore.Path())
	<-ctx.Done()
	return nil
}

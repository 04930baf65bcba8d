package cmd

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/wanglab/roichat/internal/config"
)

func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roichat",
		Short: "Whole-slide viewer backend with ROI extraction and multimodal chat",
		Long: `roichat serves a slide viewer where regions drawn on a georeferenced
raster are cropped from the full-resolution image and attached to a
multimodal chat assistant.

Each browser session keeps its own crops and its own persistent chat history.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()
		},
	}

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newROICmd())
	cmd.AddCommand(newHistoryCmd())

	return cmd
}

// loadConfig parses the environment and installs the default logger
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	return cfg, nil
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/wanglab/roichat/internal/chat"
	"github.com/wanglab/roichat/internal/config"
	"github.com/wanglab/roichat/internal/gemini"
	"github.com/wanglab/roichat/internal/handlers"
	"github.com/wanglab/roichat/internal/ollama"
	"github.com/wanglab/roichat/internal/openai"
	"github.com/wanglab/roichat/internal/providers"
	"github.com/wanglab/roichat/internal/raster"
	"github.com/wanglab/roichat/internal/roi"
	"github.com/wanglab/roichat/internal/sessions"
	"github.com/wanglab/roichat/internal/slides"
	"github.com/wanglab/roichat/internal/storage"
	"github.com/wanglab/roichat/internal/tiles"
)

func newServeCmd() *cobra.Command {
	var port int
	var dataDir string
	var manifest string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the viewer and chat API",
		Long: `Starts the HTTP API behind the slide viewer.

Slides are looked up in the manifest (SLIDE_MANIFEST) first and then under
DATA_DIR/{sample}/raster_resized.tif. Chat goes to the configured provider
(Ollama, OpenAI or Gemini) and falls back to an offline reply when the
model cannot be reached.`,
		Example: `  # Start server on default port 8050
  roichat serve

  # Serve a different data directory on a custom port
  roichat serve --port 3000 --data-dir /condo/wanglab/shared/database`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if cmd.Flags().Changed("data-dir") {
				cfg.DataDir = dataDir
			}
			if cmd.Flags().Changed("manifest") {
				cfg.SlideManifest = manifest
			}
			return serve(cmd.Context(), cfg)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8050, "Port to listen on (overrides PORT)")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "Directory holding one folder per slide (overrides DATA_DIR)")
	cmd.Flags().StringVar(&manifest, "manifest", "", "YAML slide manifest (overrides SLIDE_MANIFEST)")

	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	catalog, err := slides.Load(cfg.SlideManifest, cfg.DataDir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.ChatHistoryDir, 0755); err != nil {
		return fmt.Errorf("failed to create chat history dir: %w", err)
	}

	registry := tiles.NewRegistry(func(path, host string, port int) (tiles.Source, error) {
		src, err := raster.OpenTileSource(path, host, port, cfg.TileClientHost)
		if err != nil {
			return nil, err
		}
		return src, nil
	})
	defer registry.Close()

	locks := sessions.NewLocks()

	handler := handlers.New(handlers.Options{
		Catalog:            catalog,
		Extractor:          roi.NewExtractor(raster.OpenMapper, catalog),
		Chat:               chat.NewService(storage.New(cfg.ChatHistoryDir), newProvider(cfg), locks, cfg.ChatTimeout),
		Locks:              locks,
		Tiles:              registry,
		DefaultModel:       cfg.ChatModel,
		TileHost:           cfg.TileHost,
		TilePort:           cfg.TilePort,
		StaticDir:          cfg.StaticDir,
		PreviewRoots:       catalog.Roots(),
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	addr := cfg.Addr()
	server := &http.Server{
		Addr:              addr,
		Handler:           handler.Routes(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		slog.Info("roichat available", "addr", addr, "url", fmt.Sprintf("http://localhost:%d", cfg.Port), "provider", cfg.ChatProvider, "model", cfg.ChatModel)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for context cancellation (Ctrl+C) or server error
	select {
	case <-ctx.Done():
		slog.Info("Shutting down server...")
		// Give server 5 seconds to shut down gracefully
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown failed", "err", err)
			return err
		}
		slog.Info("Server stopped")
		return nil
	case err := <-serverErr:
		return err
	}
}

func newProvider(cfg *config.Config) providers.Provider {
	switch cfg.ChatProvider {
	case "openai":
		return openai.New(cfg.OpenAIURL, cfg.OpenAIKey, cfg.ChatTimeout)
	case "gemini":
		return gemini.New(cfg.GeminiKey)
	default:
		return ollama.New(cfg.OllamaEndpoint(), cfg.ChatTimeout)
	}
}

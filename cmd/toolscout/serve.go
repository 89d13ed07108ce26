package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/orlevy/toolscout/internal/config"
	"github.com/orlevy/toolscout/internal/index"
	"github.com/orlevy/toolscout/internal/server"
	"github.com/orlevy/toolscout/internal/stats"
)

var buildIfMissing bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the recommendation engine over MCP stdio",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&buildIfMissing, "build-if-missing", false,
		"build the index from the catalog when no artifact exists on disk")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := initLogger(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("starting toolscout",
		zap.String("version", version),
		zap.String("catalog", cfg.CatalogPath),
		zap.String("index_dir", cfg.IndexDir),
		zap.String("embedding_provider", cfg.EmbeddingProvider))

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if err := a.loadIndex(); err != nil {
		if !errors.Is(err, index.ErrUnavailable) {
			return err
		}
		if !buildIfMissing {
			logger.Fatal("no index artifact found, run 'toolscout rebuild' or pass --build-if-missing",
				zap.String("dir", cfg.IndexDir))
		}
		logger.Info("no index artifact found, building from catalog")
		if _, err := a.service.Rebuild(ctx); err != nil {
			return err
		}
	}

	var metrics *stats.Server
	if cfg.MetricsAddr != "" {
		metrics = stats.NewServer(cfg.MetricsAddr, a.registry, logger)
		go func() {
			if err := metrics.Start(); err != nil {
				logger.Error("metrics listener failed", zap.Error(err))
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	srv := server.New("toolscout", version, a.service, logger)
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.Run(ctx, &mcp.StdioTransport{})
	}()

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		cancel()
		<-serverDone
	case err := <-serverDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("server error", zap.Error(err))
		}
	}

	if metrics != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = metrics.Shutdown(shutdownCtx)
	}

	logger.Info("toolscout stopped")
	return nil
}

package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ProjectCoral/Coral/internal/bootstrap"
	"github.com/ProjectCoral/Coral/internal/config"
)

const shutdownTimeout = 10 * time.Second

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the Coral process: load config, load plugins, start drivers",
		Run: func(cmd *cobra.Command, args []string) {
			runCoral()
		},
	}
}

func runCoral() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	cfgPath := resolveConfigPath()
	app, err := bootstrap.New(cfgPath, logger)
	if err != nil {
		logger.Error("failed to initialize coral", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := app.Start(ctx); err != nil {
		logger.Error("failed to start coral", "err", err)
		os.Exit(1)
	}

	if err := config.Watch(ctx, cfgPath, func(cfg *config.Config) {
		logger.Info("config changed on disk; restart coral to apply driver/adapter changes")
	}, logger); err != nil {
		logger.Warn("config hot-reload watcher unavailable", "err", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	app.Shutdown(shutdownCtx)
}

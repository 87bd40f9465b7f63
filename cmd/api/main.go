package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/markdave123-py/docindex/internal/app"
	"github.com/markdave123-py/docindex/internal/config"
	"github.com/markdave123-py/docindex/internal/logging"
)

const shutdownTimeout = 30 * time.Second

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle SIGINT/SIGTERM for graceful shutdown
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		<-c
		cancel()
	}()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	application, err := app.NewApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}

	logger.Info("docindex is running", "backend", cfg.VectorBackend, "provider", cfg.EmbedProvider, "port", cfg.Port)
	if err := app.Serve(ctx, application, shutdownTimeout); err != nil {
		logger.Error("server error", "error", err)
	}

	closeCtx, closeCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer closeCancel()
	if err := application.Close(closeCtx); err != nil {
		logger.Error("close failed", "error", err)
	}
	logger.Info("shut down")
}

package main

import (
	"chatify/internal/config"
	"chatify/internal/http"
	"chatify/internal/presence"
	"chatify/internal/ws"
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

func run(ctx context.Context, cfg *config.Config) error {
	hub := ws.NewHub(presence.NewRegistry())

	g, gCtx := errgroup.WithContext(ctx)

	adminServer := http.NewAdminServer(hub, cfg.AdminAddr)
	apiServer := http.NewAPIServer(gCtx, hub, ws.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		MaxMessageSize: cfg.MaxMessageSize,
		SendBuffer:     cfg.SendBuffer,
	}, cfg.Addr)

	// Start Admin Server
	g.Go(adminServer.Start)

	// Start API Server
	g.Go(apiServer.Start)

	// Wait for context cancellation (signal)
	g.Go(func() error {
		<-gCtx.Done()
		slog.Info("shutting down servers")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("admin server shutdown error", "error", err)
		}
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("API server shutdown error", "error", err)
		}
		return nil
	})

	return g.Wait()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if err := config.SetupLogger(cfg.LogLevel); err != nil {
		slog.Error("invalid log level", "error", err)
		os.Exit(1)
	}

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

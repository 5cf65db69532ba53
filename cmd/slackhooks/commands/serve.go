package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/config"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/gateway"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/telemetry"
	"github.com/spf13/cobra"
)

func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the hook surfaces over HTTP",
		RunE:  runServe,
	}
}

func startTracing(cfg *config.Config) telemetry.Shutdown {
	if !cfg.Telemetry.Enabled {
		return telemetry.Noop
	}
	shutdown, err := telemetry.InitTracer(cfg.Telemetry.ServiceName, nil)
	if err != nil {
		slog.Warn("tracing disabled", "error", err)
		return telemetry.Noop
	}
	return shutdown
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := gateway.CheckTriggerAuth(cfg.Gateway); err != nil {
		return err
	}

	stopTracing := startTracing(cfg)
	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	server := gateway.New(cfg.Gateway, a.dispatcher)
	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("gateway server failed: %w", err)
		}
	}()

	fmt.Printf("slackhooks serving on http://%s\nPress Ctrl+C to stop.\n", server.Addr())

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		slog.Error("gateway failed", "error", runErr)
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	slog.Info("shutting down")
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("gateway shutdown failed", "error", err)
	}
	if err := stopTracing(shutdownCtx); err != nil {
		slog.Warn("tracer shutdown failed", "error", err)
	}

	return runErr
}

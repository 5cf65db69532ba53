package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/natsbus"
	"github.com/spf13/cobra"
)

func NewListenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Consume trigger notifications from NATS",
		RunE:  runListen,
	}
}

func runListen(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	stopTracing := startTracing(cfg)
	defer func() { _ = stopTracing(context.Background()) }()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	listener := natsbus.NewListener(natsbus.Config{
		URL:           cfg.NATS.URL,
		Subject:       cfg.NATS.Subject,
		Queue:         cfg.NATS.Queue,
		Name:          cfg.NATS.ClientName,
		ReconnectWait: time.Duration(cfg.NATS.ReconnectWaitSeconds) * time.Second,
		MaxBackoff:    time.Duration(cfg.NATS.MaxBackoffSeconds) * time.Second,
	}, a.dispatcher)

	fmt.Printf("slackhooks listening on %s (subject %s)\nPress Ctrl+C to stop.\n", cfg.NATS.URL, cfg.NATS.Subject)
	if err := listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func NewPublishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish <file|->",
		Short: "Publish a trigger message to the NATS subject",
		Args:  cobra.ExactArgs(1),
		RunE:  runPublish,
	}
}

func runPublish(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	data, err := readInput(args[0])
	if err != nil {
		return err
	}
	if _, err := natsbus.DecodeRecords(data); err != nil {
		return fmt.Errorf("invalid trigger message: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := natsbus.Publish(ctx, cfg.NATS.URL, cfg.NATS.Subject, data); err != nil {
		return err
	}
	fmt.Printf("Published %d bytes to %s\n", len(data), cfg.NATS.Subject)
	return nil
}

// readInput reads a file, or stdin for "-".
func readInput(name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}

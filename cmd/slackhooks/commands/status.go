package commands

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/audit"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/config"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/metrics"
	"github.com/spf13/cobra"
)

func NewStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show configuration, dispatch metrics and recent deliveries",
		RunE:  runStatus,
	}
	cmd.Flags().IntP("tail", "n", 10, "Number of recent deliveries to show")
	return cmd
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	tail, _ := cmd.Flags().GetInt("tail")

	path := configPath
	if path == "" {
		path = config.ConfigPath()
	}

	fmt.Println("=== slackhooks Status ===")
	fmt.Println()

	fmt.Printf("Config: %s\n", path)
	if _, err := os.Stat(path); err == nil {
		fmt.Println("  Status: OK")
	} else {
		fmt.Println("  Status: Not found (defaults in use; run 'slackhooks init')")
	}

	fmt.Println("\nSlack:")
	fmt.Printf("  Bot:        /%s (%s)\n", cfg.Slack.BotName, cfg.Slack.BotUserID)
	fmt.Printf("  Playground: %s\n", cfg.Slack.PlaygroundChannel)
	fmt.Printf("  NetSuite:   %s\n", cfg.Slack.NetSuiteChannel)
	if cfg.Slack.DryRun {
		fmt.Println("  Mode:       dry run")
	}

	fmt.Println("\nParams:")
	fmt.Printf("  Source:         %s\n", cfg.Params.Source)
	fmt.Printf("  Signing secret: %s\n", cfg.Params.SigningSecret)
	fmt.Printf("  Bot token:      %s\n", cfg.Params.BotToken)

	fmt.Println("\nStorage:")
	switch cfg.Storage.Driver {
	case "sqlite":
		fmt.Printf("  Driver: sqlite (%s)\n", cfg.Storage.SQLitePath)
	case "dynamodb":
		fmt.Printf("  Driver: dynamodb (table %s)\n", cfg.Storage.Table)
	default:
		fmt.Printf("  Driver: %s\n", cfg.Storage.Driver)
	}

	fmt.Println("\nGateway:")
	fmt.Printf("  Address: %s:%d\n", cfg.Gateway.Host, cfg.Gateway.Port)
	if cfg.Gateway.Token != "" {
		fmt.Println("  Trigger: token configured")
	} else {
		fmt.Println("  Trigger: no token (open)")
	}

	if cfg.Gateway.StateDir == "" {
		fmt.Println("\nState: disabled")
		return nil
	}

	snapshot, err := metrics.ReadSnapshot(cfg.Gateway.StateDir)
	if err != nil {
		return fmt.Errorf("read metrics: %w", err)
	}
	printSnapshot(snapshot)

	events, err := audit.Tail(cfg.Gateway.StateDir, tail)
	if err != nil {
		return fmt.Errorf("read audit log: %w", err)
	}
	fmt.Printf("\nRecent deliveries: %d\n", len(events))
	for _, ev := range events {
		line := fmt.Sprintf("  %s %-11s %-32s %d", ev.Time.Local().Format(time.DateTime), ev.Surface, ev.Route, ev.Status)
		if ev.Error != "" {
			line += "  error: " + ev.Error
		} else if ev.Result != "" {
			line += "  " + ev.Result
		}
		fmt.Println(line)
	}

	return nil
}

func printSnapshot(s metrics.Snapshot) {
	fmt.Println("\nDispatch:")
	if !s.HasData() {
		fmt.Println("  No deliveries recorded")
		return
	}
	d := s.Dispatch
	fmt.Printf("  Total:    %d (errors %d, rejected %d, timeouts %d)\n", d.Total, d.Errors, d.Rejected, d.Timeouts)
	fmt.Printf("  Errors:   %.1f%%\n", d.ErrorRatio()*100)
	fmt.Printf("  Latency:  avg %.0fms, p95 <= %dms\n", d.AvgLatencyMs(), d.P95ProxyLatencyMs)
	fmt.Printf("  Chat:     %d sends, %.1f%% failed\n", s.Chat.SendAttempts, s.Chat.FailureRatio()*100)

	routes := make([]string, 0, len(s.Routes))
	for r := range s.Routes {
		routes = append(routes, r)
	}
	sort.Strings(routes)
	for _, r := range routes {
		fmt.Printf("    %-32s %d\n", r, s.Routes[r])
	}
}

package commands

import (
	"fmt"
	"os"

	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/config"
	"github.com/spf13/cobra"
)

func NewInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default slackhooks configuration",
		RunE:  runInit,
	}
}

func runInit(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		path = config.ConfigPath()
	}

	if _, err := os.Stat(path); err == nil {
		fmt.Printf("Config already exists: %s\n", path)
		return nil
	}

	cfg := config.DefaultConfig()
	if err := os.MkdirAll(cfg.Gateway.StateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory %s: %w", cfg.Gateway.StateDir, err)
	}
	if err := config.Save(cfg, path); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Printf("slackhooks initialized!\n")
	fmt.Printf("Config: %s\n", path)
	fmt.Printf("State:  %s\n", cfg.Gateway.StateDir)
	fmt.Printf("\nNext steps:\n")
	fmt.Printf("1. Edit %s to point params and storage at your AWS account\n", path)
	fmt.Printf("2. Run 'slackhooks serve' for HTTP or deploy 'slackhooks lambda' as the function handler\n")

	return nil
}

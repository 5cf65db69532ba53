package commands

import (
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/config"
	"github.com/spf13/cobra"
)

var (
	configPath       string
	logLevelOverride string
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "slackhooks",
		Short:        "slackhooks - chat automation gateway for CodePipeline approvals",
		Long:         `slackhooks receives Slack events, commands and button clicks, and pipeline notifications, and turns them into approvals, batch jobs and chat replies.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch cmd.Name() {
			case "init", "version":
				return configureLogger(config.DefaultConfig(), logLevelOverride)
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return configureLogger(cfg, logLevelOverride)
		},
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.slackhooks/config.json)")
	cmd.PersistentFlags().StringVar(&logLevelOverride, "log-level", "", "Override log level (debug|info|warn|error)")

	cmd.AddCommand(
		NewInitCmd(),
		NewServeCmd(),
		NewLambdaCmd(),
		NewListenCmd(),
		NewPublishCmd(),
		NewClassifyCmd(),
		NewSignCmd(),
		NewRoutesCmd(),
		NewStatusCmd(),
		NewVersionCmd(),
	)

	return cmd
}

func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

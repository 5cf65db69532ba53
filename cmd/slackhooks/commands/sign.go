package commands

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/cloud"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/signing"
	"github.com/spf13/cobra"
)

func NewSignCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sign <file|->",
		Short: "Print Slack signature headers for a request body",
		Long:  "Computes the headers Slack would send with the body, for replaying saved payloads against a running gateway.",
		Args:  cobra.ExactArgs(1),
		RunE:  runSign,
	}
	cmd.Flags().String("secret", "", "Signing secret (default: resolved from params.signing_secret)")
	cmd.Flags().Int64("timestamp", 0, "Request timestamp in unix seconds (default: now)")
	return cmd
}

func runSign(cmd *cobra.Command, args []string) error {
	body, err := readInput(args[0])
	if err != nil {
		return err
	}

	secret, _ := cmd.Flags().GetString("secret")
	if secret == "" {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		var params cloud.ParameterSource = cloud.StaticParameters(cfg.Params.StaticMap())
		if cfg.Params.Source == "ssm" {
			awsCfg, err := loadAWSConfig(ctx, cfg)
			if err != nil {
				return err
			}
			params = openParams(cfg, awsCfg)
		}
		if secret, err = params.Parameter(ctx, cfg.Params.SigningSecret); err != nil {
			return fmt.Errorf("resolve signing secret: %w", err)
		}
	}

	ts, _ := cmd.Flags().GetInt64("timestamp")
	if ts == 0 {
		ts = time.Now().Unix()
	}
	timestamp := strconv.FormatInt(ts, 10)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: %s\n", signing.TimestampHeader, timestamp)
	fmt.Fprintf(out, "%s: %s\n", signing.SignatureHeader, signing.Sign(secret, timestamp, body))
	return nil
}

package commands

import (
	"context"
	"fmt"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/lambdahost"
	"github.com/spf13/cobra"
)

func NewLambdaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lambda",
		Short: "Run as the AWS Lambda function handler",
		Long:  "Handles API Gateway proxy requests, SNS notifications and delegated block_actions invocations.",
		RunE:  runLambda,
	}
}

func runLambda(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	stopTracing := startTracing(cfg)
	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}

	// lambda.Start never returns; the runtime owns shutdown.
	lambda.StartWithOptions(lambdahost.New(a.dispatcher), lambda.WithEnableSIGTERM(func() {
		_ = stopTracing(context.Background())
		_ = a.Close()
	}))
	return nil
}

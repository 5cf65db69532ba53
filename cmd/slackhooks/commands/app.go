package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/approval"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/audit"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/chat"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/classify"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/cloud"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/command"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/config"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/dispatch"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/jira"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/jobs"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/metrics"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/route"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/signing"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/storage"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/storage/dynamo"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/storage/memory"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/storage/sqlite"
)

// app is the wired gateway shared by serve, lambda and listen.
type app struct {
	cfg        *config.Config
	store      storage.Store
	params     cloud.ParameterSource
	messenger  chat.Messenger
	recorder   *chat.Recorder // set in dry-run mode
	metrics    *metrics.Recorder
	dispatcher *dispatch.Dispatcher
}

func (a *app) Close() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}

func loadAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	return cloud.LoadConfig(ctx, cloud.Options{
		Region:      cfg.AWS.Region,
		Profile:     cfg.AWS.Profile,
		EndpointURL: cfg.AWS.EndpointURL,
	})
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Driver {
	case "memory":
		return memory.New(), nil
	case "sqlite":
		return sqlite.New(cfg.Storage.SQLitePath)
	default:
		awsCfg, err := loadAWSConfig(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return dynamo.New(dynamodb.NewFromConfig(awsCfg), cfg.Storage.Table), nil
	}
}

func openParams(cfg *config.Config, awsCfg aws.Config) cloud.ParameterSource {
	if cfg.Params.Source == "static" {
		return cloud.StaticParameters(cfg.Params.StaticMap())
	}
	return cloud.NewSSMParametersFromConfig(awsCfg)
}

func jobDefinitions(cfg config.JobsConfig) map[route.ID]jobs.Definition {
	defs := jobs.Defaults()
	merge := func(id route.ID, d config.JobDefinition) {
		def := defs[id]
		if d.Prefix != "" {
			def.Prefix = d.Prefix
		}
		if d.Label != "" {
			def.Label = d.Label
		}
		if d.Queue != "" {
			def.Queue = d.Queue
		}
		if d.Definition != "" {
			def.Definition = d.Definition
		}
		defs[id] = def
	}
	merge(route.PlaygroundBusyboxJob, cfg.Playground)
	merge(route.NetSuiteJob, cfg.NetSuite)
	return defs
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Storage.Driver, err)
	}

	a := &app{
		cfg:     cfg,
		store:   store,
		params:  openParams(cfg, awsCfg),
		metrics: metrics.NewRecorder(cfg.Gateway.StateDir),
	}

	var base chat.Messenger
	if cfg.Slack.DryRun {
		a.recorder = &chat.Recorder{}
		base = a.recorder
		slog.Warn("dry run: chat messages are recorded, not sent")
	} else {
		tokenParam := cfg.Params.BotToken
		base = chat.New(func(ctx context.Context) (string, error) {
			return a.params.Parameter(ctx, tokenParam)
		}, cfg.Slack.BotName)
	}
	a.messenger = chat.WithMetrics(base, a.metrics)

	var keySource approval.KeySource
	if !cfg.Approval.DisableSigning {
		keyParam := cfg.Approval.SigningKeyParam
		if keyParam == "" {
			keyParam = cfg.Params.SigningSecret
		}
		keySource = func(ctx context.Context) ([]byte, error) {
			key, err := a.params.Parameter(ctx, keyParam)
			if err != nil {
				return nil, err
			}
			return []byte(key), nil
		}
	}

	invoker := cloud.NewLambdaFromConfig(awsCfg)
	jobsRegion := cfg.Jobs.Region
	if jobsRegion == "" {
		jobsRegion = awsCfg.Region
	}

	approvals := approval.NewService(approval.Deps{
		Messenger:  a.messenger,
		Pipeline:   cloud.NewCodePipelineFromConfig(awsCfg),
		Invoker:    invoker,
		Claims:     store,
		SigningKey: keySource,
	}, cfg.Approval.IdempotencyTTL())

	a.dispatcher = dispatch.New(dispatch.Config{
		Designations: classify.Designations{
			BotUserID:         cfg.Slack.BotUserID,
			PlaygroundChannel: cfg.Slack.PlaygroundChannel,
			NetSuiteChannel:   cfg.Slack.NetSuiteChannel,
		},
		SigningSecretParam: cfg.Params.SigningSecret,
		DefaultChannel:     cfg.Slack.DefaultChannel,
	}, dispatch.Deps{
		Params:        a.params,
		Verifier:      signing.NewVerifier(cfg.Slack.MaxRequestAge()),
		Commands:      command.NewResolver(store, cfg.Slack.BotName),
		Approvals:     approvals,
		Jobs:          jobs.NewLauncher(cloud.NewBatchFromConfig(awsCfg, jobsRegion), a.messenger, jobDefinitions(cfg.Jobs)),
		Links:         jira.NewLinker(a.messenger, cfg.Jira.BaseURL),
		Messenger:     a.messenger,
		Invoker:       invoker,
		CommandStatus: cloud.NewSSMCommandsFromConfig(awsCfg),
		Metrics:       a.metrics,
		Audit:         audit.NewWriter(cfg.Gateway.StateDir),
	})
	return a, nil
}

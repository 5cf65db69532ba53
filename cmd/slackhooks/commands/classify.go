package commands

import (
	"fmt"
	"strings"

	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/classify"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/command"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/envelope"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/natsbus"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/route"
	"github.com/spf13/cobra"
)

var classifyKinds = []string{"event", "interaction", "trigger", "command"}

func NewClassifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "classify <event|interaction|trigger|command> <file|->",
		Short:     "Classify a saved payload without acting on it",
		Args:      cobra.ExactArgs(2),
		ValidArgs: classifyKinds,
		RunE:      runClassify,
	}
}

func runClassify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	data, err := readInput(args[1])
	if err != nil {
		return err
	}
	designations := classify.Designations{
		BotUserID:         cfg.Slack.BotUserID,
		PlaygroundChannel: cfg.Slack.PlaygroundChannel,
		NetSuiteChannel:   cfg.Slack.NetSuiteChannel,
	}

	out := cmd.OutOrStdout()
	switch args[0] {
	case "event":
		env, err := envelope.ParseChatEvent(data)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "route: %s\n", classify.ClassifyEnvelope(env, designations))

	case "interaction":
		payload := strings.TrimSpace(string(data))
		if strings.HasPrefix(payload, "payload=") {
			if payload, err = envelope.PayloadField([]byte(payload)); err != nil {
				return err
			}
		}
		fmt.Fprintf(out, "route: %s\n", classify.ClassifyInteraction(payload))

	case "trigger":
		records, err := natsbus.DecodeRecords(data)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "route: %s\n", classify.ClassifyTrigger(records))

	case "command":
		form, err := envelope.ParseCommandForm([]byte(strings.TrimSpace(string(data))))
		if err != nil {
			return err
		}
		resolver := command.NewResolver(nil, cfg.Slack.BotName)
		if form.Command != resolver.Command() {
			fmt.Fprintf(out, "route: %s\n", route.Unknown)
			return nil
		}
		fmt.Fprintf(out, "route: %s\nkey: %q\n", route.Command, command.LookupKey(form.Text))

	default:
		return fmt.Errorf("unknown payload kind %q (want one of %s)", args[0], strings.Join(classifyKinds, ", "))
	}
	return nil
}

package cloud

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// CommandStatus summarizes a Run Command invocation.
type CommandStatus struct {
	ID            string
	Status        string
	StatusDetails string
	Comment       string
	DocumentName  string
}

// CommandStatusReader looks up Run Command invocations.
type CommandStatusReader interface {
	CommandStatus(ctx context.Context, id string) (CommandStatus, error)
}

// SSMCommandsAPI is the subset of *ssm.Client used by SSMCommands.
type SSMCommandsAPI interface {
	ListCommands(ctx context.Context, params *ssm.ListCommandsInput, optFns ...func(*ssm.Options)) (*ssm.ListCommandsOutput, error)
}

// SSMCommands reads command status from Systems Manager.
type SSMCommands struct {
	api SSMCommandsAPI
}

func NewSSMCommands(api SSMCommandsAPI) *SSMCommands { return &SSMCommands{api: api} }

func NewSSMCommandsFromConfig(cfg aws.Config) *SSMCommands {
	return NewSSMCommands(ssm.NewFromConfig(cfg))
}

func (s *SSMCommands) CommandStatus(ctx context.Context, id string) (CommandStatus, error) {
	out, err := s.api.ListCommands(ctx, &ssm.ListCommandsInput{CommandId: aws.String(id)})
	if err != nil {
		return CommandStatus{}, fmt.Errorf("list command %s: %w", id, err)
	}
	if out == nil || len(out.Commands) == 0 {
		return CommandStatus{}, fmt.Errorf("command %s not found", id)
	}
	c := out.Commands[0]
	return CommandStatus{
		ID:            aws.ToString(c.CommandId),
		Status:        string(c.Status),
		StatusDetails: aws.ToString(c.StatusDetails),
		Comment:       aws.ToString(c.Comment),
		DocumentName:  aws.ToString(c.DocumentName),
	}, nil
}

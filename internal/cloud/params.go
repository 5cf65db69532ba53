package cloud

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ParameterSource fetches decrypted secrets.
type ParameterSource interface {
	Parameter(ctx context.Context, name string) (string, error)
}

// SSMParametersAPI is the subset of *ssm.Client used by SSMParameters.
type SSMParametersAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SSMParameters reads SecureString parameters. Nothing is cached.
type SSMParameters struct {
	api SSMParametersAPI
}

func NewSSMParameters(api SSMParametersAPI) *SSMParameters {
	return &SSMParameters{api: api}
}

// NewSSMParametersFromConfig builds the source on the shared AWS config.
func NewSSMParametersFromConfig(cfg aws.Config) *SSMParameters {
	return NewSSMParameters(ssm.NewFromConfig(cfg))
}

func (p *SSMParameters) Parameter(ctx context.Context, name string) (string, error) {
	out, err := p.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("get parameter %s: %w", name, err)
	}
	if out == nil || out.Parameter == nil {
		return "", fmt.Errorf("get parameter %s: empty response", name)
	}
	return aws.ToString(out.Parameter.Value), nil
}

// StaticParameters serves parameters from memory for local runs and tests.
type StaticParameters map[string]string

func (s StaticParameters) Parameter(_ context.Context, name string) (string, error) {
	v, ok := s[name]
	if !ok {
		return "", fmt.Errorf("parameter %s not found", name)
	}
	return v, nil
}

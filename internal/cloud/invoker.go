package cloud

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
)

// ErrFunctionFailed marks a function that ran and reported an error.
var ErrFunctionFailed = errors.New("function returned an error")

// FunctionInvoker calls remote functions.
type FunctionInvoker interface {
	// Invoke runs the function synchronously in the region named by its ARN.
	Invoke(ctx context.Context, arn string, payload []byte) ([]byte, error)
	// InvokeAsync queues an event invocation.
	InvokeAsync(ctx context.Context, name string, payload []byte) error
}

// LambdaAPI is the subset of *lambda.Client used here.
type LambdaAPI interface {
	Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// Lambda invokes functions, choosing the client region from the ARN.
type Lambda struct {
	defaultRegion string
	clients       *regional[LambdaAPI]
}

func NewLambda(defaultRegion string, newClient func(region string) LambdaAPI) *Lambda {
	if defaultRegion == "" {
		defaultRegion = DefaultRegion
	}
	return &Lambda{defaultRegion: defaultRegion, clients: newRegional(newClient)}
}

func NewLambdaFromConfig(cfg aws.Config) *Lambda {
	return NewLambda(cfg.Region, func(region string) LambdaAPI {
		return lambda.NewFromConfig(cfg, func(o *lambda.Options) { o.Region = region })
	})
}

func (l *Lambda) regionFor(name string) string {
	if strings.HasPrefix(name, "arn:") {
		if r := RegionFromARN(name); r != "" {
			return r
		}
	}
	return l.defaultRegion
}

func (l *Lambda) Invoke(ctx context.Context, arn string, payload []byte) ([]byte, error) {
	out, err := l.clients.get(l.regionFor(arn)).Invoke(ctx, &lambda.InvokeInput{
		FunctionName:   aws.String(arn),
		InvocationType: types.InvocationTypeRequestResponse,
		Payload:        payload,
	})
	if err != nil {
		return nil, fmt.Errorf("invoke %s: %w", arn, err)
	}
	if out.FunctionError != nil {
		return out.Payload, fmt.Errorf("invoke %s: %w: %s", arn, ErrFunctionFailed, aws.ToString(out.FunctionError))
	}
	return out.Payload, nil
}

func (l *Lambda) InvokeAsync(ctx context.Context, name string, payload []byte) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("function name is required")
	}
	_, err := l.clients.get(l.regionFor(name)).Invoke(ctx, &lambda.InvokeInput{
		FunctionName:   aws.String(name),
		InvocationType: types.InvocationTypeEvent,
		Payload:        payload,
	})
	if err != nil {
		return fmt.Errorf("invoke async %s: %w", name, err)
	}
	return nil
}

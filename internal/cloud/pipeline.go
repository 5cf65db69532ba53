package cloud

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/codepipeline"
	"github.com/aws/aws-sdk-go-v2/service/codepipeline/types"
)

// ApprovalResult is the outcome reported for a manual approval action.
type ApprovalResult struct {
	PipelineName string
	StageName    string
	ActionName   string
	Token        string
	Status       string
	Summary      string
}

// PipelineApprover reports manual approval outcomes.
type PipelineApprover interface {
	PutApprovalResult(ctx context.Context, region string, result ApprovalResult) error
}

// CodePipelineAPI is the subset of *codepipeline.Client used here.
type CodePipelineAPI interface {
	PutApprovalResult(ctx context.Context, params *codepipeline.PutApprovalResultInput, optFns ...func(*codepipeline.Options)) (*codepipeline.PutApprovalResultOutput, error)
}

// CodePipeline approves or rejects in the pipeline's own region.
type CodePipeline struct {
	clients *regional[CodePipelineAPI]
}

// NewCodePipeline builds regional clients with newClient.
func NewCodePipeline(newClient func(region string) CodePipelineAPI) *CodePipeline {
	return &CodePipeline{clients: newRegional(newClient)}
}

// NewCodePipelineFromConfig derives regional clients from cfg.
func NewCodePipelineFromConfig(cfg aws.Config) *CodePipeline {
	return NewCodePipeline(func(region string) CodePipelineAPI {
		return codepipeline.NewFromConfig(cfg, func(o *codepipeline.Options) { o.Region = region })
	})
}

func (c *CodePipeline) PutApprovalResult(ctx context.Context, region string, result ApprovalResult) error {
	if region == "" {
		region = DefaultRegion
	}
	_, err := c.clients.get(region).PutApprovalResult(ctx, &codepipeline.PutApprovalResultInput{
		PipelineName: aws.String(result.PipelineName),
		StageName:    aws.String(result.StageName),
		ActionName:   aws.String(result.ActionName),
		Token:        aws.String(result.Token),
		Result: &types.ApprovalResult{
			Status:  types.ApprovalStatus(result.Status),
			Summary: aws.String(result.Summary),
		},
	})
	if err != nil {
		return fmt.Errorf("put approval result for %s in %s: %w", result.PipelineName, region, err)
	}
	return nil
}

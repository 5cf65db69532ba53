package cloud

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/batch"
)

// JobSpec names a job and where it runs.
type JobSpec struct {
	Name       string
	Queue      string
	Definition string
}

// JobSubmitter queues batch jobs.
type JobSubmitter interface {
	SubmitJob(ctx context.Context, spec JobSpec) (string, error)
}

// BatchAPI is the subset of *batch.Client used here.
type BatchAPI interface {
	SubmitJob(ctx context.Context, params *batch.SubmitJobInput, optFns ...func(*batch.Options)) (*batch.SubmitJobOutput, error)
}

// Batch submits jobs to AWS Batch.
type Batch struct {
	api BatchAPI
}

func NewBatch(api BatchAPI) *Batch { return &Batch{api: api} }

// NewBatchFromConfig targets region, or cfg's region when empty.
func NewBatchFromConfig(cfg aws.Config, region string) *Batch {
	return NewBatch(batch.NewFromConfig(cfg, func(o *batch.Options) {
		if region != "" {
			o.Region = region
		}
	}))
}

// SubmitJob returns the job id, which may be empty if the service returned none.
func (b *Batch) SubmitJob(ctx context.Context, spec JobSpec) (string, error) {
	out, err := b.api.SubmitJob(ctx, &batch.SubmitJobInput{
		JobName:       aws.String(spec.Name),
		JobQueue:      aws.String(spec.Queue),
		JobDefinition: aws.String(spec.Definition),
	})
	if err != nil {
		return "", fmt.Errorf("submit job %s: %w", spec.Name, err)
	}
	return aws.ToString(out.JobId), nil
}

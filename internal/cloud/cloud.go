// Package cloud wraps the AWS services the gateway calls behind small
// interfaces so handlers can be exercised with fakes.
package cloud

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
)

// DefaultRegion is used when neither the caller nor the environment names one.
const DefaultRegion = "us-east-1"

// Options selects how the shared AWS config is loaded.
type Options struct {
	Region      string
	Profile     string
	EndpointURL string
}

// LoadConfig loads the default credential chain with the given overrides.
func LoadConfig(ctx context.Context, opts Options) (aws.Config, error) {
	var loaders []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loaders = append(loaders, awsconfig.WithRegion(opts.Region))
	}
	if opts.Profile != "" {
		loaders = append(loaders, awsconfig.WithSharedConfigProfile(opts.Profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}
	if opts.EndpointURL != "" {
		cfg.BaseEndpoint = aws.String(opts.EndpointURL)
	}
	return cfg, nil
}

// RegionFromARN returns the region field of arn, or "" when arn has fewer
// than four colon-delimited fields.
func RegionFromARN(arn string) string {
	parts := strings.Split(arn, ":")
	if len(parts) < 4 {
		return ""
	}
	return parts[3]
}

// regional caches one client per region.
type regional[T any] struct {
	mu      sync.Mutex
	clients map[string]T
	build   func(region string) T
}

func newRegional[T any](build func(region string) T) *regional[T] {
	return &regional[T]{clients: make(map[string]T), build: build}
}

func (r *regional[T]) get(region string) T {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[region]
	if !ok {
		c = r.build(region)
		r.clients[region] = c
	}
	return c
}

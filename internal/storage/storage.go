// Package storage defines the command route lookup store and the
// idempotency ledger used for approval resolutions.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/route"
)

// ErrInvalidKey is returned when a route is written without a key.
var ErrInvalidKey = errors.New("route key is required")

// RouteStore resolves command keys to routes.
type RouteStore interface {
	// Get returns the route stored under key. found is false when no record
	// exists; that is not an error.
	Get(ctx context.Context, key string) (r route.Route, found bool, err error)
	Put(ctx context.Context, r route.Route) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]route.Route, error)
}

// IdempotencyStore records one-shot claims.
type IdempotencyStore interface {
	// Claim records key for ttl. It returns false when an unexpired claim
	// for key already exists.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release drops a claim so the operation can be retried.
	Release(ctx context.Context, key string) error
}

// Store is a backend serving both concerns.
type Store interface {
	RouteStore
	IdempotencyStore
	Close() error
}

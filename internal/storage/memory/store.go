// Package memory is an in-process store for local runs and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/route"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/storage"
)

// Store is an in-memory implementation of storage.Store.
type Store struct {
	mu     sync.RWMutex
	routes map[string]route.Route
	claims map[string]time.Time
	now    func() time.Time
}

var _ storage.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		routes: make(map[string]route.Route),
		claims: make(map[string]time.Time),
		now:    time.Now,
	}
}

func (s *Store) Get(ctx context.Context, key string) (route.Route, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.routes[key]
	return r, ok, nil
}

func (s *Store) Put(ctx context.Context, r route.Route) error {
	if r.Key == "" {
		return storage.ErrInvalidKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.routes[r.Key] = r
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.routes, key)
	return nil
}

func (s *Store) List(ctx context.Context) ([]route.Route, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]route.Route, 0, len(s.routes))
	for _, r := range s.routes {
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result, nil
}

func (s *Store) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if expires, ok := s.claims[key]; ok && now.Before(expires) {
		return false, nil
	}
	s.claims[key] = now.Add(ttl)
	return true, nil
}

func (s *Store) Release(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.claims, key)
	return nil
}

func (s *Store) Close() error { return nil }

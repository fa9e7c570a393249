package compliance

import (
	"context"
	"log/slog"

	"github.com/odyssey-erp/fundops/internal/platform/cache"
)

// CachedPolicyStore serves active policies through a versioned Redis cache.
// Single policy reads go to the backing store.
type CachedPolicyStore struct {
	next   PolicyStore
	cache  *cache.Versioned
	logger *slog.Logger
}

// NewCachedPolicyStore wraps next.
func NewCachedPolicyStore(next PolicyStore, c *cache.Versioned, logger *slog.Logger) *CachedPolicyStore {
	return &CachedPolicyStore{next: next, cache: c, logger: logger}
}

// GetPolicy implements PolicyStore.
func (s *CachedPolicyStore) GetPolicy(ctx context.Context, id string) (Policy, error) {
	return s.next.GetPolicy(ctx, id)
}

// ListActivePolicies implements PolicyStore. Cache failures fall back to the
// backing store.
func (s *CachedPolicyStore) ListActivePolicies(ctx context.Context) ([]Policy, error) {
	key, err := s.cache.BuildKey(ctx, "policies", "active")
	if err != nil {
		s.log().Warn("policy cache key", slog.Any("error", err))
		return s.next.ListActivePolicies(ctx)
	}
	var (
		policies  []Policy
		loaderErr error
	)
	err = s.cache.FetchJSON(ctx, key, &policies, func(ctx context.Context) (any, error) {
		loaded, err := s.next.ListActivePolicies(ctx)
		loaderErr = err
		return loaded, err
	})
	if err != nil {
		if loaderErr != nil || ctx.Err() != nil {
			return nil, err
		}
		s.log().Warn("policy cache fetch", slog.Any("error", err))
		return s.next.ListActivePolicies(ctx)
	}
	return policies, nil
}

// Invalidate drops every cached policy listing.
func (s *CachedPolicyStore) Invalidate(ctx context.Context) error {
	return s.cache.Bump(ctx)
}

func (s *CachedPolicyStore) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(slog.String("component", "policy_cache"))
	}
	return slog.Default().With(slog.String("component", "policy_cache"))
}

// Package velocity tracks per-actor transaction frequency, feeding the
// frequency feature of the transaction risk model.
package velocity

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Service derives per-actor transaction counts over a sliding window.
// The cache counter is the hot path; the repository is the fallback
// when no cache is wired.
type Service struct {
	repo   domain.Repository
	cache  domain.Cache
	window time.Duration
}

// NewService creates a velocity service. windowSecs <= 0 defaults to
// one hour.
func NewService(repo domain.Repository, cache domain.Cache, windowSecs int) *Service {
	if windowSecs <= 0 {
		windowSecs = 3600
	}
	return &Service{
		repo:   repo,
		cache:  cache,
		window: time.Duration(windowSecs) * time.Second,
	}
}

// Record counts a new transaction for an actor and returns the updated
// in-window count, including the one just recorded.
func (s *Service) Record(ctx context.Context, tenantID, actorID string) (int64, error) {
	if tenantID == "" || actorID == "" {
		return 0, fmt.Errorf("%w: tenantID and actorID are required", domain.ErrInvalidInput)
	}

	if s.cache != nil {
		count, err := s.cache.IncrementCounter(ctx, tenantID, counterKey(actorID), s.window)
		if err == nil {
			return count, nil
		}
		// Fall through to the repository on cache failure.
	}

	count, err := s.Count(ctx, tenantID, actorID)
	if err != nil {
		return 0, err
	}
	return count + 1, nil
}

// Count returns the number of persisted transactions for an actor
// within the window.
func (s *Service) Count(ctx context.Context, tenantID, actorID string) (int64, error) {
	if tenantID == "" || actorID == "" {
		return 0, fmt.Errorf("%w: tenantID and actorID are required", domain.ErrInvalidInput)
	}
	if s.repo == nil {
		return 0, fmt.Errorf("no data source available")
	}

	since := time.Now().Add(-s.window)
	count, err := s.repo.CountTransactionsByActor(ctx, tenantID, actorID, since)
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return count, nil
}

func counterKey(actorID string) string {
	return "velocity:" + actorID
}

// Package usage tracks how often commission rules are applied.
package usage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-logistics/heron/internal/domain"
)

// Service tracks per-rule application counts. Live counts run through
// the cache's atomic counters; historical counts come from the audit
// records in the store.
type Service struct {
	store  domain.RuleStore
	cache  domain.Cache
	window time.Duration
}

// NewService creates a new usage service. window bounds a live counter
// before it resets; zero means one hour.
func NewService(store domain.RuleStore, cache domain.Cache, window time.Duration) *Service {
	if window <= 0 {
		window = time.Hour
	}
	return &Service{
		store:  store,
		cache:  cache,
		window: window,
	}
}

// RecordHit bumps the live counter for a rule and returns the count in
// the current window. Counter failures only cost observability, so the
// error is logged but the hit is not retried.
func (s *Service) RecordHit(ctx context.Context, ruleID string) int64 {
	if s.cache == nil || ruleID == "" {
		return 0
	}

	count, err := s.cache.IncrementCounter(ctx, "usage:"+ruleID, s.window)
	if err != nil {
		slog.Warn("usage counter increment failed",
			"rule_id", ruleID,
			"error", err,
		)
		return 0
	}
	return count
}

// CountApplications returns how many times a rule was applied within a
// time window, from the persisted audit records.
func (s *Service) CountApplications(ctx context.Context, ruleID string, from, to time.Time) (int64, error) {
	if ruleID == "" {
		return 0, fmt.Errorf("ruleID is required")
	}
	if s.store == nil {
		return 0, fmt.Errorf("no data source available")
	}

	records, err := s.store.ListCalculations(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("failed to list calculations: %w", err)
	}

	var count int64
	for _, rec := range records {
		if rec.RuleID == ruleID {
			count++
		}
	}
	return count, nil
}

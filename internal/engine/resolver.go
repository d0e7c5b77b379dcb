package engine

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/opensource-logistics/heron/internal/domain"
)

// Resolver selects the single applicable commission rule for a transaction
// context. It is stateless per call apart from the compiled-condition cache;
// concurrent Resolve calls never contend.
type Resolver struct {
	store        domain.RuleStore
	cache        domain.Cache // optional, may be nil
	conditions   *ConditionEvaluator
	candidateTTL time.Duration
}

// NewResolver creates a resolver over the given rule store. The cache is
// optional; when present, the pair's full active rule set is cached
// unfiltered by validity, and every call filters it against the context's
// reference time. Cached sets therefore serve resolutions at any point in
// time, past or future.
func NewResolver(store domain.RuleStore, cache domain.Cache, conditions *ConditionEvaluator, candidateTTL time.Duration) *Resolver {
	if candidateTTL <= 0 {
		candidateTTL = 30 * time.Second
	}
	return &Resolver{
		store:        store,
		cache:        cache,
		conditions:   conditions,
		candidateTTL: candidateTTL,
	}
}

// Resolve returns the applicable rule for the context, or nil when no rule
// matches. A nil result is an expected business outcome, not an error;
// errors are reserved for store faults.
func (r *Resolver) Resolve(ctx context.Context, tc *domain.TransactionContext) (*domain.CommissionRule, error) {
	if err := tc.Validate(); err != nil {
		return nil, err
	}

	candidates, err := r.candidates(ctx, tc)
	if err != nil {
		return nil, err
	}

	matched := make([]*domain.CommissionRule, 0, len(candidates))
	for _, rule := range candidates {
		if !r.eligible(rule, tc) {
			continue
		}
		matched = append(matched, rule)
	}

	if len(matched) == 0 {
		return nil, nil
	}

	// Specificity first: a zone-scoped rule outranks a catch-all when both
	// match. Recency second: among equally specific rules the latest
	// created wins.
	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		aScoped := a.GeographicZone != ""
		bScoped := b.GeographicZone != ""
		if aScoped != bScoped {
			return aScoped
		}
		return a.CreatedAt.After(b.CreatedAt)
	})

	return matched[0], nil
}

// eligible applies the per-rule filters: validity window, transaction
// amount window, zone, time-of-day, weekday and the optional CEL condition.
func (r *Resolver) eligible(rule *domain.CommissionRule, tc *domain.TransactionContext) bool {
	// Validity is checked here, not in the store query, so one cached
	// candidate set stays correct for any reference time.
	if !rule.IsActive || !rule.AppliesAt(tc.ReferenceTime) {
		return false
	}
	if !rule.WithinAmountWindow(tc.Amount) {
		return false
	}
	if rule.GeographicZone != "" && rule.GeographicZone != tc.GeographicZone {
		return false
	}
	if !rule.TimeOfDay.Matches(tc.ReferenceTime) {
		return false
	}
	if !rule.MatchesDay(tc.ReferenceTime) {
		return false
	}
	if rule.Condition != "" && r.conditions != nil {
		ok, err := r.conditions.Eval(rule.Condition, tc)
		if err != nil {
			// A failing condition makes the rule ineligible rather than
			// failing the whole resolution.
			slog.Warn("rule condition failed",
				"rule_id", rule.ID,
				"error", err,
			)
			return false
		}
		if !ok {
			return false
		}
	}
	return true
}

// candidates loads the candidate set for the pair, serving from cache when
// possible. Cache failures degrade to direct store reads.
func (r *Resolver) candidates(ctx context.Context, tc *domain.TransactionContext) ([]*domain.CommissionRule, error) {
	if r.cache != nil {
		cached, err := r.cache.GetCandidates(ctx, tc.ServiceType, tc.ActorRole)
		if err != nil {
			slog.Warn("candidate cache read failed",
				"service_type", tc.ServiceType,
				"actor_role", tc.ActorRole,
				"error", err,
			)
		} else if cached != nil {
			return cached, nil
		}
	}

	rules, err := r.store.FindCandidates(ctx, tc.ServiceType, tc.ActorRole)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		// An empty catalog is cached as a non-nil slice so the next read
		// is a hit rather than another store round-trip.
		toCache := rules
		if toCache == nil {
			toCache = []*domain.CommissionRule{}
		}
		if err := r.cache.SetCandidates(ctx, tc.ServiceType, tc.ActorRole, toCache, r.candidateTTL); err != nil {
			slog.Warn("candidate cache write failed",
				"service_type", tc.ServiceType,
				"actor_role", tc.ActorRole,
				"error", err,
			)
		}
	}

	return rules, nil
}

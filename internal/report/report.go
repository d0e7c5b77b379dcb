// Package report aggregates commission rules and calculation records
// into operator-facing summaries.
package report

import (
	"context"
	"time"

	"github.com/opensource-logistics/heron/internal/domain"
	"github.com/shopspring/decimal"
)

// rateScale is the precision of aggregated rate figures.
const rateScale = 4

// RuleSummary is the aggregate view over a set of commission rules.
type RuleSummary struct {
	TotalRules    int                            `json:"totalRules"`
	ActiveRules   int                            `json:"activeRules"`
	InactiveRules int                            `json:"inactiveRules"`
	AverageRate   decimal.Decimal                `json:"averageRate"`
	ByRole        map[domain.ActorRole]int       `json:"byRole"`
	ByServiceType map[string]int                 `json:"byServiceType"`
	ByCalculation map[domain.CalculationType]int `json:"byCalculation"`
	GeneratedAt   time.Time                      `json:"generatedAt"`
}

// CommissionSummary is the aggregate view over persisted calculation
// records in a time window.
type CommissionSummary struct {
	From            time.Time                `json:"from"`
	To              time.Time                `json:"to"`
	TotalCount      int                      `json:"totalCount"`
	TotalCommission decimal.Decimal          `json:"totalCommission"`
	TotalVolume     decimal.Decimal          `json:"totalVolume"`
	AverageRate     decimal.Decimal          `json:"averageRate"`
	ByRole          map[domain.ActorRole]int `json:"byRole"`
	ByServiceType   map[string]int           `json:"byServiceType"`
	ByRule          map[string]int           `json:"byRule"`
	GeneratedAt     time.Time                `json:"generatedAt"`
}

// Reporter builds summaries from the rule store.
type Reporter struct {
	store domain.RuleStore
}

// NewReporter creates a reporter backed by the given store.
func NewReporter(store domain.RuleStore) *Reporter {
	return &Reporter{store: store}
}

// RuleReport summarises every rule in the store. An empty store yields
// zeroed counts and a zero average rate rather than an error.
func (r *Reporter) RuleReport(ctx context.Context) (*RuleSummary, error) {
	rules, err := r.store.ListRules(ctx)
	if err != nil {
		return nil, err
	}
	return SummariseRules(rules), nil
}

// CommissionReport summarises the calculation records between from and to.
func (r *Reporter) CommissionReport(ctx context.Context, from, to time.Time) (*CommissionSummary, error) {
	records, err := r.store.ListCalculations(ctx, from, to)
	if err != nil {
		return nil, err
	}
	return SummariseRecords(records, from, to), nil
}

// SummariseRules reduces a rule set into a RuleSummary. The average
// rate covers active percentage rules only, since a flat fee has no
// meaningful rate to average.
func SummariseRules(rules []*domain.CommissionRule) *RuleSummary {
	summary := &RuleSummary{
		AverageRate:   decimal.Zero,
		ByRole:        make(map[domain.ActorRole]int),
		ByServiceType: make(map[string]int),
		ByCalculation: make(map[domain.CalculationType]int),
		GeneratedAt:   time.Now().UTC(),
	}

	rateSum := decimal.Zero
	rateCount := 0

	for _, rule := range rules {
		summary.TotalRules++
		if rule.IsActive {
			summary.ActiveRules++
		} else {
			summary.InactiveRules++
		}

		summary.ByRole[rule.ActorRole]++
		summary.ByServiceType[rule.ServiceType]++
		summary.ByCalculation[rule.Calculation]++

		if rule.IsActive && rule.Calculation == domain.CalcPercentage {
			rateSum = rateSum.Add(rule.Rate)
			rateCount++
		}
	}

	if rateCount > 0 {
		summary.AverageRate = rateSum.Div(decimal.NewFromInt(int64(rateCount))).Round(rateScale)
	}

	return summary
}

// SummariseRecords reduces calculation records into a CommissionSummary.
// The average rate is volume-weighted: total commission over total volume.
func SummariseRecords(records []*domain.CommissionRecord, from, to time.Time) *CommissionSummary {
	summary := &CommissionSummary{
		From:            from,
		To:              to,
		TotalCommission: decimal.Zero,
		TotalVolume:     decimal.Zero,
		AverageRate:     decimal.Zero,
		ByRole:          make(map[domain.ActorRole]int),
		ByServiceType:   make(map[string]int),
		ByRule:          make(map[string]int),
		GeneratedAt:     time.Now().UTC(),
	}

	for _, rec := range records {
		summary.TotalCount++
		summary.TotalCommission = summary.TotalCommission.Add(rec.CommissionAmount)
		summary.TotalVolume = summary.TotalVolume.Add(rec.Amount)

		summary.ByRole[rec.ActorRole]++
		summary.ByServiceType[rec.ServiceType]++
		if rec.RuleID != "" {
			summary.ByRule[rec.RuleID]++
		}
	}

	if summary.TotalVolume.IsPositive() {
		summary.AverageRate = summary.TotalCommission.Div(summary.TotalVolume).Round(rateScale)
	}

	return summary
}

package engine

import (
	"github.com/opensource-logistics/heron/internal/domain"
	"github.com/shopspring/decimal"
)

// amountScale is the number of decimal places on a commission amount.
const amountScale = 2

// Calculator applies a rule's pricing formula to a transaction amount.
// It never fails for business reasons: a nil rule yields a zero result.
type Calculator struct {
	rounding  domain.RoundingMode
	rateScale int32
}

// NewCalculator creates a calculator with the given numeric policy.
func NewCalculator(cfg domain.CalculationConfig) *Calculator {
	rounding := cfg.Rounding
	if rounding == "" {
		rounding = domain.RoundHalfAway
	}
	rateScale := cfg.RateScale
	if rateScale <= 0 {
		rateScale = 4
	}
	return &Calculator{
		rounding:  rounding,
		rateScale: rateScale,
	}
}

// Calculate computes the commission for a resolved rule and transaction
// amount. A nil rule returns the zero result with no matched rule.
func (c *Calculator) Calculate(rule *domain.CommissionRule, amount decimal.Decimal) *domain.CommissionResult {
	if rule == nil {
		return &domain.CommissionResult{
			CommissionAmount: decimal.Zero,
			EffectiveRate:    decimal.Zero,
		}
	}

	var base decimal.Decimal
	switch rule.Calculation {
	case domain.CalcFlatFee:
		base = rule.FlatFee
	default:
		base = amount.Mul(rule.Rate)
	}

	result := &domain.CommissionResult{
		MatchedRuleID: rule.ID,
		Calculation:   rule.Calculation,
		BaseAmount:    c.round(base),
	}

	// Minimum clamp before maximum clamp: when an administrative entry has
	// minimum > maximum, the maximum wins. That ordering is policy, not an
	// error.
	clamped := base
	if rule.MinimumAmount != nil && clamped.LessThan(*rule.MinimumAmount) {
		clamped = *rule.MinimumAmount
		result.ClampApplied = domain.ClampMinimum
	}
	if rule.MaximumAmount != nil && clamped.GreaterThan(*rule.MaximumAmount) {
		clamped = *rule.MaximumAmount
		result.ClampApplied = domain.ClampMaximum
	}

	result.CommissionAmount = c.round(clamped)
	result.EffectiveRate = c.effectiveRate(result.CommissionAmount, amount)

	return result
}

// effectiveRate is commission / amount as a fraction, 0 for a zero amount.
func (c *Calculator) effectiveRate(commission, amount decimal.Decimal) decimal.Decimal {
	if !amount.IsPositive() {
		return decimal.Zero
	}
	return commission.Div(amount).Round(c.rateScale)
}

func (c *Calculator) round(v decimal.Decimal) decimal.Decimal {
	if c.rounding == domain.RoundHalfEven {
		return v.RoundBank(amountScale)
	}
	// decimal.Round is round-half-away-from-zero, the monetary default.
	return v.Round(amountScale)
}

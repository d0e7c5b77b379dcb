package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Clamp outcomes recorded on a result for traceability.
const (
	ClampNone    = ""
	ClampMinimum = "minimum"
	ClampMaximum = "maximum"
)

// CommissionResult is the output of resolving and calculating one
// transaction. It is always well-formed: a transaction with no applicable
// rule yields a zero commission and an empty MatchedRuleID, not an error.
type CommissionResult struct {
	CommissionAmount decimal.Decimal `json:"commissionAmount"`

	// EffectiveRate is CommissionAmount / Amount as a fraction, 0 when the
	// transaction amount is 0.
	EffectiveRate decimal.Decimal `json:"effectiveRate"`

	MatchedRuleID string `json:"matchedRuleId,omitempty"`

	// Breakdown metadata for the API payload.
	Calculation  CalculationType `json:"calculationType,omitempty"`
	BaseAmount   decimal.Decimal `json:"baseAmount"`
	ClampApplied string          `json:"clampApplied,omitempty"`
}

// Matched reports whether a rule was applied.
func (r *CommissionResult) Matched() bool {
	return r.MatchedRuleID != ""
}

// CommissionRecord is one persisted calculation outcome. The engine itself
// does not write these; the audit worker records them from the
// commission.calculated event stream, and reporting reduces over them.
type CommissionRecord struct {
	ID               string          `json:"id"`
	RuleID           string          `json:"ruleId,omitempty"`
	ServiceType      string          `json:"serviceType"`
	ActorRole        ActorRole       `json:"actorRole"`
	GeographicZone   string          `json:"geographicZone,omitempty"`
	Amount           decimal.Decimal `json:"amount"`
	CommissionAmount decimal.Decimal `json:"commissionAmount"`
	EffectiveRate    decimal.Decimal `json:"effectiveRate"`
	CalculatedAt     time.Time       `json:"calculatedAt"`
}

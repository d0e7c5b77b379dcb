package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ActorRole identifies which marketplace party a rule prices.
type ActorRole string

const (
	RoleClient    ActorRole = "CLIENT"
	RoleDeliverer ActorRole = "DELIVERER"
	RoleMerchant  ActorRole = "MERCHANT"
	RoleProvider  ActorRole = "PROVIDER"
	RoleAdmin     ActorRole = "ADMIN"
)

// Valid reports whether the role is one of the five known marketplace roles.
func (r ActorRole) Valid() bool {
	switch r {
	case RoleClient, RoleDeliverer, RoleMerchant, RoleProvider, RoleAdmin:
		return true
	}
	return false
}

// CalculationType selects the pricing formula of a rule.
type CalculationType string

const (
	CalcPercentage CalculationType = "PERCENTAGE"
	CalcFlatFee    CalculationType = "FLAT_FEE"
)

// TimeOfDay is a coarse daily bucket used for rule eligibility.
type TimeOfDay string

const (
	TimeMorning   TimeOfDay = "MORNING"   // [06:00, 12:00)
	TimeAfternoon TimeOfDay = "AFTERNOON" // [12:00, 18:00)
	TimeEvening   TimeOfDay = "EVENING"   // [18:00, 23:00)
	TimeNight     TimeOfDay = "NIGHT"     // [23:00, 06:00)
	TimeAnytime   TimeOfDay = "ANYTIME"
)

// TimeOfDayAt maps a timestamp to its daily bucket.
func TimeOfDayAt(t time.Time) TimeOfDay {
	switch h := t.Hour(); {
	case h >= 6 && h < 12:
		return TimeMorning
	case h >= 12 && h < 18:
		return TimeAfternoon
	case h >= 18 && h < 23:
		return TimeEvening
	default:
		return TimeNight
	}
}

// Matches reports whether the bucket covers the given timestamp.
// The zero value and ANYTIME match everything.
func (td TimeOfDay) Matches(t time.Time) bool {
	if td == "" || td == TimeAnytime {
		return true
	}
	return td == TimeOfDayAt(t)
}

// CommissionRule is a versioned, time-bounded pricing policy scoped to a
// service category and actor role.
type CommissionRule struct {
	ID          string          `json:"id"`
	ServiceType string          `json:"serviceType"`
	ActorRole   ActorRole       `json:"actorRole"`
	Description string          `json:"description,omitempty"`
	Calculation CalculationType `json:"calculationType"`

	// Rate is the commission fraction in [0,1], used for PERCENTAGE rules.
	Rate decimal.Decimal `json:"rate"`

	// FlatFee is the fixed charge used for FLAT_FEE rules.
	FlatFee decimal.Decimal `json:"flatFee"`

	// Clamps on the computed commission, not the transaction amount.
	MinimumAmount *decimal.Decimal `json:"minimumAmount,omitempty"`
	MaximumAmount *decimal.Decimal `json:"maximumAmount,omitempty"`

	// Eligibility window on the transaction amount itself.
	MinTransactionAmount *decimal.Decimal `json:"minTransactionAmount,omitempty"`
	MaxTransactionAmount *decimal.Decimal `json:"maxTransactionAmount,omitempty"`

	// GeographicZone narrows the rule to transactions tagged with this
	// exact zone. Empty means the rule applies everywhere.
	GeographicZone string `json:"geographicZone,omitempty"`

	TimeOfDay  TimeOfDay      `json:"timeOfDay,omitempty"`
	DaysOfWeek []time.Weekday `json:"daysOfWeek,omitempty"`

	// Condition is an optional CEL expression over the transaction context
	// (amount, service_type, actor_role, zone, hour, weekday). A rule with
	// a non-empty condition is a candidate only if it evaluates to true.
	Condition string `json:"condition,omitempty"`

	ValidFrom  time.Time  `json:"validFrom"`
	ValidUntil *time.Time `json:"validUntil,omitempty"`
	IsActive   bool       `json:"isActive"`

	Currency       string `json:"currency,omitempty"`
	CountryCode    string `json:"countryCode,omitempty"`
	PayoutSchedule string `json:"payoutSchedule,omitempty"`
	Notes          string `json:"notes,omitempty"`

	CreatedBy string    `json:"createdBy,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AppliesAt reports whether the rule's validity interval contains t.
// ValidUntil is inclusive on read, matching the candidate query contract.
func (r *CommissionRule) AppliesAt(t time.Time) bool {
	if t.Before(r.ValidFrom) {
		return false
	}
	if r.ValidUntil != nil && t.After(*r.ValidUntil) {
		return false
	}
	return true
}

// MatchesDay reports whether the rule's weekday restriction covers t.
// No restriction means every day matches.
func (r *CommissionRule) MatchesDay(t time.Time) bool {
	if len(r.DaysOfWeek) == 0 {
		return true
	}
	day := t.Weekday()
	for _, d := range r.DaysOfWeek {
		if d == day {
			return true
		}
	}
	return false
}

// WithinAmountWindow reports whether amount falls inside the rule's
// transaction-amount eligibility window. Absent bounds are unbounded.
func (r *CommissionRule) WithinAmountWindow(amount decimal.Decimal) bool {
	if r.MinTransactionAmount != nil && amount.LessThan(*r.MinTransactionAmount) {
		return false
	}
	if r.MaxTransactionAmount != nil && amount.GreaterThan(*r.MaxTransactionAmount) {
		return false
	}
	return true
}

// Validate checks structural constraints on the rule fields.
func (r *CommissionRule) Validate() error {
	if r.ServiceType == "" {
		return fmt.Errorf("%w: serviceType is required", ErrInvalidInput)
	}
	if !r.ActorRole.Valid() {
		return fmt.Errorf("%w: unknown actor role %q", ErrInvalidInput, r.ActorRole)
	}
	switch r.Calculation {
	case CalcPercentage:
		if r.Rate.IsNegative() || r.Rate.GreaterThan(decimal.NewFromInt(1)) {
			return fmt.Errorf("%w: rate must be in [0,1], got %s", ErrInvalidInput, r.Rate)
		}
	case CalcFlatFee:
		if r.FlatFee.IsNegative() {
			return fmt.Errorf("%w: flatFee must be >= 0, got %s", ErrInvalidInput, r.FlatFee)
		}
	default:
		return fmt.Errorf("%w: unknown calculation type %q", ErrInvalidInput, r.Calculation)
	}
	for name, v := range map[string]*decimal.Decimal{
		"minimumAmount":        r.MinimumAmount,
		"maximumAmount":        r.MaximumAmount,
		"minTransactionAmount": r.MinTransactionAmount,
		"maxTransactionAmount": r.MaxTransactionAmount,
	} {
		if v != nil && v.IsNegative() {
			return fmt.Errorf("%w: %s must be >= 0, got %s", ErrInvalidInput, name, v)
		}
	}
	if r.ValidUntil != nil && !r.ValidUntil.After(r.ValidFrom) {
		return fmt.Errorf("%w: validUntil must be after validFrom", ErrInvalidInput)
	}
	return nil
}

// Overlaps reports whether two validity intervals intersect, treating the
// intervals as [validFrom, validUntil) with an absent end as open-ended.
func (r *CommissionRule) Overlaps(other *CommissionRule) bool {
	if r.ValidUntil != nil && !r.ValidUntil.After(other.ValidFrom) {
		return false
	}
	if other.ValidUntil != nil && !other.ValidUntil.After(r.ValidFrom) {
		return false
	}
	return true
}

// Package domain defines the core interfaces and types for Heron.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a rule id does not exist.
	ErrNotFound = errors.New("rule not found")

	// ErrConflict is returned when an insert would leave two active rules
	// for the same (serviceType, actorRole) pair with overlapping validity
	// intervals.
	ErrConflict = errors.New("overlapping active rule")

	// ErrInvalidInput marks structurally invalid requests.
	ErrInvalidInput = errors.New("invalid input")
)

// RuleStore is the persistence contract the engine depends on. The
// resolution and calculation engines use only this interface, never raw
// storage access.
type RuleStore interface {
	// FindCandidates returns the active rules for the pair, regardless of
	// validity window. Validity filtering happens at resolution time so a
	// cached candidate set stays correct at any reference time.
	FindCandidates(ctx context.Context, serviceType string, role ActorRole) ([]*CommissionRule, error)

	// Insert persists a new rule, rejecting with ErrConflict if an active
	// interval-overlapping rule already exists for the same pair.
	Insert(ctx context.Context, rule *CommissionRule) (*CommissionRule, error)

	// Deactivate sets isActive=false, stamps validUntil=now and appends the
	// reason to the rule's notes. Rules are never physically deleted.
	Deactivate(ctx context.Context, ruleID, reason string) (*CommissionRule, error)

	// Update replaces only the supplied fields. It does not re-check the
	// overlap invariant; administrative callers are trusted here.
	Update(ctx context.Context, ruleID string, patch *RulePatch) (*CommissionRule, error)

	// GetRule fetches a single rule by id.
	GetRule(ctx context.Context, ruleID string) (*CommissionRule, error)

	// ListRules returns the whole catalog, active and inactive.
	ListRules(ctx context.Context) ([]*CommissionRule, error)

	// SaveCalculation records one calculation outcome.
	SaveCalculation(ctx context.Context, rec *CommissionRecord) error

	// ListCalculations returns recorded outcomes within [from, to].
	ListCalculations(ctx context.Context, from, to time.Time) ([]*CommissionRecord, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RulePatch carries a partial update. Only non-nil fields are applied.
type RulePatch struct {
	Description          *string          `json:"description,omitempty"`
	Rate                 *decimal.Decimal `json:"rate,omitempty"`
	FlatFee              *decimal.Decimal `json:"flatFee,omitempty"`
	MinimumAmount        *decimal.Decimal `json:"minimumAmount,omitempty"`
	MaximumAmount        *decimal.Decimal `json:"maximumAmount,omitempty"`
	MinTransactionAmount *decimal.Decimal `json:"minTransactionAmount,omitempty"`
	MaxTransactionAmount *decimal.Decimal `json:"maxTransactionAmount,omitempty"`
	GeographicZone       *string          `json:"geographicZone,omitempty"`
	TimeOfDay            *TimeOfDay       `json:"timeOfDay,omitempty"`
	DaysOfWeek           *[]time.Weekday  `json:"daysOfWeek,omitempty"`
	Condition            *string          `json:"condition,omitempty"`
	ValidFrom            *time.Time       `json:"validFrom,omitempty"`
	ValidUntil           *time.Time       `json:"validUntil,omitempty"`
	IsActive             *bool            `json:"isActive,omitempty"`
	Notes                *string          `json:"notes,omitempty"`
}

// Empty reports whether the patch carries no changes.
func (p *RulePatch) Empty() bool {
	return p == nil || !p.any()
}

func (p *RulePatch) any() bool {
	return p.Description != nil || p.Rate != nil || p.FlatFee != nil ||
		p.MinimumAmount != nil || p.MaximumAmount != nil ||
		p.MinTransactionAmount != nil || p.MaxTransactionAmount != nil ||
		p.GeographicZone != nil || p.TimeOfDay != nil || p.DaysOfWeek != nil ||
		p.Condition != nil || p.ValidFrom != nil || p.ValidUntil != nil ||
		p.IsActive != nil || p.Notes != nil
}

// RepositoryConfig holds configuration for rule store initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

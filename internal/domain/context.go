package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionContext describes one transaction to be priced. It is
// ephemeral; the engine never persists it.
type TransactionContext struct {
	ServiceType    string          `json:"serviceType"`
	ActorRole      ActorRole       `json:"actorRole"`
	Amount         decimal.Decimal `json:"amount"`
	GeographicZone string          `json:"geographicZone,omitempty"`

	// ReferenceTime is the instant the rule set is evaluated against.
	// The API layer defaults it to now when the caller omits it.
	ReferenceTime time.Time `json:"referenceTime"`
}

// Validate checks the required fields of the context.
func (c *TransactionContext) Validate() error {
	if c.ServiceType == "" {
		return fmt.Errorf("%w: serviceType is required", ErrInvalidInput)
	}
	if !c.ActorRole.Valid() {
		return fmt.Errorf("%w: unknown actor role %q", ErrInvalidInput, c.ActorRole)
	}
	if c.Amount.IsNegative() {
		return fmt.Errorf("%w: amount must be >= 0, got %s", ErrInvalidInput, c.Amount)
	}
	if c.ReferenceTime.IsZero() {
		return fmt.Errorf("%w: referenceTime is required", ErrInvalidInput)
	}
	return nil
}

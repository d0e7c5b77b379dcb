package engine

import (
	"testing"
	"time"

	"github.com/opensource-logistics/heron/internal/domain"
)

func newEvaluator(t *testing.T) *ConditionEvaluator {
	t.Helper()
	e, err := NewConditionEvaluator()
	if err != nil {
		t.Fatalf("failed to create condition evaluator: %v", err)
	}
	return e
}

func TestConditionValidate(t *testing.T) {
	e := newEvaluator(t)

	tests := []struct {
		name    string
		expr    string
		wantErr bool
	}{
		{"Empty", "", false},
		{"AmountComparison", "amount > 100.0", false},
		{"ZoneAndRole", `zone == "paris" && actor_role == "DELIVERER"`, false},
		{"HourRange", "hour >= 18 && hour < 23", false},
		{"NonBool", "amount + 1.0", true},
		{"UnknownVariable", "total > 5.0", true},
		{"SyntaxError", "amount >", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.Validate(tt.expr)
			if tt.wantErr && err == nil {
				t.Errorf("Validate(%q) expected error, got nil", tt.expr)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Validate(%q) unexpected error: %v", tt.expr, err)
			}
		})
	}
}

func TestConditionEval(t *testing.T) {
	e := newEvaluator(t)

	tc := &domain.TransactionContext{
		ServiceType:    "DELIVERY",
		ActorRole:      domain.RoleDeliverer,
		Amount:         dec("250"),
		GeographicZone: "paris",
		// A Friday at 20:00.
		ReferenceTime: time.Date(2024, 6, 7, 20, 0, 0, 0, time.UTC),
	}

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{"EmptyAlwaysTrue", "", true},
		{"AmountAbove", "amount >= 200.0", true},
		{"AmountBelow", "amount >= 500.0", false},
		{"ZoneMatch", `zone == "paris"`, true},
		{"ZoneMismatch", `zone == "lyon"`, false},
		{"ServiceType", `service_type == "DELIVERY"`, true},
		{"ActorRole", `actor_role == "DELIVERER"`, true},
		{"EveningHour", "hour >= 18", true},
		{"Weekday", "weekday == 5", true},
		{"Compound", `amount > 100.0 && zone == "paris" && hour >= 18`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Eval(tt.expr, tc)
			if err != nil {
				t.Fatalf("Eval(%q) failed: %v", tt.expr, err)
			}
			if got != tt.want {
				t.Errorf("Eval(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestConditionEvalInvalidExpression(t *testing.T) {
	e := newEvaluator(t)

	tc := &domain.TransactionContext{
		ServiceType:   "DELIVERY",
		ActorRole:     domain.RoleDeliverer,
		Amount:        dec("10"),
		ReferenceTime: time.Now().UTC(),
	}

	if _, err := e.Eval("amount >", tc); err == nil {
		t.Error("expected error for malformed expression")
	}
	if _, err := e.Eval("amount + 1.0", tc); err == nil {
		t.Error("expected error for non-bool expression")
	}
}

func TestConditionProgramCaching(t *testing.T) {
	e := newEvaluator(t)

	tc := &domain.TransactionContext{
		ServiceType:   "DELIVERY",
		ActorRole:     domain.RoleDeliverer,
		Amount:        dec("10"),
		ReferenceTime: time.Now().UTC(),
	}

	const expr = "amount > 5.0"
	if _, err := e.Eval(expr, tc); err != nil {
		t.Fatalf("first Eval failed: %v", err)
	}

	e.mu.RLock()
	_, cached := e.programs[expr]
	e.mu.RUnlock()
	if !cached {
		t.Error("expected compiled program to be cached after first Eval")
	}

	// A second evaluation must reuse the cached program and agree.
	got, err := e.Eval(expr, tc)
	if err != nil {
		t.Fatalf("second Eval failed: %v", err)
	}
	if !got {
		t.Error("cached program produced a different result")
	}
}

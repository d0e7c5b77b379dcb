package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/opensource-logistics/heron/internal/domain"
	"github.com/shopspring/decimal"
)

func newTestStore(t *testing.T) domain.RuleStore {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "heron-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	store, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return store
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func baseRule() *domain.CommissionRule {
	return &domain.CommissionRule{
		ServiceType: "DELIVERY",
		ActorRole:   domain.RoleDeliverer,
		Description: "standard delivery commission",
		Calculation: domain.CalcPercentage,
		Rate:        dec("0.08"),
		ValidFrom:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		IsActive:    true,
	}
}

func TestSQLiteStore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	t.Run("Ping", func(t *testing.T) {
		if err := store.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("InsertDefaults", func(t *testing.T) {
		created, err := store.Insert(ctx, baseRule())
		if err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
		if created.ID == "" {
			t.Error("expected generated id")
		}
		if created.Currency != "EUR" {
			t.Errorf("expected default currency EUR, got %s", created.Currency)
		}
		if created.TimeOfDay != domain.TimeAnytime {
			t.Errorf("expected default time of day ANYTIME, got %s", created.TimeOfDay)
		}
		if created.CreatedAt.IsZero() || created.UpdatedAt.IsZero() {
			t.Error("expected timestamps to be stamped")
		}

		fetched, err := store.GetRule(ctx, created.ID)
		if err != nil {
			t.Fatalf("GetRule failed: %v", err)
		}
		if fetched.ServiceType != "DELIVERY" || fetched.ActorRole != domain.RoleDeliverer {
			t.Errorf("round-trip mismatch: %+v", fetched)
		}
		if !fetched.Rate.Equal(dec("0.08")) {
			t.Errorf("expected rate 0.08, got %s", fetched.Rate)
		}
	})

	t.Run("InsertInvalid", func(t *testing.T) {
		bad := baseRule()
		bad.ServiceType = ""
		if _, err := store.Insert(ctx, bad); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("GetRuleNotFound", func(t *testing.T) {
		if _, err := store.GetRule(ctx, "no-such-rule"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestOverlapInvariant(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := baseRule()
	if _, err := store.Insert(ctx, first); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	t.Run("OverlappingRejected", func(t *testing.T) {
		second := baseRule()
		second.ValidFrom = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
		if _, err := store.Insert(ctx, second); !errors.Is(err, domain.ErrConflict) {
			t.Errorf("expected ErrConflict, got %v", err)
		}
	})

	t.Run("OtherPairUnaffected", func(t *testing.T) {
		other := baseRule()
		other.ActorRole = domain.RoleMerchant
		if _, err := store.Insert(ctx, other); err != nil {
			t.Errorf("insert for a different pair should succeed: %v", err)
		}
	})

	t.Run("ZoneScopedCoexists", func(t *testing.T) {
		scoped := baseRule()
		scoped.GeographicZone = "paris"
		if _, err := store.Insert(ctx, scoped); err != nil {
			t.Fatalf("zone-scoped rule should coexist with the catch-all: %v", err)
		}

		// A second rule for the same zone does conflict.
		duplicate := baseRule()
		duplicate.GeographicZone = "paris"
		if _, err := store.Insert(ctx, duplicate); !errors.Is(err, domain.ErrConflict) {
			t.Errorf("expected ErrConflict for a same-zone duplicate, got %v", err)
		}
	})

	t.Run("InactiveInsertAllowed", func(t *testing.T) {
		draft := baseRule()
		draft.IsActive = false
		if _, err := store.Insert(ctx, draft); err != nil {
			t.Errorf("inactive insert should skip the overlap check: %v", err)
		}
	})

	t.Run("AdjacentIntervalsAllowed", func(t *testing.T) {
		store := newTestStore(t)

		until := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
		bounded := baseRule()
		bounded.ValidUntil = &until
		if _, err := store.Insert(ctx, bounded); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}

		successor := baseRule()
		successor.ValidFrom = until
		if _, err := store.Insert(ctx, successor); err != nil {
			t.Errorf("back-to-back intervals should not conflict: %v", err)
		}
	})
}

func TestDeactivate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created, err := store.Insert(ctx, baseRule())
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	deactivated, err := store.Deactivate(ctx, created.ID, "superseded by new pricing")
	if err != nil {
		t.Fatalf("Deactivate failed: %v", err)
	}
	if deactivated.IsActive {
		t.Error("expected rule to be inactive")
	}
	if deactivated.ValidUntil == nil {
		t.Error("expected validUntil to be stamped")
	}
	if deactivated.Notes == "" {
		t.Error("expected the reason to be appended to notes")
	}

	// Deactivation ends the validity interval, so a replacement insert
	// for the same pair must now succeed.
	replacement := baseRule()
	replacement.Rate = dec("0.10")
	replacement.ValidFrom = time.Now().UTC().Add(time.Minute)
	if _, err := store.Insert(ctx, replacement); err != nil {
		t.Errorf("insert after deactivation should succeed: %v", err)
	}

	// The old rule is retained, never deleted.
	if _, err := store.GetRule(ctx, created.ID); err != nil {
		t.Errorf("deactivated rule should still be readable: %v", err)
	}

	if _, err := store.Deactivate(ctx, "no-such-rule", "x"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created, err := store.Insert(ctx, baseRule())
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	t.Run("PatchFields", func(t *testing.T) {
		desc := "peak season pricing"
		rate := dec("0.12")
		zone := "paris"
		updated, err := store.Update(ctx, created.ID, &domain.RulePatch{
			Description:    &desc,
			Rate:           &rate,
			GeographicZone: &zone,
			MinimumAmount:  decPtr("2"),
		})
		if err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		if updated.Description != desc {
			t.Errorf("expected description %q, got %q", desc, updated.Description)
		}
		if !updated.Rate.Equal(rate) {
			t.Errorf("expected rate %s, got %s", rate, updated.Rate)
		}
		if updated.GeographicZone != zone {
			t.Errorf("expected zone %q, got %q", zone, updated.GeographicZone)
		}

		fetched, err := store.GetRule(ctx, created.ID)
		if err != nil {
			t.Fatalf("GetRule failed: %v", err)
		}
		if fetched.MinimumAmount == nil || !fetched.MinimumAmount.Equal(dec("2")) {
			t.Errorf("expected persisted minimum 2, got %v", fetched.MinimumAmount)
		}
	})

	t.Run("EmptyPatchIsNoop", func(t *testing.T) {
		before, _ := store.GetRule(ctx, created.ID)
		after, err := store.Update(ctx, created.ID, &domain.RulePatch{})
		if err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		if !after.UpdatedAt.Equal(before.UpdatedAt) {
			t.Error("empty patch should not touch the rule")
		}
	})

	t.Run("InvalidPatchRejected", func(t *testing.T) {
		rate := dec("1.5")
		if _, err := store.Update(ctx, created.ID, &domain.RulePatch{Rate: &rate}); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput for rate 1.5, got %v", err)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		desc := "x"
		if _, err := store.Update(ctx, "no-such-rule", &domain.RulePatch{Description: &desc}); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestFindCandidates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	until := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	bounded := baseRule()
	bounded.ValidUntil = &until
	if _, err := store.Insert(ctx, bounded); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	successor := baseRule()
	successor.ValidFrom = time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)
	if _, err := store.Insert(ctx, successor); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	inactive := baseRule()
	inactive.IsActive = false
	if _, err := store.Insert(ctx, inactive); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	t.Run("AllWindowsReturned", func(t *testing.T) {
		// Validity windows are not filtered at the store: expired and
		// future rules belong in the candidate set so the resolver can
		// evaluate any reference time against one cached set.
		got, err := store.FindCandidates(ctx, "DELIVERY", domain.RoleDeliverer)
		if err != nil {
			t.Fatalf("FindCandidates failed: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("expected both active rules regardless of window, got %d", len(got))
		}
		for _, r := range got {
			if !r.IsActive {
				t.Errorf("inactive rule %s leaked into candidates", r.ID)
			}
		}
	})

	t.Run("OtherPairExcluded", func(t *testing.T) {
		got, err := store.FindCandidates(ctx, "DELIVERY", domain.RoleMerchant)
		if err != nil {
			t.Fatalf("FindCandidates failed: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("expected no candidates for another role, got %d", len(got))
		}
	})

	t.Run("InvalidInput", func(t *testing.T) {
		if _, err := store.FindCandidates(ctx, "", domain.RoleDeliverer); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestInsertErrorMapping(t *testing.T) {
	rule := baseRule()

	t.Run("SerializationFailureIsConflict", func(t *testing.T) {
		raced := &pq.Error{Code: "40001", Message: "could not serialize access"}
		if err := insertError(raced, rule); !errors.Is(err, domain.ErrConflict) {
			t.Errorf("expected ErrConflict for a raced serializable insert, got %v", err)
		}
	})

	t.Run("WrappedSerializationFailure", func(t *testing.T) {
		wrapped := fmt.Errorf("exec: %w", &pq.Error{Code: "40001"})
		if err := insertError(wrapped, rule); !errors.Is(err, domain.ErrConflict) {
			t.Errorf("expected ErrConflict for a wrapped 40001, got %v", err)
		}
	})

	t.Run("OtherErrorsPassThrough", func(t *testing.T) {
		unique := &pq.Error{Code: "23505"}
		if err := insertError(unique, rule); errors.Is(err, domain.ErrConflict) {
			t.Error("non-serialization failures must not be reported as conflicts")
		}
		plain := errors.New("connection reset")
		if err := insertError(plain, rule); err != plain {
			t.Errorf("expected the original error back, got %v", err)
		}
	})
}

func TestListRules(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, role := range []domain.ActorRole{domain.RoleDeliverer, domain.RoleMerchant} {
		r := baseRule()
		r.ActorRole = role
		if _, err := store.Insert(ctx, r); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	rules, err := store.ListRules(ctx)
	if err != nil {
		t.Fatalf("ListRules failed: %v", err)
	}
	if len(rules) != 2 {
		t.Errorf("expected 2 rules, got %d", len(rules))
	}
}

func TestCalculationRecords(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		rec := &domain.CommissionRecord{
			RuleID:           "rule-a",
			ServiceType:      "DELIVERY",
			ActorRole:        domain.RoleDeliverer,
			Amount:           dec("100"),
			CommissionAmount: dec("8.00"),
			EffectiveRate:    dec("0.08"),
			CalculatedAt:     base.Add(time.Duration(i) * time.Hour),
		}
		if err := store.SaveCalculation(ctx, rec); err != nil {
			t.Fatalf("SaveCalculation failed: %v", err)
		}
	}

	t.Run("WindowFilter", func(t *testing.T) {
		records, err := store.ListCalculations(ctx, base, base.Add(time.Hour))
		if err != nil {
			t.Fatalf("ListCalculations failed: %v", err)
		}
		if len(records) != 2 {
			t.Fatalf("expected 2 records in window, got %d", len(records))
		}
		if records[0].RuleID != "rule-a" {
			t.Errorf("expected rule-a, got %s", records[0].RuleID)
		}
		if !records[0].CommissionAmount.Equal(dec("8.00")) {
			t.Errorf("expected commission 8.00, got %s", records[0].CommissionAmount)
		}
	})

	t.Run("DefaultsApplied", func(t *testing.T) {
		rec := &domain.CommissionRecord{
			ServiceType:      "RIDE",
			ActorRole:        domain.RoleClient,
			Amount:           dec("50"),
			CommissionAmount: dec("0"),
			EffectiveRate:    dec("0"),
		}
		if err := store.SaveCalculation(ctx, rec); err != nil {
			t.Fatalf("SaveCalculation failed: %v", err)
		}

		records, err := store.ListCalculations(ctx, time.Now().UTC().Add(-time.Minute), time.Now().UTC().Add(time.Minute))
		if err != nil {
			t.Fatalf("ListCalculations failed: %v", err)
		}
		if len(records) != 1 {
			t.Fatalf("expected 1 recent record, got %d", len(records))
		}
		if records[0].ID == "" {
			t.Error("expected generated record id")
		}
		if records[0].RuleID != "" {
			t.Errorf("expected empty ruleID for unmatched record, got %q", records[0].RuleID)
		}
	})
}

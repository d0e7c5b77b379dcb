//go:build integration
// +build integration

// Package integration provides end-to-end tests for the Heron commission
// engine.
//
// These tests exercise the COMPLETE pipeline over HTTP:
//
//	Rule catalog → Resolution → Calculation → Audit events → Reports
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// The tests seed their own rules through POST /rules using service types
// suffixed with the test start time, so repeated runs against the same
// server never collide with earlier catalogs.
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

// TestConfig holds test environment configuration.
type TestConfig struct {
	BaseURL string
	// RunID isolates the rules each run seeds.
	RunID string
}

func getTestConfig() TestConfig {
	baseURL := os.Getenv("HERON_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return TestConfig{
		BaseURL: baseURL,
		RunID:   fmt.Sprintf("%d", time.Now().UnixNano()),
	}
}

func (c TestConfig) serviceType(base string) string {
	return base + "-" + c.RunID
}

// CalculateRequest matches the POST /commissions/calculate contract.
type CalculateRequest struct {
	ServiceType    string `json:"serviceType"`
	ActorRole      string `json:"actorRole"`
	Amount         string `json:"amount"`
	GeographicZone string `json:"geographicZone,omitempty"`
	ReferenceTime  string `json:"referenceTime,omitempty"`
}

// CalculateResponse matches what POST /commissions/calculate returns.
type CalculateResponse struct {
	CommissionAmount string           `json:"commissionAmount"`
	EffectiveRate    string           `json:"effectiveRate"`
	MatchedRuleID    string           `json:"matchedRuleId"`
	ClampApplied     string           `json:"clampApplied"`
	Matched          bool             `json:"matched"`
	Metadata         ResponseMetadata `json:"metadata"`
}

type ResponseMetadata struct {
	TraceID string `json:"traceId"`
	TotalMs int64  `json:"totalMs"`
	Version string `json:"version"`
}

func postJSON(t *testing.T, config TestConfig, path string, body any) (*http.Response, []byte) {
	t.Helper()

	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}

	httpReq, err := http.NewRequest("POST", config.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	return resp, respBody
}

func seedRule(t *testing.T, config TestConfig, rule map[string]any) string {
	t.Helper()

	resp, body := postJSON(t, config, "/rules", rule)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201 seeding rule, got %d: %s", resp.StatusCode, string(body))
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("Failed to unmarshal created rule: %v", err)
	}
	return created.ID
}

func calculate(t *testing.T, config TestConfig, req CalculateRequest) CalculateResponse {
	t.Helper()

	resp, body := postJSON(t, config, "/commissions/calculate", req)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", resp.StatusCode, string(body))
	}

	var result CalculateResponse
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, string(body))
	}
	return result
}

func TestPercentageCommission(t *testing.T) {
	/*
	   SCENARIO: An 8% delivery rule prices a 100 EUR transaction.

	   EXPECTED:
	   - matched = true, commissionAmount = 8, effectiveRate = 0.08
	*/
	config := getTestConfig()
	serviceType := config.serviceType("DELIVERY")

	seedRule(t, config, map[string]any{
		"serviceType":     serviceType,
		"actorRole":       "DELIVERER",
		"calculationType": "PERCENTAGE",
		"rate":            "0.08",
		"validFrom":       "2024-01-01T00:00:00Z",
		"isActive":        true,
	})

	result := calculate(t, config, CalculateRequest{
		ServiceType:   serviceType,
		ActorRole:     "DELIVERER",
		Amount:        "100",
		ReferenceTime: "2024-06-01T12:00:00Z",
	})

	if !result.Matched {
		t.Fatal("Expected a matched rule")
	}
	if result.CommissionAmount != "8" {
		t.Errorf("Expected commission 8, got %s", result.CommissionAmount)
	}
	if result.EffectiveRate != "0.08" {
		t.Errorf("Expected effective rate 0.08, got %s", result.EffectiveRate)
	}

	t.Logf("✓ Percentage commission: amount=100 → commission=%s rate=%s",
		result.CommissionAmount, result.EffectiveRate)
}

func TestNoMatchBeforeValidity(t *testing.T) {
	/*
	   SCENARIO: The same transaction dated before the rule's validFrom.

	   EXPECTED:
	   - matched = false, commissionAmount = 0, effectiveRate = 0
	   - HTTP 200: "no applicable rule" is a business outcome, not an error.
	*/
	config := getTestConfig()
	serviceType := config.serviceType("DELIVERY-EARLY")

	seedRule(t, config, map[string]any{
		"serviceType":     serviceType,
		"actorRole":       "DELIVERER",
		"calculationType": "PERCENTAGE",
		"rate":            "0.08",
		"validFrom":       "2024-01-01T00:00:00Z",
		"isActive":        true,
	})

	result := calculate(t, config, CalculateRequest{
		ServiceType:   serviceType,
		ActorRole:     "DELIVERER",
		Amount:        "100",
		ReferenceTime: "2023-12-31T12:00:00Z",
	})

	if result.Matched {
		t.Error("Expected no match before the validity window")
	}
	if result.CommissionAmount != "0" {
		t.Errorf("Expected zero commission, got %s", result.CommissionAmount)
	}
	if result.MatchedRuleID != "" {
		t.Errorf("Expected empty matched rule id, got %s", result.MatchedRuleID)
	}

	t.Logf("✓ Pre-validity transaction passed through: matched=%v", result.Matched)
}

func TestClampBoundaries(t *testing.T) {
	/*
	   SCENARIO: A 10%% rule clamped to [5, 50].

	   EXPECTED:
	   - amount 20   → raw 2.00  → clamped up to 5
	   - amount 1000 → raw 100   → clamped down to 50
	   - amount 300  → raw 30    → untouched
	*/
	config := getTestConfig()
	serviceType := config.serviceType("FREIGHT")

	seedRule(t, config, map[string]any{
		"serviceType":     serviceType,
		"actorRole":       "MERCHANT",
		"calculationType": "PERCENTAGE",
		"rate":            "0.10",
		"minimumAmount":   "5",
		"maximumAmount":   "50",
		"validFrom":       "2024-01-01T00:00:00Z",
		"isActive":        true,
	})

	tests := []struct {
		amount string
		want   string
		clamp  string
	}{
		{"20", "5", "minimum"},
		{"1000", "50", "maximum"},
		{"300", "30", ""},
	}

	for _, tt := range tests {
		result := calculate(t, config, CalculateRequest{
			ServiceType:   serviceType,
			ActorRole:     "MERCHANT",
			Amount:        tt.amount,
			ReferenceTime: "2024-06-01T12:00:00Z",
		})
		if result.CommissionAmount != tt.want {
			t.Errorf("amount %s: expected commission %s, got %s", tt.amount, tt.want, result.CommissionAmount)
		}
		if result.ClampApplied != tt.clamp {
			t.Errorf("amount %s: expected clamp %q, got %q", tt.amount, tt.clamp, result.ClampApplied)
		}
	}

	t.Log("✓ Clamp boundaries behave as configured")
}

func TestZoneSpecificityOverCatchAll(t *testing.T) {
	/*
	   SCENARIO: A paris-scoped 5%% rule and a catch-all 8%% rule both
	   active for the same pair.

	   EXPECTED:
	   - transactions tagged zone=paris use the 5%% rule
	   - untagged transactions fall back to the catch-all
	*/
	config := getTestConfig()
	serviceType := config.serviceType("COURIER")

	seedRule(t, config, map[string]any{
		"serviceType":     serviceType,
		"actorRole":       "DELIVERER",
		"calculationType": "PERCENTAGE",
		"rate":            "0.08",
		"validFrom":       "2024-01-01T00:00:00Z",
		"isActive":        true,
	})
	seedRule(t, config, map[string]any{
		"serviceType":     serviceType,
		"actorRole":       "DELIVERER",
		"calculationType": "PERCENTAGE",
		"rate":            "0.05",
		"geographicZone":  "paris",
		"validFrom":       "2024-01-01T00:00:00Z",
		"isActive":        true,
	})

	tagged := calculate(t, config, CalculateRequest{
		ServiceType:    serviceType,
		ActorRole:      "DELIVERER",
		Amount:         "100",
		GeographicZone: "paris",
		ReferenceTime:  "2024-06-01T12:00:00Z",
	})
	if tagged.CommissionAmount != "5" {
		t.Errorf("Expected zone-scoped rate to win (commission 5), got %s", tagged.CommissionAmount)
	}

	untagged := calculate(t, config, CalculateRequest{
		ServiceType:   serviceType,
		ActorRole:     "DELIVERER",
		Amount:        "100",
		ReferenceTime: "2024-06-01T12:00:00Z",
	})
	if untagged.CommissionAmount != "8" {
		t.Errorf("Expected catch-all rate for untagged transaction, got %s", untagged.CommissionAmount)
	}

	t.Logf("✓ Specificity: paris=%s, untagged=%s", tagged.CommissionAmount, untagged.CommissionAmount)
}

func TestOverlapConflict(t *testing.T) {
	/*
	   SCENARIO: Two open-ended active rules for the same pair and zone.

	   EXPECTED: HTTP 409 with an actionable error body.
	*/
	config := getTestConfig()
	serviceType := config.serviceType("RIDE")

	rule := map[string]any{
		"serviceType":     serviceType,
		"actorRole":       "CLIENT",
		"calculationType": "FLAT_FEE",
		"flatFee":         "2.50",
		"validFrom":       "2024-01-01T00:00:00Z",
		"isActive":        true,
	}
	seedRule(t, config, rule)

	resp, body := postJSON(t, config, "/rules", rule)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("Expected 409 for overlapping rule, got %d: %s", resp.StatusCode, string(body))
	}

	var errBody struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &errBody); err != nil || errBody.Error == "" {
		t.Errorf("Expected an actionable error body, got %s", string(body))
	}

	t.Logf("✓ Overlap rejected: %s", errBody.Error)
}

func TestDeactivationEndsResolution(t *testing.T) {
	/*
	   SCENARIO: Deactivate a rule, then calculate at the current time.

	   EXPECTED: the rule stops matching new transactions.
	*/
	config := getTestConfig()
	serviceType := config.serviceType("STORAGE")

	ruleID := seedRule(t, config, map[string]any{
		"serviceType":     serviceType,
		"actorRole":       "PROVIDER",
		"calculationType": "PERCENTAGE",
		"rate":            "0.15",
		"validFrom":       "2024-01-01T00:00:00Z",
		"isActive":        true,
	})

	resp, body := postJSON(t, config, "/rules/"+ruleID+"/deactivate", map[string]any{
		"reason": "integration test cleanup",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 deactivating, got %d: %s", resp.StatusCode, string(body))
	}

	result := calculate(t, config, CalculateRequest{
		ServiceType: serviceType,
		ActorRole:   "PROVIDER",
		Amount:      "100",
	})
	if result.Matched {
		t.Error("Expected deactivated rule to stop matching")
	}

	t.Logf("✓ Deactivated rule no longer resolves")
}

func TestResponseMetadata(t *testing.T) {
	/*
	   SCENARIO: Verify the calculation response metadata contract.
	*/
	config := getTestConfig()

	result := calculate(t, config, CalculateRequest{
		ServiceType: config.serviceType("UNPRICED"),
		ActorRole:   "CLIENT",
		Amount:      "100",
	})

	if result.Metadata.TraceID == "" {
		t.Error("Missing metadata.traceId")
	}
	if result.Metadata.Version == "" {
		t.Error("Missing metadata.version")
	}
	// TotalMs can be 0 for sub-millisecond calculations.
	if result.Metadata.TotalMs < 0 {
		t.Error("Invalid metadata.totalMs (negative)")
	}

	t.Logf("✓ Metadata complete: traceId=%s, totalMs=%d, version=%s",
		result.Metadata.TraceID, result.Metadata.TotalMs, result.Metadata.Version)
}

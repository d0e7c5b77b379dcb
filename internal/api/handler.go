package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-logistics/heron/internal/domain"
	"github.com/opensource-logistics/heron/internal/engine"
	"github.com/opensource-logistics/heron/internal/report"
	"github.com/opensource-logistics/heron/internal/usage"
	"github.com/shopspring/decimal"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	store      domain.RuleStore
	cache      domain.Cache
	bus        domain.EventBus
	resolver   *engine.Resolver
	calculator *engine.Calculator
	conditions *engine.ConditionEvaluator
	reporter   *report.Reporter
	usage      *usage.Service
	version    string
}

// NewHandler creates a new API handler.
func NewHandler(store domain.RuleStore, cache domain.Cache, bus domain.EventBus, resolver *engine.Resolver, calculator *engine.Calculator, conditions *engine.ConditionEvaluator, reporter *report.Reporter, usageSvc *usage.Service, version string) *Handler {
	return &Handler{
		store:      store,
		cache:      cache,
		bus:        bus,
		resolver:   resolver,
		calculator: calculator,
		conditions: conditions,
		reporter:   reporter,
		usage:      usageSvc,
		version:    version,
	}
}

// CalculateRequest is the request body for POST /commissions/calculate.
type CalculateRequest struct {
	ServiceType    string           `json:"serviceType"`
	ActorRole      domain.ActorRole `json:"actorRole"`
	Amount         decimal.Decimal  `json:"amount"`
	GeographicZone string           `json:"geographicZone,omitempty"`
	ReferenceTime  *time.Time       `json:"referenceTime,omitempty"`
}

// CalculateResponse is the response for POST /commissions/calculate.
type CalculateResponse struct {
	domain.CommissionResult
	Matched  bool `json:"matched"`
	Metadata struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// Calculate handles POST /commissions/calculate requests.
func (h *Handler) Calculate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	traceID := GetTraceID(ctx)

	var req CalculateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	refTime := time.Now().UTC()
	if req.ReferenceTime != nil {
		refTime = req.ReferenceTime.UTC()
	}

	tc := &domain.TransactionContext{
		ServiceType:    req.ServiceType,
		ActorRole:      req.ActorRole,
		Amount:         req.Amount,
		GeographicZone: req.GeographicZone,
		ReferenceTime:  refTime,
	}

	rule, err := h.resolver.Resolve(ctx, tc)
	if err != nil {
		writeError(w, err)
		return
	}

	result := h.calculator.Calculate(rule, tc.Amount)

	if rule != nil && h.usage != nil {
		h.usage.RecordHit(ctx, rule.ID)
	}

	h.publishCalculated(ctx, tc, result)

	resp := CalculateResponse{
		CommissionResult: *result,
		Matched:          result.Matched(),
	}
	resp.Metadata.TraceID = traceID
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version

	writeJSON(w, http.StatusOK, resp)
}

// publishCalculated emits the audit event for one calculation.
// Delivery is fire-and-forget: a bus failure never fails the calculation.
func (h *Handler) publishCalculated(ctx context.Context, tc *domain.TransactionContext, result *domain.CommissionResult) {
	if h.bus == nil {
		return
	}

	record := domain.CommissionRecord{
		ID:               uuid.New().String(),
		RuleID:           result.MatchedRuleID,
		ServiceType:      tc.ServiceType,
		ActorRole:        tc.ActorRole,
		GeographicZone:   tc.GeographicZone,
		Amount:           tc.Amount,
		CommissionAmount: result.CommissionAmount,
		EffectiveRate:    result.EffectiveRate,
		CalculatedAt:     time.Now().UTC(),
	}

	payload, err := json.Marshal(record)
	if err != nil {
		slog.Error("failed to marshal calculation event", "error", err)
		return
	}

	if err := h.bus.Publish(ctx, domain.TopicCommissionCalculated, payload); err != nil {
		slog.Error("failed to publish calculation event",
			"rule_id", record.RuleID,
			"error", err,
		)
	}
}

// publishRuleEvent emits a rule lifecycle event, fire-and-forget.
func (h *Handler) publishRuleEvent(ctx context.Context, topic string, rule *domain.CommissionRule) {
	if h.bus == nil {
		return
	}

	payload, err := json.Marshal(rule)
	if err != nil {
		slog.Error("failed to marshal rule event", "error", err)
		return
	}

	if err := h.bus.Publish(ctx, topic, payload); err != nil {
		slog.Error("failed to publish rule event",
			"topic", topic,
			"rule_id", rule.ID,
			"error", err,
		)
	}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check store health
	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// CreateRule handles POST /rules. The store enforces the no-overlap
// invariant; a violation maps to 409.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var rule domain.CommissionRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	// Compile-check the optional condition up front so a broken expression
	// is rejected at create time, not at resolution time.
	if rule.Condition != "" && h.conditions != nil {
		if err := h.conditions.Validate(rule.Condition); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid condition expression: " + err.Error(),
			})
			return
		}
	}

	created, err := h.store.Insert(ctx, &rule)
	if err != nil {
		writeError(w, err)
		return
	}

	h.invalidateCandidates(ctx, created)
	h.publishRuleEvent(ctx, domain.TopicRuleCreated, created)

	slog.Info("rule created",
		"rule_id", created.ID,
		"service_type", created.ServiceType,
		"actor_role", created.ActorRole,
	)
	writeJSON(w, http.StatusCreated, created)
}

// ListRules handles GET /rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.store.ListRules(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": rules,
		"count": len(rules),
	})
}

// GetRule handles GET /rules/{id}.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")
	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	rule, err := h.store.GetRule(r.Context(), ruleID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, rule)
}

// UpdateRule handles PATCH /rules/{id}. Only the supplied fields change.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ruleID := chi.URLParam(r, "id")
	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	var patch domain.RulePatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if patch.Condition != nil && *patch.Condition != "" && h.conditions != nil {
		if err := h.conditions.Validate(*patch.Condition); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid condition expression: " + err.Error(),
			})
			return
		}
	}

	updated, err := h.store.Update(ctx, ruleID, &patch)
	if err != nil {
		writeError(w, err)
		return
	}

	h.invalidateCandidates(ctx, updated)
	h.publishRuleEvent(ctx, domain.TopicRuleUpdated, updated)

	slog.Info("rule updated", "rule_id", updated.ID)
	writeJSON(w, http.StatusOK, updated)
}

// DeactivateRuleRequest is the request body for POST /rules/{id}/deactivate.
type DeactivateRuleRequest struct {
	Reason string `json:"reason"`
}

// DeactivateRule handles POST /rules/{id}/deactivate. Rules are never
// deleted, only switched off with an audit reason.
func (h *Handler) DeactivateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ruleID := chi.URLParam(r, "id")
	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	var req DeactivateRuleRequest
	if r.Body != nil {
		// An empty body is fine; the reason is optional.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	deactivated, err := h.store.Deactivate(ctx, ruleID, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}

	h.invalidateCandidates(ctx, deactivated)
	h.publishRuleEvent(ctx, domain.TopicRuleDeactivated, deactivated)

	slog.Info("rule deactivated",
		"rule_id", deactivated.ID,
		"reason", req.Reason,
	)
	writeJSON(w, http.StatusOK, deactivated)
}

// RuleReport handles GET /reports/rules.
func (h *Handler) RuleReport(w http.ResponseWriter, r *http.Request) {
	summary, err := h.reporter.RuleReport(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// CommissionReport handles GET /reports/commissions?from=&to=.
// Both bounds are RFC 3339; an absent window defaults to the last 24 hours.
func (h *Handler) CommissionReport(w http.ResponseWriter, r *http.Request) {
	to := time.Now().UTC()
	from := to.Add(-24 * time.Hour)

	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid 'from' timestamp, want RFC 3339",
			})
			return
		}
		from = t.UTC()
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid 'to' timestamp, want RFC 3339",
			})
			return
		}
		to = t.UTC()
	}

	if to.Before(from) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "'to' must not be before 'from'",
		})
		return
	}

	summary, err := h.reporter.CommissionReport(r.Context(), from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// invalidateCandidates drops the cached candidate set for a rule's pair.
func (h *Handler) invalidateCandidates(ctx context.Context, rule *domain.CommissionRule) {
	if h.cache == nil {
		return
	}
	if err := h.cache.InvalidateCandidates(ctx, rule.ServiceType, rule.ActorRole); err != nil {
		slog.Warn("candidate cache invalidation failed",
			"rule_id", rule.ID,
			"error", err,
		)
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError maps domain errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
		writeJSON(w, status, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// Package worker provides async event processing for the audit trail.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-logistics/heron/internal/domain"
)

// Worker consumes commission and rule lifecycle events from the EventBus.
// Calculated commissions are persisted as audit records; rule lifecycle
// events invalidate the local candidate cache so other nodes converge
// after a rule write.
type Worker struct {
	bus   domain.EventBus
	store domain.RuleStore
	cache domain.Cache

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, store domain.RuleStore, cache domain.Cache) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		store:  store,
		cache:  cache,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the calculation and rule lifecycle topics.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicCommissionCalculated, w.handleCalculated)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	for _, topic := range []string{
		domain.TopicRuleCreated,
		domain.TopicRuleUpdated,
		domain.TopicRuleDeactivated,
	} {
		sub, err := w.bus.Subscribe(w.ctx, topic, w.handleRuleEvent)
		if err != nil {
			return err
		}
		w.subscriptions = append(w.subscriptions, sub)
	}

	slog.Info("audit worker started",
		"subscription_count", len(w.subscriptions),
	)

	return nil
}

// handleCalculated persists one commission calculation as an audit record.
func (w *Worker) handleCalculated(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var record domain.CommissionRecord
	if err := json.Unmarshal(msg.Payload, &record); err != nil {
		slog.Error("failed to parse calculation event",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.CalculatedAt.IsZero() {
		record.CalculatedAt = time.Now().UTC()
	}

	if w.store != nil {
		if err := w.store.SaveCalculation(ctx, &record); err != nil {
			slog.Error("failed to save commission record",
				"record_id", record.ID,
				"rule_id", record.RuleID,
				"error", err,
			)
			return err
		}
	}

	slog.Debug("commission recorded",
		"record_id", record.ID,
		"rule_id", record.RuleID,
		"service_type", record.ServiceType,
		"actor_role", record.ActorRole,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// handleRuleEvent drops the cached candidate set for the rule's pair.
func (w *Worker) handleRuleEvent(ctx context.Context, msg *domain.Message) error {
	var rule domain.CommissionRule
	if err := json.Unmarshal(msg.Payload, &rule); err != nil {
		slog.Error("failed to parse rule event",
			"message_id", msg.ID,
			"topic", msg.Topic,
			"error", err,
		)
		return err
	}

	if w.cache != nil {
		if err := w.cache.InvalidateCandidates(ctx, rule.ServiceType, rule.ActorRole); err != nil {
			slog.Warn("candidate cache invalidation failed",
				"rule_id", rule.ID,
				"error", err,
			)
		}
	}

	slog.Info("rule lifecycle event",
		"topic", msg.Topic,
		"rule_id", rule.ID,
		"service_type", rule.ServiceType,
		"actor_role", rule.ActorRole,
	)

	return nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("audit worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}

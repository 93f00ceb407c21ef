// Package worker provides async event processing for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// Worker consumes ingested events from the EventBus and pushes them
// through the scoring pipeline asynchronously.
type Worker struct {
	bus     domain.EventBus
	scorer  *scoring.Service
	logger  *slog.Logger
	sweep   time.Duration
	tenants []string

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = global subscription)
	TenantIDs []string

	// SweepInterval controls how often the correlation sweep runs for
	// actors flagged since the last sweep. Zero disables the sweep.
	SweepInterval time.Duration
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, scorer *scoring.Service, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		scorer: scorer,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins processing events for the given tenants.
func (w *Worker) Start(cfg Config) error {
	w.sweep = cfg.SweepInterval
	w.tenants = cfg.TenantIDs

	if len(cfg.TenantIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			w.logger.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	if w.sweep > 0 {
		w.wg.Add(1)
		go w.sweepLoop()
	}

	w.logger.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

// startGlobalWorker starts a worker that processes all tenants (for testing/dev).
func (w *Worker) startGlobalWorker() error {
	sub, err := w.bus.Subscribe(w.ctx, "_global", domain.TopicEventIngested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	w.logger.Info("global worker started")
	return nil
}

// startTenantWorker starts workers for a specific tenant.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicEventIngested, func(ctx context.Context, msg *domain.Message) error {
		return w.processEvent(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	w.logger.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicEventIngested,
	)

	return nil
}

// handleMessage handles messages from the global subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.processEvent(ctx, msg.TenantID, msg)
}

// IngestMessage is the payload for an ingested event. Text channels carry
// Text; the transaction channel carries the Transaction record instead.
type IngestMessage struct {
	EventID   string         `json:"eventId"`
	TenantID  string         `json:"tenantId"`
	Channel   domain.Channel `json:"channel"`
	ActorID   string         `json:"actorId"`
	Timestamp time.Time      `json:"timestamp"`

	Text        string                    `json:"text,omitempty"`
	Transaction *domain.TransactionRecord `json:"transaction,omitempty"`
}

// processEvent routes an ingested event to the scoring pipeline.
func (w *Worker) processEvent(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var ev IngestMessage
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		w.logger.Error("failed to parse ingest message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// Use message tenant if provided
	if ev.TenantID != "" {
		tenantID = ev.TenantID
	}

	w.logger.Debug("processing event",
		"event_id", ev.EventID,
		"tenant_id", tenantID,
		"channel", ev.Channel,
	)

	var (
		result *domain.RiskResult
		err    error
	)
	switch {
	case ev.Channel == domain.ChannelTransaction:
		if ev.Transaction == nil {
			err = fmt.Errorf("%w: transaction event carries no record", domain.ErrInvalidInput)
			break
		}
		rec := *ev.Transaction
		rec.TenantID = tenantID
		if rec.ActorID == "" {
			rec.ActorID = ev.ActorID
		}
		result, err = w.scorer.AnalyzeTransaction(ctx, &rec)

	case ev.Channel.IsText():
		result, err = w.scorer.AnalyzeText(ctx, &scoring.TextRequest{
			TenantID:  tenantID,
			Channel:   ev.Channel,
			ActorID:   ev.ActorID,
			Text:      ev.Text,
			Timestamp: ev.Timestamp,
		})

	default:
		err = fmt.Errorf("%w: unknown channel %q", domain.ErrInvalidInput, ev.Channel)
	}

	if err != nil {
		w.logger.Error("event scoring failed",
			"event_id", ev.EventID,
			"tenant_id", tenantID,
			"channel", ev.Channel,
			"error", err,
		)
		return err
	}

	w.logger.Info("event processed",
		"event_id", ev.EventID,
		"tenant_id", tenantID,
		"channel", ev.Channel,
		"risk_score", result.RiskScore,
		"flagged", result.IsFlagged,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// sweepLoop periodically correlates flagged actors across channels.
func (w *Worker) sweepLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.runSweep()
		}
	}
}

// runSweep correlates recent results for every actor flagged since the
// last sweep interval.
func (w *Worker) runSweep() {
	ctx, cancel := context.WithTimeout(w.ctx, 30*time.Second)
	defer cancel()

	for _, tenantID := range w.tenants {
		actors, err := w.scorer.FlaggedActors(ctx, tenantID, time.Now().UTC().Add(-w.sweep))
		if err != nil {
			w.logger.Error("correlation sweep query failed",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}

		for _, actorID := range actors {
			if _, err := w.scorer.CorrelateActor(ctx, tenantID, actorID, domain.Window{}); err != nil {
				w.logger.Error("correlation sweep failed for actor",
					"tenant_id", tenantID,
					"actor_id", actorID,
					"error", err,
				)
			}
		}

		if len(actors) > 0 {
			w.logger.Info("correlation sweep completed",
				"tenant_id", tenantID,
				"actor_count", len(actors),
			)
		}
	}
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			w.logger.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	w.logger.Info("workers stopped")
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

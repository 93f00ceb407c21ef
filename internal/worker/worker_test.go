package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/correlate"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/lexicon"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/policy"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/textfeat"
)

func newTestScorer(t *testing.T, eventBus domain.EventBus) *scoring.Service {
	t.Helper()

	extractor, err := textfeat.New(lexicon.Default())
	if err != nil {
		t.Fatalf("textfeat.New: %v", err)
	}
	registry := model.NewRegistry(slog.Default())
	if err := registry.LoadDefaults(); err != nil {
		t.Fatalf("LoadDefaults: %v", err)
	}
	policies, err := policy.NewEngine()
	if err != nil {
		t.Fatalf("policy.NewEngine: %v", err)
	}

	return scoring.NewService(scoring.Options{
		Extractor:  extractor,
		Registry:   registry,
		Policies:   policies,
		Correlator: correlate.New(nil, nil),
		Bus:        eventBus,
		Config:     domain.ScoringConfig{CorrelationAlertThreshold: 0.7},
		Logger:     slog.Default(),
	})
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	scorer := newTestScorer(t, eventBus)

	t.Run("StartAndStop", func(t *testing.T) {
		w := NewWorker(eventBus, scorer, slog.Default())

		cfg := Config{
			TenantIDs: []string{"tenant-001"},
		}

		if err := w.Start(cfg); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := w.GetStats()
		if stats.SubscriptionCount != 1 {
			t.Errorf("expected 1 subscription, got %d", stats.SubscriptionCount)
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}

		stats = w.GetStats()
		if stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("ProcessTextEvent", func(t *testing.T) {
		w := NewWorker(eventBus, scorer, slog.Default())

		cfg := Config{
			TenantIDs: []string{"tenant-text"},
		}
		w.Start(cfg)
		defer w.Stop()

		var resultReceived atomic.Bool
		var resultPayload []byte

		eventBus.Subscribe(context.Background(), "tenant-text", domain.TopicRiskResult, func(ctx context.Context, msg *domain.Message) error {
			resultPayload = msg.Payload
			resultReceived.Store(true)
			return nil
		})

		// Allow subscriptions to be active
		time.Sleep(50 * time.Millisecond)

		ev := IngestMessage{
			EventID:   "ev-001",
			TenantID:  "tenant-text",
			Channel:   domain.ChannelEmail,
			ActorID:   "actor-001",
			Text:      "Hello, your order shipped and should arrive on Thursday.",
			Timestamp: time.Now().UTC(),
		}

		payload, _ := json.Marshal(ev)
		if err := eventBus.Publish(context.Background(), "tenant-text", domain.TopicEventIngested, payload); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		time.Sleep(100 * time.Millisecond)

		if !resultReceived.Load() {
			t.Fatal("expected risk result to be published")
		}

		var result domain.RiskResult
		if err := json.Unmarshal(resultPayload, &result); err != nil {
			t.Fatalf("failed to parse risk result: %v", err)
		}
		if result.TenantID != "tenant-text" {
			t.Errorf("expected tenantID 'tenant-text', got '%s'", result.TenantID)
		}
		if result.Channel != domain.ChannelEmail {
			t.Errorf("expected email channel, got '%s'", result.Channel)
		}
		if result.ActorID != "actor-001" {
			t.Errorf("expected actorID 'actor-001', got '%s'", result.ActorID)
		}
	})

	t.Run("AlertPublished", func(t *testing.T) {
		w := NewWorker(eventBus, scorer, slog.Default())

		cfg := Config{
			TenantIDs: []string{"tenant-alert"},
		}
		w.Start(cfg)
		defer w.Stop()

		var alertReceived atomic.Bool

		eventBus.Subscribe(context.Background(), "tenant-alert", domain.TopicRiskAlert, func(ctx context.Context, msg *domain.Message) error {
			alertReceived.Store(true)
			return nil
		})

		time.Sleep(50 * time.Millisecond)

		ev := IngestMessage{
			EventID:  "ev-alert",
			TenantID: "tenant-alert",
			Channel:  domain.ChannelEmail,
			ActorID:  "actor-002",
			Text: "URGENT: your account is suspended. Verify your password and " +
				"social security number immediately at http://fix-account.example.com " +
				"or face permanent closure and a $500 penalty.",
			Timestamp: time.Now().UTC(),
		}

		payload, _ := json.Marshal(ev)
		eventBus.Publish(context.Background(), "tenant-alert", domain.TopicEventIngested, payload)

		time.Sleep(100 * time.Millisecond)

		if !alertReceived.Load() {
			t.Error("expected alert to be published for high-risk text")
		}
	})

	t.Run("ProcessTransactionEvent", func(t *testing.T) {
		w := NewWorker(eventBus, scorer, slog.Default())

		cfg := Config{
			TenantIDs: []string{"tenant-tx"},
		}
		w.Start(cfg)
		defer w.Stop()

		var resultReceived atomic.Bool
		var resultPayload []byte

		eventBus.Subscribe(context.Background(), "tenant-tx", domain.TopicRiskResult, func(ctx context.Context, msg *domain.Message) error {
			resultPayload = msg.Payload
			resultReceived.Store(true)
			return nil
		})

		time.Sleep(50 * time.Millisecond)

		ev := IngestMessage{
			EventID:  "ev-tx",
			TenantID: "tenant-tx",
			Channel:  domain.ChannelTransaction,
			ActorID:  "actor-003",
			Transaction: &domain.TransactionRecord{
				ID:               "tx-001",
				Amount:           120.0,
				Frequency:        1,
				LocationVariance: 0.1,
				Timestamp:        time.Now().UTC(),
			},
		}

		payload, _ := json.Marshal(ev)
		eventBus.Publish(context.Background(), "tenant-tx", domain.TopicEventIngested, payload)

		time.Sleep(100 * time.Millisecond)

		if !resultReceived.Load() {
			t.Fatal("expected risk result for transaction event")
		}

		var result domain.RiskResult
		if err := json.Unmarshal(resultPayload, &result); err != nil {
			t.Fatalf("failed to parse risk result: %v", err)
		}
		if result.Channel != domain.ChannelTransaction {
			t.Errorf("expected transaction channel, got '%s'", result.Channel)
		}
		if result.ActorID != "actor-003" {
			t.Errorf("expected actorID 'actor-003', got '%s'", result.ActorID)
		}
	})

	t.Run("MultiTenant", func(t *testing.T) {
		w := NewWorker(eventBus, scorer, slog.Default())

		cfg := Config{
			TenantIDs: []string{"tenant-a", "tenant-b"},
		}
		w.Start(cfg)
		defer w.Stop()

		stats := w.GetStats()
		if stats.SubscriptionCount != 2 {
			t.Errorf("expected 2 subscriptions for 2 tenants, got %d", stats.SubscriptionCount)
		}
	})
}

func TestIngestMessageParsing(t *testing.T) {
	msg := IngestMessage{
		EventID:   "ev-123",
		TenantID:  "tenant-001",
		Channel:   domain.ChannelMessage,
		ActorID:   "actor-456",
		Text:      "limited time offer, act now",
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var parsed IngestMessage
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if parsed.EventID != msg.EventID {
		t.Errorf("expected EventID '%s', got '%s'", msg.EventID, parsed.EventID)
	}
	if parsed.Channel != msg.Channel {
		t.Errorf("expected Channel '%s', got '%s'", msg.Channel, parsed.Channel)
	}
	if parsed.Transaction != nil {
		t.Errorf("expected no transaction record, got %+v", parsed.Transaction)
	}
}

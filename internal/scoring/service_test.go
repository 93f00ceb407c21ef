package scoring

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/correlate"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/lexicon"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/policy"
	"github.com/opensource-finance/kestrel/internal/textfeat"
)

type fakeRepo struct {
	domain.Repository
	mu           sync.Mutex
	transactions []*domain.TransactionRecord
	results      map[string]*domain.RiskResult
	byActor      []*domain.RiskResult
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{results: make(map[string]*domain.RiskResult)}
}

func (r *fakeRepo) SaveTransaction(ctx context.Context, tenantID string, rec *domain.TransactionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transactions = append(r.transactions, rec)
	return nil
}

func (r *fakeRepo) SaveRiskResult(ctx context.Context, tenantID string, result *domain.RiskResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[result.ID] = result
	return nil
}

func (r *fakeRepo) GetRiskResult(ctx context.Context, tenantID, resultID string) (*domain.RiskResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result, ok := r.results[resultID]
	if !ok {
		return nil, errors.New("not found")
	}
	return result, nil
}

func (r *fakeRepo) ListRiskResultsByActor(ctx context.Context, tenantID, actorID string, since time.Time) ([]*domain.RiskResult, error) {
	return r.byActor, nil
}

type fakeBus struct {
	domain.EventBus
	mu     sync.Mutex
	topics []string
}

func (b *fakeBus) Publish(ctx context.Context, tenantID, topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topics = append(b.topics, topic)
	return nil
}

func (b *fakeBus) published(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, t := range b.topics {
		if t == topic {
			n++
		}
	}
	return n
}

func newTestService(t *testing.T, repo *fakeRepo, bus *fakeBus) *Service {
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

	return NewService(Options{
		Extractor:  extractor,
		Registry:   registry,
		Policies:   policies,
		Correlator: correlate.New(nil, nil),
		Repository: repo,
		Cache:      nil,
		Bus:        bus,
		Config:     domain.ScoringConfig{CorrelationAlertThreshold: 0.7},
		Logger:     slog.Default(),
	})
}

func TestAnalyzeTextFlagsPhishing(t *testing.T) {
	repo := newFakeRepo()
	bus := &fakeBus{}
	svc := newTestService(t, repo, bus)

	result, err := svc.AnalyzeText(context.Background(), &TextRequest{
		TenantID: "tenant-a",
		Channel:  domain.ChannelEmail,
		ActorID:  "actor-1",
		Text:     "URGENT: Your account is suspended. Click here to verify!",
	})
	if err != nil {
		t.Fatalf("AnalyzeText: %v", err)
	}

	if !result.IsFlagged {
		t.Errorf("flagged = false, want true (score %v)", result.RiskScore)
	}
	if result.RiskScore < 0 || result.RiskScore > 1 {
		t.Errorf("score = %v, want within [0, 1]", result.RiskScore)
	}
	if len(result.Attributions) == 0 {
		t.Error("want attributions on a flagged result")
	}
	if result.ThreatLevel == domain.ThreatSafe {
		t.Errorf("threat level = SAFE for score %v", result.RiskScore)
	}

	if len(repo.results) != 1 {
		t.Errorf("persisted results = %d, want 1", len(repo.results))
	}
	if bus.published(domain.TopicRiskResult) != 1 {
		t.Errorf("risk result events = %d, want 1", bus.published(domain.TopicRiskResult))
	}
	if bus.published(domain.TopicRiskAlert) != 1 {
		t.Errorf("alert events = %d, want 1", bus.published(domain.TopicRiskAlert))
	}
}

func TestAnalyzeTextBenign(t *testing.T) {
	bus := &fakeBus{}
	svc := newTestService(t, newFakeRepo(), bus)

	result, err := svc.AnalyzeText(context.Background(), &TextRequest{
		TenantID: "tenant-a",
		Channel:  domain.ChannelEmail,
		ActorID:  "actor-1",
		Text:     "Thanks for lunch, see you tomorrow!",
	})
	if err != nil {
		t.Fatalf("AnalyzeText: %v", err)
	}
	if result.IsFlagged {
		t.Errorf("flagged = true for benign text (score %v)", result.RiskScore)
	}
	if bus.published(domain.TopicRiskAlert) != 0 {
		t.Errorf("alert events = %d, want 0", bus.published(domain.TopicRiskAlert))
	}
}

func TestAnalyzeTextValidation(t *testing.T) {
	svc := newTestService(t, newFakeRepo(), &fakeBus{})

	cases := []struct {
		name string
		req  TextRequest
	}{
		{"missing tenant", TextRequest{Channel: domain.ChannelEmail, Text: "hi"}},
		{"non-text channel", TextRequest{TenantID: "tenant-a", Channel: domain.ChannelTransaction, Text: "hi"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.AnalyzeText(context.Background(), &tc.req); !errors.Is(err, domain.ErrInvalidInput) {
				t.Errorf("error = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestAnalyzeTextModelNotReady(t *testing.T) {
	extractor, _ := textfeat.New(lexicon.Default())
	svc := NewService(Options{
		Extractor:  extractor,
		Registry:   model.NewRegistry(slog.Default()), // empty
		Correlator: correlate.New(nil, nil),
	})

	_, err := svc.AnalyzeText(context.Background(), &TextRequest{
		TenantID: "tenant-a",
		Channel:  domain.ChannelEmail,
		Text:     "hello",
	})
	if !errors.Is(err, domain.ErrModelNotReady) {
		t.Errorf("error = %v, want ErrModelNotReady", err)
	}
}

func TestAnalyzeTransaction(t *testing.T) {
	repo := newFakeRepo()
	bus := &fakeBus{}
	svc := newTestService(t, repo, bus)

	t.Run("routine transaction passes", func(t *testing.T) {
		result, err := svc.AnalyzeTransaction(context.Background(), &domain.TransactionRecord{
			ID:        "txn-low",
			TenantID:  "tenant-a",
			ActorID:   "actor-1",
			Amount:    50,
			Frequency: 1,
			Timestamp: time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("AnalyzeTransaction: %v", err)
		}
		if result.IsFlagged {
			t.Errorf("flagged = true for routine transaction (score %v)", result.RiskScore)
		}
		if result.RiskScore >= 0.3 {
			t.Errorf("score = %v, want < 0.3", result.RiskScore)
		}
	})

	t.Run("burst of large distant transactions flags", func(t *testing.T) {
		result, err := svc.AnalyzeTransaction(context.Background(), &domain.TransactionRecord{
			ID:               "txn-high",
			TenantID:         "tenant-a",
			ActorID:          "actor-2",
			Amount:           50000,
			Frequency:        40,
			LocationVariance: 9.0,
			Timestamp:        time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("AnalyzeTransaction: %v", err)
		}
		if !result.IsFlagged {
			t.Errorf("flagged = false (score %v)", result.RiskScore)
		}
	})

	t.Run("negative amount rejected", func(t *testing.T) {
		_, err := svc.AnalyzeTransaction(context.Background(), &domain.TransactionRecord{
			ID:        "txn-bad",
			TenantID:  "tenant-a",
			ActorID:   "actor-3",
			Amount:    -10,
			Timestamp: time.Now().UTC(),
		})
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("error = %v, want ErrInvalidInput", err)
		}
	})

	if len(repo.transactions) != 2 {
		t.Errorf("persisted transactions = %d, want 2", len(repo.transactions))
	}
}

func TestPolicyEscalationForcesFlag(t *testing.T) {
	svc := newTestService(t, newFakeRepo(), &fakeBus{})

	if err := svc.policies.LoadRule(&domain.PolicyRule{
		ID:         "always-escalate",
		TenantID:   "tenant-a",
		Name:       "Escalate everything",
		Expression: "risk_score >= 0.0",
		Reason:     "tenant under heightened monitoring",
		Enabled:    true,
	}); err != nil {
		t.Fatalf("LoadRule: %v", err)
	}

	result, err := svc.AnalyzeText(context.Background(), &TextRequest{
		TenantID: "tenant-a",
		Channel:  domain.ChannelEmail,
		Text:     "Thanks for lunch, see you tomorrow!",
	})
	if err != nil {
		t.Fatalf("AnalyzeText: %v", err)
	}
	if !result.IsFlagged {
		t.Error("flagged = false, want policy escalation to force flag")
	}
	if len(result.Reasons) != 1 || result.Reasons[0] != "tenant under heightened monitoring" {
		t.Errorf("reasons = %v, want the escalation reason", result.Reasons)
	}
}

func TestCorrelateActor(t *testing.T) {
	repo := newFakeRepo()
	bus := &fakeBus{}
	svc := newTestService(t, repo, bus)

	now := time.Now().UTC()
	repo.byActor = []*domain.RiskResult{
		{ID: "r1", TenantID: "tenant-a", Channel: domain.ChannelTransaction, ActorID: "actor-1", RiskScore: 0.9, IsFlagged: true, Timestamp: now},
		{ID: "r2", TenantID: "tenant-a", Channel: domain.ChannelEmail, ActorID: "actor-1", RiskScore: 0.85, IsFlagged: true, Timestamp: now},
	}

	out, err := svc.CorrelateActor(context.Background(), "tenant-a", "actor-1", domain.Window{})
	if err != nil {
		t.Fatalf("CorrelateActor: %v", err)
	}
	if out.CombinedRiskScore <= 0.9 {
		t.Errorf("combined score = %v, want > 0.9", out.CombinedRiskScore)
	}
	if bus.published(domain.TopicCorrelationResult) != 1 {
		t.Errorf("correlation events = %d, want 1", bus.published(domain.TopicCorrelationResult))
	}
	// Above the 0.7 alert threshold.
	if bus.published(domain.TopicRiskAlert) != 1 {
		t.Errorf("alert events = %d, want 1", bus.published(domain.TopicRiskAlert))
	}
}

func TestCorrelateResultsTenantIsolation(t *testing.T) {
	svc := newTestService(t, newFakeRepo(), &fakeBus{})

	_, err := svc.CorrelateResults(context.Background(), "tenant-a", []*domain.RiskResult{
		{ID: "r1", TenantID: "tenant-b", Channel: domain.ChannelEmail, RiskScore: 0.9, Timestamp: time.Now()},
	}, domain.Window{})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("error = %v, want ErrInvalidInput for cross-tenant results", err)
	}
}

func TestGetResult(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(t, repo, &fakeBus{})

	result, err := svc.AnalyzeText(context.Background(), &TextRequest{
		TenantID: "tenant-a",
		Channel:  domain.ChannelEmail,
		Text:     "URGENT: verify your password now!",
	})
	if err != nil {
		t.Fatalf("AnalyzeText: %v", err)
	}

	got, err := svc.GetResult(context.Background(), "tenant-a", result.ID)
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if got.ID != result.ID || got.RiskScore != result.RiskScore {
		t.Errorf("GetResult = %+v, want stored result %+v", got, result)
	}
}

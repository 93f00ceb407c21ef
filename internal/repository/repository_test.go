package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestTransactionRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i, rec := range []*domain.TransactionRecord{
		{ID: "txn-1", ActorID: "actor-1", Amount: 100, Frequency: 1, Timestamp: now.Add(-time.Minute)},
		{ID: "txn-2", ActorID: "actor-1", Amount: 250, Frequency: 2, Timestamp: now},
		{ID: "txn-3", ActorID: "actor-2", Amount: 999, Frequency: 1, Timestamp: now},
	} {
		rec.TenantID = "tenant-a"
		if err := repo.SaveTransaction(ctx, "tenant-a", rec); err != nil {
			t.Fatalf("SaveTransaction %d: %v", i, err)
		}
	}

	count, err := repo.CountTransactionsByActor(ctx, "tenant-a", "actor-1", now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("CountTransactionsByActor: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}

	// Window excludes the older transaction.
	count, err = repo.CountTransactionsByActor(ctx, "tenant-a", "actor-1", now.Add(-30*time.Second))
	if err != nil {
		t.Fatalf("CountTransactionsByActor: %v", err)
	}
	if count != 1 {
		t.Errorf("windowed count = %d, want 1", count)
	}

	// Other tenants see nothing.
	count, err = repo.CountTransactionsByActor(ctx, "tenant-b", "actor-1", now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("CountTransactionsByActor: %v", err)
	}
	if count != 0 {
		t.Errorf("cross-tenant count = %d, want 0", count)
	}
}

func TestRiskResultRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	result := &domain.RiskResult{
		ID:          "result-1",
		TenantID:    "tenant-a",
		Channel:     domain.ChannelEmail,
		ActorID:     "actor-1",
		RiskScore:   0.82,
		IsFlagged:   true,
		ThreatLevel: domain.ThreatCritical,
		Attributions: []domain.Attribution{
			{Feature: "pii_request_count", Contribution: 0.35},
			{Feature: "urgency_count", Contribution: 0.25},
		},
		Reasons:   []string{"credential harvesting attempt"},
		Timestamp: now,
	}

	if err := repo.SaveRiskResult(ctx, "tenant-a", result); err != nil {
		t.Fatalf("SaveRiskResult: %v", err)
	}

	got, err := repo.GetRiskResult(ctx, "tenant-a", "result-1")
	if err != nil {
		t.Fatalf("GetRiskResult: %v", err)
	}

	if got.Channel != domain.ChannelEmail || got.RiskScore != 0.82 || !got.IsFlagged {
		t.Errorf("got %+v, want stored result", got)
	}
	if len(got.Attributions) != 2 || got.Attributions[0].Feature != "pii_request_count" {
		t.Errorf("attributions = %+v, want order preserved", got.Attributions)
	}
	if len(got.Reasons) != 1 {
		t.Errorf("reasons = %v, want 1", got.Reasons)
	}

	// Tenant isolation and missing IDs.
	if _, err := repo.GetRiskResult(ctx, "tenant-b", "result-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("cross-tenant get error = %v, want ErrNotFound", err)
	}
	if _, err := repo.GetRiskResult(ctx, "tenant-a", "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing get error = %v, want ErrNotFound", err)
	}
}

func TestListRiskResultsByActor(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	for i, result := range []*domain.RiskResult{
		{ID: "r1", Channel: domain.ChannelEmail, ActorID: "actor-1", RiskScore: 0.5, ThreatLevel: domain.ThreatMedium, Timestamp: now.Add(-2 * time.Hour)},
		{ID: "r2", Channel: domain.ChannelTransaction, ActorID: "actor-1", RiskScore: 0.9, ThreatLevel: domain.ThreatCritical, Timestamp: now},
		{ID: "r3", Channel: domain.ChannelSocial, ActorID: "actor-2", RiskScore: 0.7, ThreatLevel: domain.ThreatHigh, Timestamp: now},
	} {
		result.TenantID = "tenant-a"
		if err := repo.SaveRiskResult(ctx, "tenant-a", result); err != nil {
			t.Fatalf("SaveRiskResult %d: %v", i, err)
		}
	}

	results, err := repo.ListRiskResultsByActor(ctx, "tenant-a", "actor-1", now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("ListRiskResultsByActor: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	// Newest first.
	if results[0].ID != "r2" || results[1].ID != "r1" {
		t.Errorf("order = [%s, %s], want [r2, r1]", results[0].ID, results[1].ID)
	}

	// Window trims the older result.
	results, err = repo.ListRiskResultsByActor(ctx, "tenant-a", "actor-1", now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("ListRiskResultsByActor: %v", err)
	}
	if len(results) != 1 || results[0].ID != "r2" {
		t.Errorf("windowed results = %+v, want [r2]", results)
	}
}

func TestListFlaggedActors(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	for i, result := range []*domain.RiskResult{
		{ID: "f1", Channel: domain.ChannelEmail, ActorID: "actor-b", RiskScore: 0.8, IsFlagged: true, ThreatLevel: domain.ThreatHigh, Timestamp: now},
		{ID: "f2", Channel: domain.ChannelTransaction, ActorID: "actor-a", RiskScore: 0.9, IsFlagged: true, ThreatLevel: domain.ThreatCritical, Timestamp: now},
		{ID: "f3", Channel: domain.ChannelSocial, ActorID: "actor-c", RiskScore: 0.3, IsFlagged: false, ThreatLevel: domain.ThreatLow, Timestamp: now},
		{ID: "f4", Channel: domain.ChannelWeb, ActorID: "actor-a", RiskScore: 0.85, IsFlagged: true, ThreatLevel: domain.ThreatCritical, Timestamp: now},
		{ID: "f5", Channel: domain.ChannelEmail, ActorID: "actor-d", RiskScore: 0.9, IsFlagged: true, ThreatLevel: domain.ThreatCritical, Timestamp: now.Add(-48 * time.Hour)},
	} {
		result.TenantID = "tenant-a"
		if err := repo.SaveRiskResult(ctx, "tenant-a", result); err != nil {
			t.Fatalf("SaveRiskResult %d: %v", i, err)
		}
	}

	actors, err := repo.ListFlaggedActors(ctx, "tenant-a", now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("ListFlaggedActors: %v", err)
	}
	// Distinct, alphabetical; unflagged and stale actors excluded.
	if len(actors) != 2 || actors[0] != "actor-a" || actors[1] != "actor-b" {
		t.Errorf("actors = %v, want [actor-a actor-b]", actors)
	}

	actors, err = repo.ListFlaggedActors(ctx, "tenant-b", now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("ListFlaggedActors: %v", err)
	}
	if len(actors) != 0 {
		t.Errorf("cross-tenant actors = %v, want none", actors)
	}
}

func TestModelParamsUpsert(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	params := &domain.ModelParams{
		Channel:   domain.ChannelEmail,
		Version:   "builtin-1",
		Params:    []byte(`{"weights":{"urgency_count":0.25}}`),
		UpdatedAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := repo.SaveModelParams(ctx, domain.GlobalTenant, params); err != nil {
		t.Fatalf("SaveModelParams: %v", err)
	}

	// Upsert replaces the stored version.
	params.Version = "tuned-2"
	params.Params = []byte(`{"weights":{"urgency_count":0.30}}`)
	if err := repo.SaveModelParams(ctx, domain.GlobalTenant, params); err != nil {
		t.Fatalf("SaveModelParams upsert: %v", err)
	}

	got, err := repo.GetModelParams(ctx, domain.GlobalTenant, domain.ChannelEmail)
	if err != nil {
		t.Fatalf("GetModelParams: %v", err)
	}
	if got.Version != "tuned-2" {
		t.Errorf("version = %q, want tuned-2", got.Version)
	}

	all, err := repo.ListModelParams(ctx, domain.GlobalTenant)
	if err != nil {
		t.Fatalf("ListModelParams: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("stored params = %d, want 1 after upsert", len(all))
	}

	if _, err := repo.GetModelParams(ctx, domain.GlobalTenant, domain.ChannelVoice); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing params error = %v, want ErrNotFound", err)
	}
}

func TestPolicyRules(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	rules := []*domain.PolicyRule{
		{ID: "p1", Name: "Alpha", Expression: "risk_score > 0.8", Reason: "high score", Enabled: true},
		{ID: "p2", Name: "Beta", Expression: "flagged", Reason: "flagged", Enabled: false},
	}
	for _, rule := range rules {
		rule.TenantID = "tenant-a"
		if err := repo.SavePolicyRule(ctx, "tenant-a", rule); err != nil {
			t.Fatalf("SavePolicyRule %s: %v", rule.ID, err)
		}
	}

	// Only enabled rules come back.
	got, err := repo.ListPolicyRules(ctx, "tenant-a")
	if err != nil {
		t.Fatalf("ListPolicyRules: %v", err)
	}
	if len(got) != 1 || got[0].ID != "p1" {
		t.Errorf("rules = %+v, want [p1]", got)
	}

	// Upsert re-enables p2.
	rules[1].Enabled = true
	if err := repo.SavePolicyRule(ctx, "tenant-a", rules[1]); err != nil {
		t.Fatalf("SavePolicyRule upsert: %v", err)
	}
	got, err = repo.ListPolicyRules(ctx, "tenant-a")
	if err != nil {
		t.Fatalf("ListPolicyRules: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("rules after upsert = %d, want 2", len(got))
	}
}

func TestTenantIDRequired(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.SaveRiskResult(ctx, "", &domain.RiskResult{ID: "x"}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("SaveRiskResult error = %v, want ErrInvalidInput", err)
	}
	if _, err := repo.ListPolicyRules(ctx, ""); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("ListPolicyRules error = %v, want ErrInvalidInput", err)
	}
}

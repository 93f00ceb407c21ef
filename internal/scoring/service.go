// Package scoring orchestrates the analysis pipeline: feature
// extraction, model inference, policy escalation, persistence, and
// event publication.
package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/correlate"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/policy"
	"github.com/opensource-finance/kestrel/internal/textfeat"
	"github.com/opensource-finance/kestrel/internal/txfeat"
	"github.com/opensource-finance/kestrel/internal/velocity"
)

// resultCacheTTL bounds how long a scored result stays in cache.
const resultCacheTTL = 15 * time.Minute

// Service wires the scoring pipeline together. Persistence, caching and
// event publication are best-effort: a storage hiccup degrades to a log
// line, it never fails a well-formed analysis.
type Service struct {
	extractor  *textfeat.Extractor
	registry   *model.Registry
	policies   *policy.Engine
	correlator *correlate.Engine
	velocity   *velocity.Service

	repo  domain.Repository
	cache domain.Cache
	bus   domain.EventBus

	cfg    domain.ScoringConfig
	logger *slog.Logger
	tracer trace.Tracer
}

// Options carries the service dependencies.
type Options struct {
	Extractor  *textfeat.Extractor
	Registry   *model.Registry
	Policies   *policy.Engine
	Correlator *correlate.Engine
	Velocity   *velocity.Service
	Repository domain.Repository
	Cache      domain.Cache
	Bus        domain.EventBus
	Config     domain.ScoringConfig
	Logger     *slog.Logger
}

// NewService creates the scoring service.
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		extractor:  opts.Extractor,
		registry:   opts.Registry,
		policies:   opts.Policies,
		correlator: opts.Correlator,
		velocity:   opts.Velocity,
		repo:       opts.Repository,
		cache:      opts.Cache,
		bus:        opts.Bus,
		cfg:        opts.Config,
		logger:     logger,
		tracer:     otel.Tracer("kestrel/scoring"),
	}
}

// TextRequest is one text analysis call.
type TextRequest struct {
	TenantID  string         `json:"tenantId"`
	Channel   domain.Channel `json:"channel"`
	ActorID   string         `json:"actorId"`
	Text      string         `json:"text"`
	Timestamp time.Time      `json:"timestamp"`
}

// AnalyzeText scores free text on a text channel.
func (s *Service) AnalyzeText(ctx context.Context, req *TextRequest) (*domain.RiskResult, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "scoring.AnalyzeText",
		trace.WithAttributes(attribute.String("channel", string(req.Channel))))
	defer span.End()

	if req.TenantID == "" {
		return s.fail(req.Channel, fmt.Errorf("%w: tenantId is required", domain.ErrInvalidInput))
	}
	if !req.Channel.IsText() {
		return s.fail(req.Channel, fmt.Errorf("%w: channel %q does not carry text", domain.ErrInvalidInput, req.Channel))
	}

	bundle := s.extractor.Extract(req.Text)
	features := bundle.ToMap()

	result, err := s.score(ctx, req.Channel, req.TenantID, req.ActorID, features, req.Timestamp)
	if err != nil {
		return s.fail(req.Channel, err)
	}

	s.finish(ctx, result, start)
	return result, nil
}

// AnalyzeTransaction scores a transaction record. A zero frequency is
// derived from the actor's recent transaction velocity before scoring.
func (s *Service) AnalyzeTransaction(ctx context.Context, rec *domain.TransactionRecord) (*domain.RiskResult, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "scoring.AnalyzeTransaction",
		trace.WithAttributes(attribute.String("actor", rec.ActorID)))
	defer span.End()

	if rec.TenantID == "" {
		return s.fail(domain.ChannelTransaction, fmt.Errorf("%w: tenantId is required", domain.ErrInvalidInput))
	}

	if rec.Frequency == 0 && s.velocity != nil && rec.ActorID != "" {
		if count, err := s.velocity.Record(ctx, rec.TenantID, rec.ActorID); err == nil {
			rec.Frequency = float64(count)
		} else {
			s.logger.Warn("velocity lookup failed",
				"tenant_id", rec.TenantID,
				"actor_id", rec.ActorID,
				"error", err)
		}
	}

	vector, err := txfeat.Extract(rec)
	if err != nil {
		return s.fail(domain.ChannelTransaction, err)
	}

	if s.repo != nil {
		if err := s.repo.SaveTransaction(ctx, rec.TenantID, rec); err != nil {
			s.logger.Warn("failed to persist transaction",
				"tenant_id", rec.TenantID,
				"tx_id", rec.ID,
				"error", err)
		}
	}

	result, err := s.score(ctx, domain.ChannelTransaction, rec.TenantID, rec.ActorID, txfeat.ToMap(vector), rec.Timestamp)
	if err != nil {
		return s.fail(domain.ChannelTransaction, err)
	}

	s.finish(ctx, result, start)
	return result, nil
}

// score runs model inference, thresholding and policy escalation.
func (s *Service) score(ctx context.Context, channel domain.Channel, tenantID, actorID string, features map[string]float64, at time.Time) (*domain.RiskResult, error) {
	m, err := s.registry.Get(channel)
	if err != nil {
		return nil, err
	}

	riskScore, attributions, err := m.Predict(features)
	if err != nil {
		return nil, err
	}

	if at.IsZero() {
		at = time.Now().UTC()
	}

	result := &domain.RiskResult{
		ID:           uuid.New().String(),
		TenantID:     tenantID,
		Channel:      channel,
		ActorID:      actorID,
		RiskScore:    riskScore,
		IsFlagged:    riskScore >= domain.ThresholdFor(channel, s.cfg.Thresholds),
		Attributions: attributions,
		Timestamp:    at,
	}

	if s.policies != nil {
		matches := s.policies.Evaluate(&policy.Input{
			TenantID:  tenantID,
			Channel:   channel,
			ActorID:   actorID,
			RiskScore: riskScore,
			Flagged:   result.IsFlagged,
			Features:  features,
		})
		for _, match := range matches {
			result.IsFlagged = true
			if match.Reason != "" {
				result.Reasons = append(result.Reasons, match.Reason)
			}
			metrics.PolicyMatchesTotal.WithLabelValues(match.Name).Inc()
		}
	}

	result.ThreatLevel = domain.ThreatLevelFor(result.RiskScore)
	return result, nil
}

// finish persists, caches, publishes and records metrics for a result.
func (s *Service) finish(ctx context.Context, result *domain.RiskResult, start time.Time) {
	if s.repo != nil {
		if err := s.repo.SaveRiskResult(ctx, result.TenantID, result); err != nil {
			s.logger.Warn("failed to persist risk result",
				"tenant_id", result.TenantID,
				"result_id", result.ID,
				"error", err)
		}
	}
	if s.cache != nil {
		if err := s.cache.SetRiskResult(ctx, result.TenantID, result, resultCacheTTL); err != nil {
			s.logger.Warn("failed to cache risk result",
				"tenant_id", result.TenantID,
				"result_id", result.ID,
				"error", err)
		}
	}

	s.publish(ctx, result.TenantID, domain.TopicRiskResult, result)
	if result.IsFlagged {
		s.publish(ctx, result.TenantID, domain.TopicRiskAlert, result)
		metrics.AlertsTotal.WithLabelValues(string(result.Channel)).Inc()
	}

	metrics.AnalysesTotal.WithLabelValues(string(result.Channel), metrics.OutcomeOK).Inc()
	metrics.AnalysisDuration.WithLabelValues(string(result.Channel)).Observe(time.Since(start).Seconds())

	s.logger.Info("analysis complete",
		"tenant_id", result.TenantID,
		"channel", result.Channel,
		"result_id", result.ID,
		"risk_score", result.RiskScore,
		"flagged", result.IsFlagged,
		"threat_level", result.ThreatLevel,
		"duration_ms", time.Since(start).Milliseconds())
}

func (s *Service) fail(channel domain.Channel, err error) (*domain.RiskResult, error) {
	metrics.AnalysesTotal.WithLabelValues(string(channel), metrics.OutcomeError).Inc()
	return nil, err
}

// GetResult fetches a stored risk result, cache first.
func (s *Service) GetResult(ctx context.Context, tenantID, resultID string) (*domain.RiskResult, error) {
	if tenantID == "" || resultID == "" {
		return nil, fmt.Errorf("%w: tenantId and resultId are required", domain.ErrInvalidInput)
	}

	if s.cache != nil {
		if result, err := s.cache.GetRiskResult(ctx, tenantID, resultID); err == nil && result != nil {
			return result, nil
		}
	}
	if s.repo == nil {
		return nil, fmt.Errorf("no repository configured")
	}
	return s.repo.GetRiskResult(ctx, tenantID, resultID)
}

// CorrelateActor fuses an actor's stored per-channel results within the
// window. A zero window spans the 24 hours before now.
func (s *Service) CorrelateActor(ctx context.Context, tenantID, actorID string, window domain.Window) (*domain.CorrelationResult, error) {
	if tenantID == "" || actorID == "" {
		return nil, fmt.Errorf("%w: tenantId and actorId are required", domain.ErrInvalidInput)
	}
	if s.repo == nil {
		return nil, fmt.Errorf("no repository configured")
	}

	if window.IsZero() {
		now := time.Now().UTC()
		window = domain.Window{Start: now.Add(-24 * time.Hour), End: now}
	}

	results, err := s.repo.ListRiskResultsByActor(ctx, tenantID, actorID, window.Start)
	if err != nil {
		return nil, fmt.Errorf("list risk results: %w", err)
	}

	return s.correlateAndPublish(ctx, tenantID, results, window), nil
}

// FlaggedActors lists actors with flagged results since a point in time,
// feeding the async correlation sweep.
func (s *Service) FlaggedActors(ctx context.Context, tenantID string, since time.Time) ([]string, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantId is required", domain.ErrInvalidInput)
	}
	if s.repo == nil {
		return nil, fmt.Errorf("no repository configured")
	}
	return s.repo.ListFlaggedActors(ctx, tenantID, since)
}

// CorrelateResults fuses caller-supplied results directly.
func (s *Service) CorrelateResults(ctx context.Context, tenantID string, results []*domain.RiskResult, window domain.Window) (*domain.CorrelationResult, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantId is required", domain.ErrInvalidInput)
	}
	for _, r := range results {
		if r != nil && r.TenantID != "" && r.TenantID != tenantID {
			return nil, fmt.Errorf("%w: result %s belongs to another tenant", domain.ErrInvalidInput, r.ID)
		}
	}
	return s.correlateAndPublish(ctx, tenantID, results, window), nil
}

func (s *Service) correlateAndPublish(ctx context.Context, tenantID string, results []*domain.RiskResult, window domain.Window) *domain.CorrelationResult {
	ctx, span := s.tracer.Start(ctx, "scoring.Correlate",
		trace.WithAttributes(attribute.Int("results", len(results))))
	defer span.End()

	out := s.correlator.Correlate(results, window)

	metrics.CorrelationsTotal.Inc()
	s.publish(ctx, tenantID, domain.TopicCorrelationResult, out)

	if out.CombinedRiskScore >= s.cfg.CorrelationAlertThreshold && len(out.CorrelatedChannels) > 0 {
		metrics.CorrelationAlertsTotal.Inc()
		s.publish(ctx, tenantID, domain.TopicRiskAlert, out)
		s.logger.Warn("correlation alert",
			"tenant_id", tenantID,
			"combined_score", out.CombinedRiskScore,
			"channels", out.CorrelatedChannels)
	}

	return out
}

func (s *Service) publish(ctx context.Context, tenantID, topic string, payload any) {
	if s.bus == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("failed to marshal event payload",
			"topic", topic,
			"error", err)
		return
	}
	if err := s.bus.Publish(ctx, tenantID, topic, raw); err != nil {
		// Bus unavailability must not fail the analysis path.
		if !errors.Is(err, context.Canceled) {
			s.logger.Warn("failed to publish event",
				"tenant_id", tenantID,
				"topic", topic,
				"error", err)
		}
	}
}

// ReloadPolicies reloads a tenant's escalation rules from storage.
func (s *Service) ReloadPolicies(ctx context.Context, tenantID string) (int, error) {
	if s.repo == nil || s.policies == nil {
		return 0, fmt.Errorf("no repository or policy engine configured")
	}
	rules, err := s.repo.ListPolicyRules(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("list policy rules: %w", err)
	}
	if err := s.policies.ReloadTenantRules(tenantID, rules); err != nil {
		return 0, err
	}
	return s.policies.RulesCount(), nil
}

package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/policy"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/textfeat"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	scorer    *scoring.Service
	registry  *model.Registry
	policies  *policy.Engine
	extractor *textfeat.Extractor
	repo      domain.Repository
	cache     domain.Cache
	version   string
}

// NewHandler creates a new API handler.
func NewHandler(scorer *scoring.Service, registry *model.Registry, policies *policy.Engine, extractor *textfeat.Extractor, repo domain.Repository, cache domain.Cache, version string) *Handler {
	return &Handler{
		scorer:    scorer,
		registry:  registry,
		policies:  policies,
		extractor: extractor,
		repo:      repo,
		cache:     cache,
		version:   version,
	}
}

// AnalyzeTextRequest is the request body for POST /analyze/text.
type AnalyzeTextRequest struct {
	Channel   string    `json:"channel"`
	ActorID   string    `json:"actorId,omitempty"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// AnalyzeText handles POST /analyze/text requests.
func (h *Handler) AnalyzeText(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req AnalyzeTextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	channel, err := domain.ParseChannel(req.Channel)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "unknown channel: " + req.Channel,
		})
		return
	}

	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now().UTC()
	}

	result, err := h.scorer.AnalyzeText(ctx, &scoring.TextRequest{
		TenantID:  tenantID,
		Channel:   channel,
		ActorID:   req.ActorID,
		Text:      req.Text,
		Timestamp: req.Timestamp,
	})
	if err != nil {
		writeScoringError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// AnalyzeTransactionRequest is the request body for POST /analyze/transaction.
type AnalyzeTransactionRequest struct {
	ID               string    `json:"id,omitempty"`
	ActorID          string    `json:"actorId,omitempty"`
	Amount           float64   `json:"amount"`
	Frequency        float64   `json:"frequency,omitempty"`
	LocationVariance float64   `json:"locationVariance,omitempty"`
	Timestamp        time.Time `json:"timestamp,omitempty"`
}

// AnalyzeTransaction handles POST /analyze/transaction requests.
func (h *Handler) AnalyzeTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req AnalyzeTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now().UTC()
	}

	rec := &domain.TransactionRecord{
		ID:               req.ID,
		TenantID:         tenantID,
		ActorID:          req.ActorID,
		Amount:           req.Amount,
		Frequency:        req.Frequency,
		LocationVariance: req.LocationVariance,
		Timestamp:        req.Timestamp,
	}

	result, err := h.scorer.AnalyzeTransaction(ctx, rec)
	if err != nil {
		writeScoringError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// CorrelateRequest is the request body for POST /correlate. Either ActorID
// (stored results) or Results (caller-supplied) must be set.
type CorrelateRequest struct {
	ActorID string               `json:"actorId,omitempty"`
	Window  domain.Window        `json:"window,omitempty"`
	Results []*domain.RiskResult `json:"results,omitempty"`
}

// Correlate handles POST /correlate requests.
func (h *Handler) Correlate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req CorrelateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	var (
		result *domain.CorrelationResult
		err    error
	)
	switch {
	case req.ActorID != "":
		result, err = h.scorer.CorrelateActor(ctx, tenantID, req.ActorID, req.Window)
	case len(req.Results) > 0:
		result, err = h.scorer.CorrelateResults(ctx, tenantID, req.Results, req.Window)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "actorId or results is required",
		})
		return
	}
	if err != nil {
		writeScoringError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// GetResult retrieves a risk result by ID.
func (h *Handler) GetResult(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	resultID := chi.URLParam(r, "id")

	if resultID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "result id is required",
		})
		return
	}

	result, err := h.scorer.GetResult(ctx, tenantID, resultID)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
			return
		}
		slog.Error("failed to get risk result", "id", resultID, "error", err)
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "result not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// ListModels returns the active model version per channel.
func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	models := make([]map[string]string, 0, len(domain.AllChannels))
	for _, c := range domain.AllChannels {
		version := h.registry.Version(c)
		if version == "" {
			continue
		}
		models = append(models, map[string]string{
			"channel": string(c),
			"version": version,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"models": models,
		"count":  len(models),
	})
}

// ReloadModels reloads all model parameters from the database into the
// registry. Models are stored globally and shared across tenants.
func (h *Handler) ReloadModels(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	paramSet, err := h.repo.ListModelParams(ctx, domain.GlobalTenant)
	if err != nil {
		slog.Error("failed to list model params from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load model params from database",
		})
		return
	}

	if err := h.registry.ReloadAll(paramSet); err != nil {
		slog.Error("failed to reload models into registry", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload models: " + err.Error(),
		})
		return
	}

	slog.Info("models reloaded from database", "count", len(paramSet))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "models reloaded successfully",
		"count":   len(paramSet),
	})
}

// ListPolicies returns the tenant's enabled policy rules from the database.
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	rules, err := h.repo.ListPolicyRules(ctx, tenantID)
	if err != nil {
		slog.Error("failed to list policy rules", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load policy rules",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"policies": rules,
		"count":    len(rules),
	})
}

// CreatePolicyRequest is the request body for creating a policy rule.
type CreatePolicyRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Expression  string `json:"expression"`
	Reason      string `json:"reason"`
	Enabled     bool   `json:"enabled"`
}

// CreatePolicy creates a new policy rule for the tenant and saves it to
// the database. Call POST /policies/reload to hot-reload it into the engine.
func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req CreatePolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}

	rule := &domain.PolicyRule{
		ID:          req.ID,
		TenantID:    tenantID,
		Name:        req.Name,
		Description: req.Description,
		Expression:  req.Expression,
		Reason:      req.Reason,
		Enabled:     req.Enabled,
	}

	// Validate the CEL expression before persisting
	if err := h.policies.ValidateRule(rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid CEL expression: " + err.Error(),
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}
	if err := h.repo.SavePolicyRule(ctx, tenantID, rule); err != nil {
		slog.Error("failed to save policy rule", "id", rule.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save policy rule",
		})
		return
	}

	slog.Info("policy rule created", "id", rule.ID, "name", rule.Name, "tenant_id", tenantID)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"policy":  rule,
		"message": "Policy rule created. Call POST /policies/reload to apply changes.",
	})
}

// ReloadPolicies reloads the tenant's policy rules from the database into
// the evaluation engine.
func (h *Handler) ReloadPolicies(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	count, err := h.scorer.ReloadPolicies(ctx, tenantID)
	if err != nil {
		slog.Error("failed to reload policy rules", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload policy rules: " + err.Error(),
		})
		return
	}

	slog.Info("policy rules reloaded", "tenant_id", tenantID, "count", count)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "policy rules reloaded successfully",
		"count":   count,
	})
}

// GetLexicon returns the active lexicon.
func (h *Handler) GetLexicon(w http.ResponseWriter, r *http.Request) {
	if h.extractor == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "extractor not available",
		})
		return
	}

	writeJSON(w, http.StatusOK, h.extractor.Lexicon())
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
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
	// Not ready until every channel has a model installed
	for _, c := range domain.AllChannels {
		if h.registry.Version(c) == "" {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"ready":  "false",
				"reason": "model not ready for channel " + string(c),
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// writeScoringError maps pipeline errors onto HTTP status codes.
func writeScoringError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
	case errors.Is(err, domain.ErrModelNotReady):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": err.Error(),
		})
	default:
		slog.Error("scoring request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "internal server error",
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

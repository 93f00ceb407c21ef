package domain

import "time"

// Attribution is the contribution of a single feature to a risk score.
type Attribution struct {
	Feature      string  `json:"feature"`
	Contribution float64 `json:"contribution"`
}

// RiskResult is the outcome of one analysis call. Created once per call and
// never mutated afterward; the caller owns it and may pass several into the
// correlation engine.
type RiskResult struct {
	ID          string  `json:"id"`
	TenantID    string  `json:"tenantId"`
	Channel     Channel `json:"channel"`
	ActorID     string  `json:"actorId,omitempty"`
	RiskScore   float64 `json:"riskScore"` // in [0, 1]
	IsFlagged   bool    `json:"isFlagged"`
	ThreatLevel string  `json:"threatLevel"`
	// Attributions are ordered by descending absolute contribution, ties
	// broken by feature declaration order.
	Attributions []Attribution `json:"attributions"`
	// Reasons carries policy escalation reasons, if any.
	Reasons   []string  `json:"reasons,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Threat level bands over the risk score.
const (
	ThreatCritical = "CRITICAL" // > 0.8
	ThreatHigh     = "HIGH"     // > 0.6
	ThreatMedium   = "MEDIUM"   // > 0.4
	ThreatLow      = "LOW"      // > 0.2
	ThreatSafe     = "SAFE"
)

// ThreatLevelFor maps a risk score onto its band.
func ThreatLevelFor(score float64) string {
	switch {
	case score > 0.8:
		return ThreatCritical
	case score > 0.6:
		return ThreatHigh
	case score > 0.4:
		return ThreatMedium
	case score > 0.2:
		return ThreatLow
	default:
		return ThreatSafe
	}
}

// Window is the time span over which per-channel results are jointly
// correlatable.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the window (inclusive bounds).
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// IsZero reports whether the window is unset.
func (w Window) IsZero() bool {
	return w.Start.IsZero() && w.End.IsZero()
}

// CorrelationResult is the combined cross-channel verdict. Derived and
// recomputed on each request; the engine never retains inputs.
type CorrelationResult struct {
	CombinedRiskScore  float64   `json:"combinedRiskScore"` // in [0, 1]
	CorrelatedChannels []Channel `json:"correlatedChannels"`
	Reasons            []string  `json:"reasons"`
	WindowStart        time.Time `json:"windowStart"`
	WindowEnd          time.Time `json:"windowEnd"`
}

// ModelParams is a serialized risk model, persisted as an opaque blob keyed
// by channel name.
type ModelParams struct {
	Channel   Channel   `json:"channel"`
	Version   string    `json:"version"`
	Params    []byte    `json:"params"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PolicyRule is a configurable escalation rule evaluated over a scored
// result. A matching enabled rule forces the flag and appends its reason.
type PolicyRule struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// Expression is a CEL expression over channel, risk_score, flagged,
	// actor_id and the flattened feature map. Must return bool.
	Expression string `json:"expression"`

	Reason  string `json:"reason"`
	Enabled bool   `json:"enabled"`
}

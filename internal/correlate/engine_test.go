package correlate

import (
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var testBase = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func result(channel domain.Channel, score float64, flagged bool, at time.Time) *domain.RiskResult {
	return &domain.RiskResult{
		ID:        string(channel) + "-result",
		TenantID:  "tenant-a",
		Channel:   channel,
		ActorID:   "actor-1",
		RiskScore: score,
		IsFlagged: flagged,
		Timestamp: at,
	}
}

func newTestEngine() *Engine {
	return New(nil, nil)
}

func TestCorrelateEmpty(t *testing.T) {
	out := newTestEngine().Correlate(nil, domain.Window{})

	if out.CombinedRiskScore != 0 {
		t.Errorf("combined score = %v, want 0", out.CombinedRiskScore)
	}
	if len(out.CorrelatedChannels) != 0 {
		t.Errorf("correlated channels = %v, want empty", out.CorrelatedChannels)
	}
	if len(out.Reasons) != 0 {
		t.Errorf("reasons = %v, want empty", out.Reasons)
	}
}

func TestCorrelateBelowFloorExcluded(t *testing.T) {
	out := newTestEngine().Correlate([]*domain.RiskResult{
		result(domain.ChannelEmail, 0.4, false, testBase),
	}, domain.Window{})

	if out.CombinedRiskScore != 0 {
		t.Errorf("combined score = %v, want 0", out.CombinedRiskScore)
	}
	if len(out.CorrelatedChannels) != 0 {
		t.Errorf("correlated channels = %v, want empty", out.CorrelatedChannels)
	}
}

func TestCorrelateSuperAdditive(t *testing.T) {
	out := newTestEngine().Correlate([]*domain.RiskResult{
		result(domain.ChannelTransaction, 0.9, true, testBase),
		result(domain.ChannelEmail, 0.85, true, testBase.Add(10*time.Minute)),
	}, domain.Window{})

	if out.CombinedRiskScore <= 0.9 {
		t.Errorf("combined score = %v, want > max single score 0.9", out.CombinedRiskScore)
	}
	if out.CombinedRiskScore > 1 {
		t.Errorf("combined score = %v, want <= 1", out.CombinedRiskScore)
	}

	want := []domain.Channel{domain.ChannelTransaction, domain.ChannelEmail}
	if len(out.CorrelatedChannels) != len(want) {
		t.Fatalf("correlated channels = %v, want %v", out.CorrelatedChannels, want)
	}
	for i, c := range want {
		if out.CorrelatedChannels[i] != c {
			t.Errorf("correlated channels = %v, want %v", out.CorrelatedChannels, want)
			break
		}
	}
}

func TestCorrelateSingleChannel(t *testing.T) {
	t.Run("scaled by weight, no boost", func(t *testing.T) {
		out := newTestEngine().Correlate([]*domain.RiskResult{
			result(domain.ChannelEmail, 0.6, true, testBase),
		}, domain.Window{})

		want := domain.DefaultChannelWeights[domain.ChannelEmail] * 0.6
		if diff := out.CombinedRiskScore - want; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("combined score = %v, want %v", out.CombinedRiskScore, want)
		}
		// 0.6 is below the single-channel bar.
		if len(out.CorrelatedChannels) != 0 {
			t.Errorf("correlated channels = %v, want empty below single-channel bar", out.CorrelatedChannels)
		}
	})

	t.Run("past the single-channel bar", func(t *testing.T) {
		out := newTestEngine().Correlate([]*domain.RiskResult{
			result(domain.ChannelTransaction, 0.95, true, testBase),
		}, domain.Window{})

		if len(out.CorrelatedChannels) != 1 || out.CorrelatedChannels[0] != domain.ChannelTransaction {
			t.Errorf("correlated channels = %v, want [transaction]", out.CorrelatedChannels)
		}
		if len(out.Reasons) != 1 || !strings.Contains(out.Reasons[0], "extreme transaction risk") {
			t.Errorf("reasons = %v, want single extreme transaction reason", out.Reasons)
		}
	})
}

func TestCorrelateReasonOrdering(t *testing.T) {
	out := newTestEngine().Correlate([]*domain.RiskResult{
		result(domain.ChannelEmail, 0.85, true, testBase.Add(5*time.Minute)),
		result(domain.ChannelSocial, 0.8, true, testBase.Add(20*time.Minute)),
		result(domain.ChannelTransaction, 0.92, true, testBase),
	}, domain.Window{})

	if len(out.Reasons) != 4 {
		t.Fatalf("reasons = %v, want 3 pairwise + 1 extreme", out.Reasons)
	}

	wantPrefixes := []string{
		"transaction risk 0.92 co-occurs with email risk 0.85",
		"transaction risk 0.92 co-occurs with social risk 0.80",
		"email risk 0.85 co-occurs with social risk 0.80",
		"extreme transaction risk 0.92",
	}
	for i, prefix := range wantPrefixes {
		if !strings.HasPrefix(out.Reasons[i], prefix) {
			t.Errorf("reason[%d] = %q, want prefix %q", i, out.Reasons[i], prefix)
		}
	}
}

func TestCorrelateWindowFiltering(t *testing.T) {
	window := domain.Window{Start: testBase, End: testBase.Add(time.Hour)}

	out := newTestEngine().Correlate([]*domain.RiskResult{
		result(domain.ChannelTransaction, 0.9, true, testBase.Add(30*time.Minute)),
		result(domain.ChannelEmail, 0.95, true, testBase.Add(2*time.Hour)), // outside
	}, window)

	// Only the transaction result is inside the window, so this is a
	// single-channel fusion with no pair bonus.
	want := domain.DefaultChannelWeights[domain.ChannelTransaction] * 0.9
	if diff := out.CombinedRiskScore - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("combined score = %v, want %v", out.CombinedRiskScore, want)
	}
	if out.WindowStart != window.Start || out.WindowEnd != window.End {
		t.Errorf("window = [%v, %v], want [%v, %v]", out.WindowStart, out.WindowEnd, window.Start, window.End)
	}
}

func TestCorrelateDefaultWindowAnchorsAtLatest(t *testing.T) {
	old := result(domain.ChannelEmail, 0.9, true, testBase.Add(-30*time.Hour))
	recent := result(domain.ChannelTransaction, 0.9, true, testBase)

	out := newTestEngine().Correlate([]*domain.RiskResult{old, recent}, domain.Window{})

	if out.WindowEnd != testBase {
		t.Errorf("window end = %v, want latest timestamp %v", out.WindowEnd, testBase)
	}
	// The 30-hour-old email result falls outside the default 24h window.
	if len(out.CorrelatedChannels) != 1 || out.CorrelatedChannels[0] != domain.ChannelTransaction {
		t.Errorf("correlated channels = %v, want [transaction]", out.CorrelatedChannels)
	}
}

func TestCorrelateBestResultPerChannel(t *testing.T) {
	out := newTestEngine().Correlate([]*domain.RiskResult{
		result(domain.ChannelEmail, 0.5, true, testBase),
		result(domain.ChannelEmail, 0.9, true, testBase.Add(time.Minute)),
		result(domain.ChannelTransaction, 0.9, true, testBase),
	}, domain.Window{})

	// The weaker duplicate email result must not dilute the fusion:
	// weighted mean of (0.9, 0.9) plus the pair bonus.
	if out.CombinedRiskScore <= 0.9 {
		t.Errorf("combined score = %v, want > 0.9", out.CombinedRiskScore)
	}
	for _, reason := range out.Reasons {
		if strings.Contains(reason, "0.50") {
			t.Errorf("reason %q references the discarded weaker result", reason)
		}
	}
}

func TestCorrelateUnflaggedPairGetsNoBonus(t *testing.T) {
	// Two channels above the floor but not flagged: plain weighted
	// mean, no super-additive term.
	out := newTestEngine().Correlate([]*domain.RiskResult{
		result(domain.ChannelTransaction, 0.6, false, testBase),
		result(domain.ChannelEmail, 0.5, false, testBase),
	}, domain.Window{})

	wTx := domain.DefaultChannelWeights[domain.ChannelTransaction]
	wEm := domain.DefaultChannelWeights[domain.ChannelEmail]
	want := (wTx*0.6 + wEm*0.5) / (wTx + wEm)
	if diff := out.CombinedRiskScore - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("combined score = %v, want weighted mean %v", out.CombinedRiskScore, want)
	}
	if len(out.Reasons) != 0 {
		t.Errorf("reasons = %v, want empty without flagged pairs", out.Reasons)
	}
}

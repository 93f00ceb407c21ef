// Package correlate fuses per-channel risk results into one combined
// cross-channel judgment with explanatory reasons.
package correlate

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const (
	// significanceFloor excludes weak results from correlation
	// entirely: a result under it contributes nothing to the combined
	// score and can never appear in the correlated set.
	significanceFloor = 0.45

	// shareThreshold is the minimum fraction of the weighted mass a
	// channel must carry to appear in the correlated set.
	shareThreshold = 0.15

	// singleChannelBar is the stricter score a lone channel must reach
	// to count as correlated on its own.
	singleChannelBar = 0.8

	// extremeScoreBar triggers the single-channel extreme reason.
	extremeScoreBar = 0.9

	// pairBonus scales the super-additive reward for simultaneous
	// flags on distinct channels.
	pairBonus = 0.25

	// defaultWindow is applied when the caller passes a zero window,
	// anchored at the latest input timestamp.
	defaultWindow = 24 * time.Hour
)

// Engine combines per-channel risk results. Stateless apart from the
// weight table fixed at construction; safe for concurrent use.
type Engine struct {
	weights map[domain.Channel]float64
	logger  *slog.Logger
}

// New creates a correlation engine. Channels missing from weights use
// the built-in defaults.
func New(weights map[domain.Channel]float64, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{weights: weights, logger: logger}
}

// Correlate fuses the given results within a time window. A zero window
// defaults to the 24 hours ending at the latest input timestamp. The
// input is never retained or mutated.
//
// Scoring: results below the significance floor are discarded; each
// surviving channel keeps only its highest-scoring result. One channel
// yields its weight-scaled score. Two or more yield the weighted mean
// plus a bonus proportional to the pairwise products of scores on
// flagged channels, clamped to 1: simultaneous independent evidence is
// worth more than either signal alone.
func (e *Engine) Correlate(results []*domain.RiskResult, window domain.Window) *domain.CorrelationResult {
	if window.IsZero() {
		window = defaultWindowFor(results)
	}

	out := &domain.CorrelationResult{
		CorrelatedChannels: []domain.Channel{},
		Reasons:            []string{},
		WindowStart:        window.Start,
		WindowEnd:          window.End,
	}

	best := e.significant(results, window)
	if len(best) == 0 {
		return out
	}

	if len(best) == 1 {
		return e.single(best, out)
	}
	return e.fuse(best, out)
}

// significant filters to in-window results at or above the floor and
// collapses them to the strongest result per channel.
func (e *Engine) significant(results []*domain.RiskResult, window domain.Window) map[domain.Channel]*domain.RiskResult {
	best := make(map[domain.Channel]*domain.RiskResult)
	for _, r := range results {
		if r == nil || !window.Contains(r.Timestamp) || r.RiskScore < significanceFloor {
			continue
		}
		if cur, ok := best[r.Channel]; !ok || r.RiskScore > cur.RiskScore {
			best[r.Channel] = r
		}
	}
	return best
}

// single handles the one-channel case: the combined score is the score
// scaled by channel weight, with no cross-channel boost, and the
// channel only counts as correlated past the stricter single bar.
func (e *Engine) single(best map[domain.Channel]*domain.RiskResult, out *domain.CorrelationResult) *domain.CorrelationResult {
	for channel, r := range best {
		weight := domain.WeightFor(channel, e.weights)
		out.CombinedRiskScore = clamp01(weight * r.RiskScore)
		if r.RiskScore >= singleChannelBar {
			out.CorrelatedChannels = append(out.CorrelatedChannels, channel)
		}
		if r.RiskScore >= extremeScoreBar {
			out.Reasons = append(out.Reasons, extremeReason(channel, r.RiskScore))
		}
	}
	return out
}

func (e *Engine) fuse(best map[domain.Channel]*domain.RiskResult, out *domain.CorrelationResult) *domain.CorrelationResult {
	var weightedSum, totalWeight float64
	contribution := make(map[domain.Channel]float64, len(best))
	for channel, r := range best {
		w := domain.WeightFor(channel, e.weights)
		contribution[channel] = w * r.RiskScore
		weightedSum += w * r.RiskScore
		totalWeight += w
	}

	score := weightedSum / totalWeight

	// Super-additive bonus: one term per unordered pair of flagged
	// channels, proportional to the product of their scores.
	ordered := orderedChannels(best)
	for i := 0; i < len(ordered); i++ {
		for j := i + 1; j < len(ordered); j++ {
			a, b := best[ordered[i]], best[ordered[j]]
			if a.IsFlagged && b.IsFlagged {
				score += pairBonus * a.RiskScore * b.RiskScore
			}
		}
	}
	out.CombinedRiskScore = clamp01(score)

	for _, channel := range ordered {
		if contribution[channel]/weightedSum >= shareThreshold {
			out.CorrelatedChannels = append(out.CorrelatedChannels, channel)
		}
	}

	// Reasons in fixed order: pairwise co-occurrence first, walking
	// channel pairs in priority order, then extreme single scores.
	for i := 0; i < len(ordered); i++ {
		for j := i + 1; j < len(ordered); j++ {
			a, b := best[ordered[i]], best[ordered[j]]
			if a.IsFlagged && b.IsFlagged {
				out.Reasons = append(out.Reasons, pairReason(a, b))
			}
		}
	}
	for _, channel := range ordered {
		if r := best[channel]; r.RiskScore >= extremeScoreBar {
			out.Reasons = append(out.Reasons, extremeReason(channel, r.RiskScore))
		}
	}

	return out
}

// orderedChannels returns the surviving channels in the fixed priority
// order of domain.AllChannels. Reason and channel ordering depend on it.
func orderedChannels(best map[domain.Channel]*domain.RiskResult) []domain.Channel {
	ordered := make([]domain.Channel, 0, len(best))
	for _, channel := range domain.AllChannels {
		if _, ok := best[channel]; ok {
			ordered = append(ordered, channel)
		}
	}
	return ordered
}

func pairReason(a, b *domain.RiskResult) string {
	gap := a.Timestamp.Sub(b.Timestamp)
	if gap < 0 {
		gap = -gap
	}
	return fmt.Sprintf("%s risk %.2f co-occurs with %s risk %.2f within %s",
		a.Channel, a.RiskScore, b.Channel, b.RiskScore, gap.Round(time.Second))
}

func extremeReason(channel domain.Channel, score float64) string {
	return fmt.Sprintf("extreme %s risk %.2f", channel, score)
}

// defaultWindowFor anchors the default window at the latest input
// timestamp, so replayed batches correlate the same way live traffic
// did.
func defaultWindowFor(results []*domain.RiskResult) domain.Window {
	var latest time.Time
	for _, r := range results {
		if r != nil && r.Timestamp.After(latest) {
			latest = r.Timestamp
		}
	}
	if latest.IsZero() {
		latest = time.Now().UTC()
	}
	return domain.Window{Start: latest.Add(-defaultWindow), End: latest}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

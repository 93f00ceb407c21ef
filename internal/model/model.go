// Package model implements the per-channel risk models: a linear scorer
// for text channels and a voting ensemble for transactions, plus the
// registry that hot-swaps model parameters at runtime.
package model

import (
	"math"
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Model scores a feature map into [0, 1] and explains the score through
// per-feature attributions, ordered most-influential first.
type Model interface {
	Predict(features map[string]float64) (float64, []domain.Attribution, error)
}

// clamp01 bounds a score to [0, 1].
func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// sortAttributions orders attributions by absolute contribution,
// descending. Ties break on feature declaration order so repeated
// predictions over the same input are byte-identical.
func sortAttributions(attrs []domain.Attribution, order []string) {
	rank := make(map[string]int, len(order))
	for i, name := range order {
		rank[name] = i
	}
	sort.SliceStable(attrs, func(i, j int) bool {
		ai, aj := math.Abs(attrs[i].Contribution), math.Abs(attrs[j].Contribution)
		if ai != aj {
			return ai > aj
		}
		return rank[attrs[i].Feature] < rank[attrs[j].Feature]
	})
}

package model

import (
	"fmt"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// VotingEnsemble averages the probabilities of several logistic
// estimators over a min-max scaled transaction feature vector. The
// estimators carry deliberately varied weights so no single feature can
// dominate through one estimator's bias.
type VotingEnsemble struct {
	params EnsembleParams
}

// NewVotingEnsemble builds an ensemble from its parameters.
func NewVotingEnsemble(params EnsembleParams) (*VotingEnsemble, error) {
	n := len(domain.TransactionFeatureNames)
	if len(params.FeatureMin) != n || len(params.FeatureMax) != n {
		return nil, fmt.Errorf("%w: scaling ranges must cover %d features", domain.ErrConfig, n)
	}
	if len(params.Estimators) == 0 {
		return nil, fmt.Errorf("%w: ensemble needs at least one estimator", domain.ErrConfig)
	}
	for i, est := range params.Estimators {
		if len(est.Weights) != n {
			return nil, fmt.Errorf("%w: estimator %d has %d weights, want %d", domain.ErrConfig, i, len(est.Weights), n)
		}
	}
	return &VotingEnsemble{params: params}, nil
}

// Predict implements Model. The feature map is read in
// domain.TransactionFeatureNames order; missing features read as zero.
func (m *VotingEnsemble) Predict(features map[string]float64) (float64, []domain.Attribution, error) {
	scaled := make([]float64, len(domain.TransactionFeatureNames))
	for i, name := range domain.TransactionFeatureNames {
		scaled[i] = m.scale(i, features[name])
	}

	// Average probability across estimators, and average each
	// feature's logit contribution for the attribution report.
	var total float64
	contributions := make([]float64, len(scaled))
	for _, est := range m.params.Estimators {
		z := est.Bias
		for i, v := range scaled {
			term := est.Weights[i] * v
			z += term
			contributions[i] += term
		}
		total += sigmoid(z)
	}

	nEst := float64(len(m.params.Estimators))
	score := total / nEst

	attrs := make([]domain.Attribution, 0, len(scaled))
	for i, name := range domain.TransactionFeatureNames {
		c := contributions[i] / nEst
		if c == 0 {
			continue
		}
		attrs = append(attrs, domain.Attribution{Feature: name, Contribution: c})
	}
	sortAttributions(attrs, domain.TransactionFeatureNames)

	return clamp01(score), attrs, nil
}

// scale min-max normalizes feature i into [0, 1], clamping values
// outside the training range.
func (m *VotingEnsemble) scale(i int, v float64) float64 {
	lo, hi := m.params.FeatureMin[i], m.params.FeatureMax[i]
	if hi <= lo {
		return 0
	}
	return clamp01((v - lo) / (hi - lo))
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

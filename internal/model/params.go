package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// TextParams are the serializable parameters of a linear text model.
// Features absent from Weights contribute nothing to the score.
type TextParams struct {
	Bias    float64            `json:"bias"`
	Weights map[string]float64 `json:"weights"`
}

// Estimator is one logistic voter inside an ensemble.
type Estimator struct {
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
}

// EnsembleParams are the serializable parameters of a transaction
// voting ensemble. FeatureMin/FeatureMax give the min-max scaling range
// per feature, in domain.TransactionFeatureNames order.
type EnsembleParams struct {
	FeatureMin []float64   `json:"featureMin"`
	FeatureMax []float64   `json:"featureMax"`
	Estimators []Estimator `json:"estimators"`
}

// DefaultTextParams returns the builtin linear weights shared by the
// text channels. Positive weights push toward risk; the sentiment
// weight is negative because scam text reads negative, so a negative
// compound raises the score.
func DefaultTextParams() TextParams {
	return TextParams{
		Weights: map[string]float64{
			"urgency_count":                0.25,
			"authority_count":              0.20,
			"financial_pressure_count":     0.30,
			"reward_count":                 0.15,
			"pii_request_count":            0.35,
			"emotional_manipulation_count": 0.12,
			"action_verb_count":            0.10,
			"sentiment_compound":           -0.40,
			"url_count":                    0.15,
			"phone_count":                  0.05,
			"email_address_count":          0.08,
			"currency_amount_count":        0.05,
			"time_pressure_count":          0.10,
			"entity_organization":          0.04,
			"entity_government":            0.10,
			"entity_financial":             0.08,
			"entity_person":                0.02,
		},
	}
}

// DefaultEnsembleParams returns the builtin transaction ensemble:
// three logistic voters with slightly varied weights over
// [amount, amount_log, frequency, location_variance, hour_of_day, day_of_week].
func DefaultEnsembleParams() EnsembleParams {
	return EnsembleParams{
		FeatureMin: []float64{0, 0, 0, 0, 0, 0},
		FeatureMax: []float64{25000, 10.127, 50, 10, 23, 6},
		Estimators: []Estimator{
			{Weights: []float64{2.6, 1.0, 2.1, 2.0, 0.2, 0.1}, Bias: -3.6},
			{Weights: []float64{2.4, 1.1, 1.9, 2.2, 0.15, 0.1}, Bias: -3.4},
			{Weights: []float64{2.5, 0.9, 2.0, 1.9, 0.25, 0.12}, Bias: -3.5},
		},
	}
}

// Parse deserializes stored parameters into a ready model. The channel
// decides the shape: transaction parameters are an ensemble, all text
// channels are linear.
func Parse(p *domain.ModelParams) (Model, error) {
	if p.Channel == domain.ChannelTransaction {
		var ep EnsembleParams
		if err := json.Unmarshal(p.Params, &ep); err != nil {
			return nil, fmt.Errorf("%w: ensemble params for %s: %v", domain.ErrConfig, p.Channel, err)
		}
		return NewVotingEnsemble(ep)
	}

	var tp TextParams
	if err := json.Unmarshal(p.Params, &tp); err != nil {
		return nil, fmt.Errorf("%w: text params for %s: %v", domain.ErrConfig, p.Channel, err)
	}
	if len(tp.Weights) == 0 {
		return nil, fmt.Errorf("%w: text params for %s have no weights", domain.ErrConfig, p.Channel)
	}
	return NewLinearText(tp), nil
}

// DefaultParams serializes the builtin parameters for a channel, for
// seeding the store on first boot.
func DefaultParams(channel domain.Channel) (*domain.ModelParams, error) {
	var (
		raw []byte
		err error
	)
	if channel == domain.ChannelTransaction {
		raw, err = json.Marshal(DefaultEnsembleParams())
	} else {
		raw, err = json.Marshal(DefaultTextParams())
	}
	if err != nil {
		return nil, fmt.Errorf("marshal default params for %s: %w", channel, err)
	}
	return &domain.ModelParams{
		Channel:   channel,
		Version:   "builtin-1",
		Params:    raw,
		UpdatedAt: time.Now().UTC(),
	}, nil
}

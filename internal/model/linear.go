package model

import "github.com/opensource-finance/kestrel/internal/domain"

// LinearText scores text feature bundles with a weighted sum clamped to
// [0, 1]. Every weighted feature present in the input contributes
// weight * value; the contribution is reported verbatim in the
// attributions, so the clamped score may differ from the raw sum.
type LinearText struct {
	params TextParams
}

// NewLinearText builds a linear text model from its parameters.
func NewLinearText(params TextParams) *LinearText {
	return &LinearText{params: params}
}

// Predict implements Model.
func (m *LinearText) Predict(features map[string]float64) (float64, []domain.Attribution, error) {
	sum := m.params.Bias
	attrs := make([]domain.Attribution, 0, len(m.params.Weights))

	for name, weight := range m.params.Weights {
		value, ok := features[name]
		if !ok || value == 0 {
			continue
		}
		contribution := weight * value
		sum += contribution
		attrs = append(attrs, domain.Attribution{
			Feature:      name,
			Contribution: contribution,
		})
	}

	sortAttributions(attrs, domain.TextFeatureNames)
	return clamp01(sum), attrs, nil
}

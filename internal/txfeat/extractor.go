// Package txfeat derives the numeric feature vector a transaction risk
// model consumes from a raw transaction record.
package txfeat

import (
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Extract maps a transaction record to its feature vector, in the order
// given by domain.TransactionFeatureNames:
//
//	amount, amount_log, frequency, location_variance, hour_of_day, day_of_week
//
// The record is validated first; invalid input is reported with
// domain.ErrInvalidInput.
func Extract(record *domain.TransactionRecord) ([]float64, error) {
	if err := record.Validate(); err != nil {
		return nil, err
	}

	ts := record.Timestamp.UTC()
	return []float64{
		record.Amount,
		math.Log1p(record.Amount),
		record.Frequency,
		record.LocationVariance,
		float64(ts.Hour()),
		float64(ts.Weekday()),
	}, nil
}

// ToMap returns the vector keyed by feature name, for policy rules and
// attribution reporting.
func ToMap(vector []float64) map[string]float64 {
	m := make(map[string]float64, len(domain.TransactionFeatureNames))
	for i, name := range domain.TransactionFeatureNames {
		if i < len(vector) {
			m[name] = vector[i]
		}
	}
	return m
}

package domain

import (
	"fmt"
	"time"
)

// SentimentLabel classifies the compound sentiment score.
type SentimentLabel string

const (
	SentimentPositive SentimentLabel = "positive"
	SentimentNegative SentimentLabel = "negative"
	SentimentNeutral  SentimentLabel = "neutral"
)

// FeatureBundle is the structured set of signals extracted from one text
// input. All count fields are >= 0; SentimentCompound is in [-1, 1].
// A bundle is owned and consumed entirely within one model invocation.
type FeatureBundle struct {
	// Linguistic pattern counts
	UrgencyCount               float64 `json:"urgency_count"`
	AuthorityCount             float64 `json:"authority_count"`
	FinancialPressureCount     float64 `json:"financial_pressure_count"`
	RewardCount                float64 `json:"reward_count"`
	PIIRequestCount            float64 `json:"pii_request_count"`
	EmotionalManipulationCount float64 `json:"emotional_manipulation_count"`
	ActionVerbCount            float64 `json:"action_verb_count"`

	// Sentiment
	SentimentCompound float64        `json:"sentiment_compound"`
	SentimentLabel    SentimentLabel `json:"sentiment_label"`

	// Readability
	FleschScore       float64 `json:"flesch_score"`
	AvgSentenceLength float64 `json:"avg_sentence_length"`

	// Surface patterns
	URLCount            float64 `json:"url_count"`
	PhoneCount          float64 `json:"phone_count"`
	EmailAddressCount   float64 `json:"email_address_count"`
	CurrencyAmountCount float64 `json:"currency_amount_count"`
	TimePressureCount   float64 `json:"time_pressure_count"`

	// Entity recognition: category -> hit count
	EntityHits map[string]float64 `json:"entity_hits,omitempty"`
}

// TextFeatureNames is the declaration order of text features. Attribution
// ties are broken by this order.
var TextFeatureNames = []string{
	"urgency_count",
	"authority_count",
	"financial_pressure_count",
	"reward_count",
	"pii_request_count",
	"emotional_manipulation_count",
	"action_verb_count",
	"sentiment_compound",
	"flesch_score",
	"avg_sentence_length",
	"url_count",
	"phone_count",
	"email_address_count",
	"currency_amount_count",
	"time_pressure_count",
	"entity_organization",
	"entity_government",
	"entity_financial",
	"entity_person",
}

// ToMap flattens the bundle into feature name -> value, in the shape the
// models and the policy engine consume. Entity hits are prefixed "entity_".
func (b *FeatureBundle) ToMap() map[string]float64 {
	m := map[string]float64{
		"urgency_count":                b.UrgencyCount,
		"authority_count":              b.AuthorityCount,
		"financial_pressure_count":     b.FinancialPressureCount,
		"reward_count":                 b.RewardCount,
		"pii_request_count":            b.PIIRequestCount,
		"emotional_manipulation_count": b.EmotionalManipulationCount,
		"action_verb_count":            b.ActionVerbCount,
		"sentiment_compound":           b.SentimentCompound,
		"flesch_score":                 b.FleschScore,
		"avg_sentence_length":          b.AvgSentenceLength,
		"url_count":                    b.URLCount,
		"phone_count":                  b.PhoneCount,
		"email_address_count":          b.EmailAddressCount,
		"currency_amount_count":        b.CurrencyAmountCount,
		"time_pressure_count":          b.TimePressureCount,
	}
	for cat, n := range b.EntityHits {
		m["entity_"+cat] = n
	}
	return m
}

// TransactionRecord is a single transaction to be scored. Immutable once
// analyzed.
type TransactionRecord struct {
	ID               string    `json:"id"`
	TenantID         string    `json:"tenantId"`
	ActorID          string    `json:"actorId"`
	Amount           float64   `json:"amount"`           // non-negative currency value
	Frequency        float64   `json:"frequency"`        // transactions/hour, non-negative
	LocationVariance float64   `json:"locationVariance"` // non-negative dispersion metric
	Timestamp        time.Time `json:"timestamp"`
}

// Validate checks the record's range invariants.
func (r *TransactionRecord) Validate() error {
	if r.Amount < 0 {
		return fmt.Errorf("%w: amount must be non-negative, got %.2f", ErrInvalidInput, r.Amount)
	}
	if r.Frequency < 0 {
		return fmt.Errorf("%w: frequency must be non-negative, got %.2f", ErrInvalidInput, r.Frequency)
	}
	if r.LocationVariance < 0 {
		return fmt.Errorf("%w: location variance must be non-negative, got %.2f", ErrInvalidInput, r.LocationVariance)
	}
	return nil
}

// TransactionFeatureNames is the declaration order of the transaction
// feature vector.
var TransactionFeatureNames = []string{
	"amount",
	"amount_log",
	"frequency",
	"location_variance",
	"hour_of_day",
	"day_of_week",
}

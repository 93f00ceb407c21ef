package domain

import "errors"

// Error taxonomy for the scoring pipeline. Callers must treat these as
// degraded-capability conditions, never as a zero risk score.
var (
	// ErrInvalidInput marks malformed or out-of-range input, such as a
	// negative transaction amount or an unknown channel.
	ErrInvalidInput = errors.New("invalid input")

	// ErrModelNotReady marks a missing or unfitted risk model.
	ErrModelNotReady = errors.New("model not ready")

	// ErrConfig marks a malformed lexicon or weight table, or one missing
	// a required category.
	ErrConfig = errors.New("invalid configuration")
)

// Package domain defines the core interfaces and types for Kestrel.
package domain

import "fmt"

// Channel is one communication/transaction modality analyzed independently.
type Channel string

const (
	ChannelEmail       Channel = "email"
	ChannelTransaction Channel = "transaction"
	ChannelSocial      Channel = "social"
	ChannelWeb         Channel = "web"
	ChannelMessage     Channel = "message"
	ChannelVoice       Channel = "voice"
)

// AllChannels lists every channel in fixed priority order. The order is
// load-bearing: the correlation engine emits pairwise reasons in this order.
var AllChannels = []Channel{
	ChannelTransaction,
	ChannelEmail,
	ChannelSocial,
	ChannelWeb,
	ChannelMessage,
	ChannelVoice,
}

// TextChannels lists the channels whose input is free text.
var TextChannels = []Channel{
	ChannelEmail,
	ChannelSocial,
	ChannelWeb,
	ChannelMessage,
	ChannelVoice,
}

// DefaultThresholds holds the built-in per-channel flag thresholds. A
// risk score at or above the channel threshold marks the result flagged.
var DefaultThresholds = map[Channel]float64{
	ChannelEmail:       0.5,
	ChannelTransaction: 0.7,
	ChannelSocial:      0.6,
	ChannelWeb:         0.6,
	ChannelMessage:     0.55,
	ChannelVoice:       0.55,
}

// DefaultChannelWeights holds the built-in reliability weights used when
// fusing per-channel scores. Transaction evidence weighs heaviest.
var DefaultChannelWeights = map[Channel]float64{
	ChannelTransaction: 1.0,
	ChannelEmail:       0.85,
	ChannelSocial:      0.9,
	ChannelWeb:         0.8,
	ChannelMessage:     0.75,
	ChannelVoice:       0.7,
}

// ThresholdFor resolves a channel's flag threshold against overrides,
// falling back to the built-in default.
func ThresholdFor(c Channel, overrides map[Channel]float64) float64 {
	if t, ok := overrides[c]; ok {
		return t
	}
	return DefaultThresholds[c]
}

// WeightFor resolves a channel's correlation weight against overrides,
// falling back to the built-in default.
func WeightFor(c Channel, overrides map[Channel]float64) float64 {
	if w, ok := overrides[c]; ok {
		return w
	}
	return DefaultChannelWeights[c]
}

// ParseChannel validates and converts a channel name.
func ParseChannel(s string) (Channel, error) {
	for _, c := range AllChannels {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: unknown channel %q", ErrInvalidInput, s)
}

// IsText reports whether the channel carries free-text input.
func (c Channel) IsText() bool {
	for _, tc := range TextChannels {
		if c == tc {
			return true
		}
	}
	return false
}

package textfeat

import (
	"math"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// negationDampening flips and attenuates the valence of a polarity word
// preceded by a negation ("not great" reads mildly negative, not the
// mirror image of "great").
const negationDampening = -0.74

// compoundNormalizer keeps the compound score inside (-1, 1) regardless
// of text length.
const compoundNormalizer = 15.0

// sentimentScorer computes a valence-sum sentiment over a polarity
// lexicon with single-token negation and intensifier handling.
type sentimentScorer struct {
	polarity     map[string]float64
	negations    map[string]struct{}
	intensifiers map[string]float64
}

func newSentimentScorer(lex *domain.Lexicon) *sentimentScorer {
	s := &sentimentScorer{
		polarity:     make(map[string]float64, len(lex.Polarity)),
		negations:    make(map[string]struct{}, len(lex.Negations)),
		intensifiers: make(map[string]float64, len(lex.Intensifiers)),
	}
	for word, valence := range lex.Polarity {
		s.polarity[strings.ToLower(word)] = valence
	}
	for _, word := range lex.Negations {
		s.negations[strings.ToLower(word)] = struct{}{}
	}
	for word, boost := range lex.Intensifiers {
		s.intensifiers[strings.ToLower(word)] = boost
	}
	return s
}

// compound sums the valence of every polarity word, adjusted by the
// immediately preceding token, then normalizes: s / sqrt(s^2 + 15).
func (s *sentimentScorer) compound(text string) float64 {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return 0
	}

	var sum float64
	for i, tok := range tokens {
		valence, ok := s.polarity[tok]
		if !ok {
			continue
		}
		if i > 0 {
			prev := tokens[i-1]
			if _, neg := s.negations[prev]; neg {
				valence *= negationDampening
			} else if boost, ok := s.intensifiers[prev]; ok {
				if valence >= 0 {
					valence += boost
				} else {
					valence -= boost
				}
			}
		}
		sum += valence
	}

	if sum == 0 {
		return 0
	}
	return sum / math.Sqrt(sum*sum+compoundNormalizer)
}

// tokenize lowercases and splits on anything that is not a letter,
// digit, or apostrophe, so contractions like "don't" survive as one
// token.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '\'' {
			return false
		}
		return true
	})
}

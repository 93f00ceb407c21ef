// Package lexicon provides the keyword/entity/weight tables driving text
// feature extraction. Tables are loaded once and treated as immutable for
// the process lifetime.
package lexicon

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Load reads a lexicon from a JSON file and validates it.
func Load(path string) (*domain.Lexicon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read lexicon file: %v", domain.ErrConfig, err)
	}

	var lex domain.Lexicon
	if err := json.Unmarshal(data, &lex); err != nil {
		return nil, fmt.Errorf("%w: failed to parse lexicon file: %v", domain.ErrConfig, err)
	}

	if err := Validate(&lex); err != nil {
		return nil, err
	}

	return &lex, nil
}

// Validate checks a lexicon against the required schema.
func Validate(lex *domain.Lexicon) error {
	if lex == nil {
		return fmt.Errorf("%w: lexicon is required", domain.ErrConfig)
	}

	for _, cat := range domain.RequiredCategories {
		terms, ok := lex.Categories[cat]
		if !ok {
			return fmt.Errorf("%w: lexicon missing required category %q", domain.ErrConfig, cat)
		}
		if len(terms) == 0 {
			return fmt.Errorf("%w: lexicon category %q is empty", domain.ErrConfig, cat)
		}
	}

	for _, cat := range domain.RequiredEntityCategories {
		terms, ok := lex.Entities[cat]
		if !ok {
			return fmt.Errorf("%w: lexicon missing required entity category %q", domain.ErrConfig, cat)
		}
		if len(terms) == 0 {
			return fmt.Errorf("%w: lexicon entity category %q is empty", domain.ErrConfig, cat)
		}
	}

	if len(lex.Polarity) == 0 {
		return fmt.Errorf("%w: lexicon polarity table is empty", domain.ErrConfig)
	}
	for word, valence := range lex.Polarity {
		if valence < -4 || valence > 4 {
			return fmt.Errorf("%w: polarity valence for %q out of range [-4, 4]: %.2f", domain.ErrConfig, word, valence)
		}
	}

	for word, boost := range lex.Intensifiers {
		if boost <= 0 || boost > 1 {
			return fmt.Errorf("%w: intensifier boost for %q out of range (0, 1]: %.2f", domain.ErrConfig, word, boost)
		}
	}

	return nil
}

// Default returns the built-in lexicon.
func Default() *domain.Lexicon {
	return &domain.Lexicon{
		Version: "builtin-1",
		Categories: map[string][]string{
			domain.CategoryUrgency: {
				"urgent", "immediate", "immediately", "now", "quick", "fast",
				"hurry", "asap", "deadline", "expire", "expires", "expired",
				"limited time", "right away", "act now",
			},
			domain.CategoryAuthority: {
				"police", "government", "court", "legal", "official",
				"federal", "irs", "tax", "fbi", "lawsuit", "warrant",
			},
			domain.CategoryFinancialPressure: {
				"owe", "debt", "payment", "overdue", "penalty", "fine",
				"suspended", "blocked", "terminated", "frozen", "restricted",
			},
			domain.CategoryReward: {
				"prize", "winner", "selected", "exclusive", "limited",
				"offer", "free", "bonus", "gift", "congratulations",
				"jackpot", "lottery",
			},
			domain.CategoryPIIRequest: {
				"ssn", "social security", "credit card", "bank account",
				"password", "pin", "dob", "birth date", "routing number",
				"card number", "security code",
			},
			domain.CategoryEmotionalManipulation: {
				"family", "emergency", "help", "crisis", "danger",
				"threat", "consequences", "loved one", "hospital",
			},
			domain.CategoryActionVerb: {
				"verify", "confirm", "update", "validate", "secure",
				"protect", "restore", "reactivate", "click", "download",
			},
		},
		Entities: map[string][]string{
			domain.EntityOrganization: {
				"inc", "corp", "llc", "ltd", "company", "corporation",
				"enterprises", "holdings", "group",
			},
			domain.EntityGovernment: {
				"irs", "fbi", "cia", "nsa", "federal", "government",
				"department", "agency", "treasury", "customs",
			},
			domain.EntityFinancial: {
				"bank", "credit union", "savings", "trust", "investment",
				"securities", "trading", "paypal", "visa", "mastercard",
				"western union",
			},
		},
		Polarity: map[string]float64{
			// negative valences
			"urgent": -1.2, "suspended": -2.1, "blocked": -1.9,
			"terminated": -2.4, "penalty": -1.8, "fine": -1.3,
			"danger": -2.6, "threat": -2.4, "crisis": -2.2,
			"emergency": -1.8, "overdue": -1.4, "fraud": -2.5,
			"scam": -2.7, "problem": -1.5, "fail": -1.9,
			"failed": -1.9, "loss": -1.9, "risk": -1.1,
			"warning": -1.6, "illegal": -2.3, "arrest": -2.6,
			"worried": -1.5, "afraid": -2.0,
			// positive valences
			"free": 1.2, "win": 2.4, "winner": 2.2, "won": 2.4,
			"prize": 1.9, "congratulations": 2.6, "bonus": 1.9,
			"reward": 1.9, "gift": 1.6, "exclusive": 0.9,
			"guaranteed": 1.3, "safe": 1.6, "thanks": 1.9,
			"thank": 1.9, "great": 2.1, "good": 1.9, "love": 2.7,
			"happy": 2.6, "best": 3.2, "amazing": 2.8,
		},
		Negations: []string{
			"not", "no", "never", "dont", "don't", "cannot", "cant",
			"can't", "wont", "won't", "isnt", "isn't", "wasnt", "wasn't",
			"neither", "nor", "without",
		},
		Intensifiers: map[string]float64{
			"very": 0.293, "extremely": 0.4, "absolutely": 0.3,
			"really": 0.25, "so": 0.2, "too": 0.2, "highly": 0.3,
			"incredibly": 0.35, "totally": 0.25, "completely": 0.3,
		},
	}
}

// Package textfeat turns raw text into a structured feature bundle:
// linguistic pattern counts, entity hits, sentiment, readability, and
// surface patterns. Extraction is deterministic (identical input always
// yields an identical bundle) and never fails on text content.
package textfeat

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Surface pattern detectors. Shared across extractor instances.
var (
	urlRE      = regexp.MustCompile(`https?://[^\s<>"]+`)
	phoneRE    = regexp.MustCompile(`\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`)
	emailRE    = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	currencyRE = regexp.MustCompile(`\$\d+(?:,\d{3})*(?:\.\d{2})?`)
	timeRE     = regexp.MustCompile(`(?i)\b(?:within|before|until|by|deadline|expires?)\b`)

	// Capitalized-bigram heuristic for personal names.
	personRE = regexp.MustCompile(`\b[A-Z][a-z]+\s+[A-Z][a-z]+\b`)
)

// Extractor extracts a feature bundle from free text using an immutable
// lexicon. Safe for concurrent use.
type Extractor struct {
	lex        *domain.Lexicon
	categoryRE map[string]*regexp.Regexp
	entityRE   map[string]*regexp.Regexp
	sentiment  *sentimentScorer
}

// New compiles the lexicon into an extractor.
func New(lex *domain.Lexicon) (*Extractor, error) {
	if lex == nil {
		return nil, fmt.Errorf("%w: lexicon is required", domain.ErrConfig)
	}

	e := &Extractor{
		lex:        lex,
		categoryRE: make(map[string]*regexp.Regexp, len(lex.Categories)),
		entityRE:   make(map[string]*regexp.Regexp, len(lex.Entities)),
		sentiment:  newSentimentScorer(lex),
	}

	for cat, terms := range lex.Categories {
		re, err := compileTermSet(terms)
		if err != nil {
			return nil, fmt.Errorf("%w: category %q: %v", domain.ErrConfig, cat, err)
		}
		e.categoryRE[cat] = re
	}

	for cat, terms := range lex.Entities {
		re, err := compileTermSet(terms)
		if err != nil {
			return nil, fmt.Errorf("%w: entity category %q: %v", domain.ErrConfig, cat, err)
		}
		e.entityRE[cat] = re
	}

	return e, nil
}

// Lexicon returns the lexicon the extractor was compiled from.
func (e *Extractor) Lexicon() *domain.Lexicon {
	return e.lex
}

// compileTermSet builds a case-insensitive whole-word alternation for a
// keyword/phrase list. Alternatives are ordered longest-first so that an
// occurrence matches once even when list entries overlap (e.g. "limited"
// and "limited time").
func compileTermSet(terms []string) (*regexp.Regexp, error) {
	ordered := make([]string, len(terms))
	copy(ordered, terms)
	sort.SliceStable(ordered, func(i, j int) bool {
		return len(ordered[i]) > len(ordered[j])
	})

	quoted := make([]string, 0, len(ordered))
	for _, t := range ordered {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		quoted = append(quoted, regexp.QuoteMeta(t))
	}

	return regexp.Compile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
}

// Extract produces the feature bundle for text. Empty or whitespace-only
// input yields all-zero counts and neutral sentiment.
func (e *Extractor) Extract(text string) domain.FeatureBundle {
	bundle := domain.FeatureBundle{
		SentimentLabel: domain.SentimentNeutral,
		EntityHits: map[string]float64{
			domain.EntityOrganization: 0,
			domain.EntityGovernment:   0,
			domain.EntityFinancial:    0,
			domain.EntityPerson:       0,
		},
	}

	if strings.TrimSpace(text) == "" {
		return bundle
	}

	// Pattern counting: occurrences per category.
	bundle.UrgencyCount = e.countCategory(domain.CategoryUrgency, text)
	bundle.AuthorityCount = e.countCategory(domain.CategoryAuthority, text)
	bundle.FinancialPressureCount = e.countCategory(domain.CategoryFinancialPressure, text)
	bundle.RewardCount = e.countCategory(domain.CategoryReward, text)
	bundle.PIIRequestCount = e.countCategory(domain.CategoryPIIRequest, text)
	bundle.EmotionalManipulationCount = e.countCategory(domain.CategoryEmotionalManipulation, text)
	bundle.ActionVerbCount = e.countCategory(domain.CategoryActionVerb, text)

	// Entity recognition: lexicon terms plus the capitalized-bigram
	// heuristic for personal names.
	for cat, re := range e.entityRE {
		bundle.EntityHits[cat] = float64(len(re.FindAllStringIndex(text, -1)))
	}
	bundle.EntityHits[domain.EntityPerson] = float64(len(personRE.FindAllStringIndex(text, -1)))

	// Sentiment from the polarity lexicon.
	compound := e.sentiment.compound(text)
	bundle.SentimentCompound = compound
	bundle.SentimentLabel = labelFor(compound)

	// Readability.
	bundle.FleschScore, bundle.AvgSentenceLength = readability(text)

	// Surface patterns.
	bundle.URLCount = float64(len(urlRE.FindAllStringIndex(text, -1)))
	bundle.PhoneCount = float64(len(phoneRE.FindAllStringIndex(text, -1)))
	bundle.EmailAddressCount = float64(len(emailRE.FindAllStringIndex(text, -1)))
	bundle.CurrencyAmountCount = float64(len(currencyRE.FindAllStringIndex(text, -1)))
	bundle.TimePressureCount = float64(len(timeRE.FindAllStringIndex(text, -1)))

	return bundle
}

func (e *Extractor) countCategory(category, text string) float64 {
	re, ok := e.categoryRE[category]
	if !ok {
		return 0
	}
	return float64(len(re.FindAllStringIndex(text, -1)))
}

// labelFor classifies a compound score. Thresholds follow the VADER
// convention: >= 0.05 positive, <= -0.05 negative, else neutral.
func labelFor(compound float64) domain.SentimentLabel {
	switch {
	case compound >= 0.05:
		return domain.SentimentPositive
	case compound <= -0.05:
		return domain.SentimentNegative
	default:
		return domain.SentimentNeutral
	}
}

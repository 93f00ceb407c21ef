package domain

// Lexicon holds the keyword/entity/weight tables driving text feature
// extraction. Loaded once at startup and treated as immutable for the
// process lifetime, which keeps extraction deterministic.
type Lexicon struct {
	Version string `json:"version"`

	// Categories maps a pattern category (urgency, authority, ...) to its
	// keyword/phrase list.
	Categories map[string][]string `json:"categories"`

	// Entities maps an entity category (organization, government,
	// financial) to its term list.
	Entities map[string][]string `json:"entities"`

	// Polarity maps a word to its sentiment valence (VADER-style scale,
	// roughly [-4, 4]).
	Polarity map[string]float64 `json:"polarity"`

	// Negations invert the valence of the following polarity word.
	Negations []string `json:"negations"`

	// Intensifiers boost the valence of the following polarity word by
	// the given fraction.
	Intensifiers map[string]float64 `json:"intensifiers"`
}

// Pattern categories every lexicon must define.
const (
	CategoryUrgency               = "urgency"
	CategoryAuthority             = "authority"
	CategoryFinancialPressure     = "financial_pressure"
	CategoryReward                = "reward"
	CategoryPIIRequest            = "pii_request"
	CategoryEmotionalManipulation = "emotional_manipulation"
	CategoryActionVerb            = "action_verb"
)

// RequiredCategories lists the pattern categories a lexicon must define.
var RequiredCategories = []string{
	CategoryUrgency,
	CategoryAuthority,
	CategoryFinancialPressure,
	CategoryReward,
	CategoryPIIRequest,
	CategoryEmotionalManipulation,
	CategoryActionVerb,
}

// Entity categories every lexicon must define. Person hits come from a
// capitalized-bigram heuristic, not a term list.
const (
	EntityOrganization = "organization"
	EntityGovernment   = "government"
	EntityFinancial    = "financial"
	EntityPerson       = "person"
)

// RequiredEntityCategories lists the entity categories a lexicon must define.
var RequiredEntityCategories = []string{
	EntityOrganization,
	EntityGovernment,
	EntityFinancial,
}

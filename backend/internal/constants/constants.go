package constants

import "time"

// Persona constants
const (
	// PersonaStalenessWindow is the age after which a persona is regenerated
	PersonaStalenessWindow = 7 * 24 * time.Hour

	// PersonaResponseWindow bounds how many recent responses feed a persona
	PersonaResponseWindow = 20

	// TraitVisualizationSize is the number of traits shown in a persona chart
	TraitVisualizationSize = 8
)

// Matching constants
const (
	// DefaultMatchLimit is the number of matches generateMatches aims for
	DefaultMatchLimit = 5

	// MaxMatchLimit caps the limit a single generate or compatibility call accepts
	MaxMatchLimit = 100

	// CandidateBufferFactor over-fetches candidates so deduplication does not
	// under-fill the requested limit
	CandidateBufferFactor = 2

	// MinViableCompatibility is the strict lower bound for a new match
	MinViableCompatibility = 0.6

	// DefaultMatchWorkers bounds concurrent match creation per call
	DefaultMatchWorkers = 4

	// FewMatchesThreshold triggers the "add more reflections" suggestion
	FewMatchesThreshold = 3
)

// Suggestion texts returned by SuggestNextActions
const (
	SuggestionReviewPending  = "You have %d new match(es) waiting for review"
	SuggestionContinueActive = "Keep the conversation going with your %d active match(es)"
	SuggestionAddReflections = "Answer a few more reflection questions to improve your matches"
	SuggestionRefreshPersona = "Your persona is out of date; refresh it to get better matches"
	SuggestionCreatePersona  = "Answer some reflection questions so we can build your persona"
)

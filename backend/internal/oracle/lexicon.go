package oracle

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"matchmaker/backend/internal/domain"
	apperrors "matchmaker/backend/pkg/errors"
)

// Vocabulary is the fixed set of traits the lexicon deriver scores, in display order
var Vocabulary = []string{
	"openness",
	"conscientiousness",
	"extraversion",
	"agreeableness",
	"emotional_stability",
	"curiosity",
	"empathy",
	"humor",
	"ambition",
	"adventurousness",
}

var lexicon = map[string][]string{
	"openness":            {"art", "music", "idea", "ideas", "creative", "imagine", "culture", "novel", "different", "new"},
	"conscientiousness":   {"plan", "plans", "organized", "schedule", "goal", "goals", "routine", "careful", "discipline", "finish"},
	"extraversion":        {"party", "parties", "friends", "people", "social", "talk", "crowd", "meet", "energy", "outgoing"},
	"agreeableness":       {"kind", "help", "helping", "share", "trust", "together", "support", "gentle", "patient", "forgive"},
	"emotional_stability": {"calm", "relaxed", "balance", "steady", "peace", "secure", "resilient", "cope", "grounded", "stable"},
	"curiosity":           {"learn", "learning", "why", "question", "questions", "explore", "read", "reading", "science", "wonder"},
	"empathy":             {"feel", "feelings", "listen", "understand", "care", "caring", "compassion", "others", "emotion", "heart"},
	"humor":               {"funny", "laugh", "laughing", "joke", "jokes", "silly", "humor", "fun", "comedy", "witty"},
	"ambition":            {"career", "success", "achieve", "win", "build", "lead", "growth", "future", "work", "driven"},
	"adventurousness":     {"travel", "adventure", "hike", "hiking", "risk", "outdoors", "explore", "trip", "climb", "spontaneous"},
}

const (
	lexiconBaseScore  = 0.2
	lexiconSpread     = 0.8
	maxLexiconInsight = 3
)

// LexiconDeriver is a deterministic keyword-count deriver. It needs no network
// and is what the in-memory backend and tests use.
type LexiconDeriver struct{}

// NewLexiconDeriver creates a lexicon deriver
func NewLexiconDeriver() *LexiconDeriver {
	return &LexiconDeriver{}
}

// DerivePersona scores every vocabulary trait from keyword hits across responses.
// Scores are base + spread * hits/maxHits, so the strongest trait scores 1.0.
func (d *LexiconDeriver) DerivePersona(_ context.Context, userID string, responses []domain.ResponseRecord) (*domain.Persona, error) {
	if len(responses) == 0 {
		return nil, apperrors.NewEmptyResponseHistory(userID)
	}

	hits := make(map[string]int, len(Vocabulary))
	maxHits := 0
	words := 0
	for _, r := range responses {
		for _, token := range tokenize(r.Content) {
			words++
			for _, trait := range Vocabulary {
				if containsWord(lexicon[trait], token) {
					hits[trait]++
					if hits[trait] > maxHits {
						maxHits = hits[trait]
					}
				}
			}
		}
	}

	traits := make(map[string]float64, len(Vocabulary))
	for _, trait := range Vocabulary {
		score := lexiconBaseScore
		if maxHits > 0 {
			score += lexiconSpread * float64(hits[trait]) / float64(maxHits)
		}
		traits[trait] = score
	}

	persona := &domain.Persona{
		UserID: userID,
		Traits: traits,
	}

	for i, top := range persona.TopTraits(maxLexiconInsight) {
		if hits[top.Name] == 0 {
			break
		}
		if i == 0 {
			persona.Insights = append(persona.Insights, fmt.Sprintf("Strongest signal: %s", humanize(top.Name)))
			continue
		}
		persona.Insights = append(persona.Insights, fmt.Sprintf("Also shows %s", humanize(top.Name)))
	}
	persona.Insights = append(persona.Insights,
		fmt.Sprintf("Based on %d reflection(s), %d word(s)", len(responses), words))

	return persona, nil
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
}

func containsWord(words []string, token string) bool {
	for _, w := range words {
		if w == token {
			return true
		}
	}
	return false
}

func humanize(trait string) string {
	return strings.ReplaceAll(trait, "_", " ")
}

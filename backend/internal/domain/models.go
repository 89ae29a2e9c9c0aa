package domain

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Persona is the derived trait/insight snapshot for a user. It is replaced
// wholesale on every refresh and never partially mutated.
type Persona struct {
	UserID      string             `json:"user_id"`
	Traits      map[string]float64 `json:"traits"`   // trait name -> normalized score in [0,1]
	Insights    []string           `json:"insights"` // short, ordered observations
	LastUpdated time.Time          `json:"last_updated"`
}

// Validate checks the persona invariants: a user id and a non-empty set of finite traits
func (p *Persona) Validate() error {
	if p.UserID == "" {
		return ErrInvalidPersona{Field: "user_id", Reason: "cannot be empty"}
	}
	if len(p.Traits) == 0 {
		return ErrInvalidPersona{Field: "traits", Reason: "cannot be empty"}
	}
	for name, score := range p.Traits {
		if name == "" {
			return ErrInvalidPersona{Field: "traits", Reason: "trait name cannot be empty"}
		}
		if math.IsNaN(score) || math.IsInf(score, 0) {
			return ErrInvalidPersona{Field: "traits." + name, Reason: "must be finite"}
		}
	}
	return nil
}

// IsStale reports whether the persona is at least window old at now
func (p *Persona) IsStale(now time.Time, window time.Duration) bool {
	return now.Sub(p.LastUpdated) >= window
}

// TraitScore is a single named trait score
type TraitScore struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// TopTraits returns up to n traits ordered by score descending, name ascending
func (p *Persona) TopTraits(n int) []TraitScore {
	traits := make([]TraitScore, 0, len(p.Traits))
	for name, score := range p.Traits {
		traits = append(traits, TraitScore{Name: name, Score: score})
	}
	sort.Slice(traits, func(i, j int) bool {
		if traits[i].Score != traits[j].Score {
			return traits[i].Score > traits[j].Score
		}
		return traits[i].Name < traits[j].Name
	})
	if n >= 0 && len(traits) > n {
		traits = traits[:n]
	}
	return traits
}

// ResponseRecord is one answer a user gave to a question or reflection prompt
type ResponseRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Prompt    string    `json:"prompt,omitempty"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Candidate is a prospective match surfaced by a compatibility query. Not persisted.
type Candidate struct {
	UserID        string  `json:"user_id"`
	Compatibility float64 `json:"compatibility"`
}

// SortCandidates orders candidates by compatibility descending, user id ascending
func SortCandidates(candidates []Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Compatibility != candidates[j].Compatibility {
			return candidates[i].Compatibility > candidates[j].Compatibility
		}
		return candidates[i].UserID < candidates[j].UserID
	})
}

// MatchStatus is the lifecycle state of a match
type MatchStatus string

const (
	MatchStatusPending MatchStatus = "pending"
	MatchStatusActive  MatchStatus = "active"
	MatchStatusEnded   MatchStatus = "ended"
)

// ParseMatchStatus validates a status string
func ParseMatchStatus(s string) (MatchStatus, error) {
	switch MatchStatus(s) {
	case MatchStatusPending, MatchStatusActive, MatchStatusEnded:
		return MatchStatus(s), nil
	}
	return "", fmt.Errorf("unknown match status: %q", s)
}

// CanTransition reports whether from -> to is a legal lifecycle move.
// Only pending -> active and active -> ended are allowed.
func CanTransition(from, to MatchStatus) bool {
	switch from {
	case MatchStatusPending:
		return to == MatchStatusActive
	case MatchStatusActive:
		return to == MatchStatusEnded
	}
	return false
}

// Match is the durable record of two users being matched
type Match struct {
	ID            string      `json:"id"`
	UserA         string      `json:"user_a"`
	UserB         string      `json:"user_b"`
	Compatibility float64     `json:"compatibility"`
	Status        MatchStatus `json:"status"`
	CreatedAt     time.Time   `json:"created_at"`
}

// Involves reports whether userID is either side of the pair
func (m *Match) Involves(userID string) bool {
	return m.UserA == userID || m.UserB == userID
}

// Partner returns the other side of the pair for userID
func (m *Match) Partner(userID string) string {
	if m.UserA == userID {
		return m.UserB
	}
	return m.UserA
}

// Pair returns the normalized unordered pair key for the match
func (m *Match) Pair() PairKey {
	return NewPairKey(m.UserA, m.UserB)
}

// PairKey identifies an unordered pair of users
type PairKey struct {
	Low  string
	High string
}

// NewPairKey normalizes a pair so {a,b} and {b,a} produce the same key
func NewPairKey(a, b string) PairKey {
	if b < a {
		a, b = b, a
	}
	return PairKey{Low: a, High: b}
}

func (k PairKey) String() string {
	return k.Low + "|" + k.High
}

// SortMatchesNewestFirst orders matches by creation time descending, id ascending
func SortMatchesNewestFirst(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		if !matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].CreatedAt.After(matches[j].CreatedAt)
		}
		return matches[i].ID < matches[j].ID
	})
}

// MatchDetails is a match as seen from one participant
type MatchDetails struct {
	Match          Match    `json:"match"`
	PartnerID      string   `json:"partner_id"`
	PartnerPersona *Persona `json:"partner_persona,omitempty"`
}

// MatchingStats summarises a user's matches
type MatchingStats struct {
	Total            int     `json:"total"`
	Active           int     `json:"active"`
	AvgCompatibility float64 `json:"avg_compatibility"`
	TopCompatibility float64 `json:"top_compatibility"`
}

// Errors

type ErrInvalidPersona struct {
	Field  string
	Reason string
}

func (e ErrInvalidPersona) Error() string {
	return fmt.Sprintf("invalid persona: %s - %s", e.Field, e.Reason)
}

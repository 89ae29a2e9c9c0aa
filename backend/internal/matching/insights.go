package matching

import (
	"context"
	"fmt"

	"matchmaker/backend/internal/constants"
	"matchmaker/backend/internal/domain"
)

// GetMatchingStats summarises the user's matches. A user with no matches gets
// all zeros.
func (e *Engine) GetMatchingStats(ctx context.Context, userID string) (*domain.MatchingStats, error) {
	matches, err := e.GetMatches(ctx, userID, nil)
	if err != nil {
		return nil, err
	}

	stats := &domain.MatchingStats{Total: len(matches)}
	if len(matches) == 0 {
		return stats, nil
	}

	sum := 0.0
	for _, m := range matches {
		if m.Status == domain.MatchStatusActive {
			stats.Active++
		}
		sum += m.Compatibility
		if m.Compatibility > stats.TopCompatibility {
			stats.TopCompatibility = m.Compatibility
		}
	}
	stats.AvgCompatibility = sum / float64(len(matches))
	return stats, nil
}

// SuggestNextActions returns advisory messages in a fixed order: pending
// matches, active matches, too few matches, then persona freshness
func (e *Engine) SuggestNextActions(ctx context.Context, userID string) ([]string, error) {
	matches, err := e.GetMatches(ctx, userID, nil)
	if err != nil {
		return nil, err
	}

	pending, active := 0, 0
	for _, m := range matches {
		switch m.Status {
		case domain.MatchStatusPending:
			pending++
		case domain.MatchStatusActive:
			active++
		}
	}

	suggestions := []string{}
	if pending > 0 {
		suggestions = append(suggestions, fmt.Sprintf(constants.SuggestionReviewPending, pending))
	}
	if active > 0 {
		suggestions = append(suggestions, fmt.Sprintf(constants.SuggestionContinueActive, active))
	}
	if len(matches) < constants.FewMatchesThreshold {
		suggestions = append(suggestions, constants.SuggestionAddReflections)
	}

	persona, err := e.personas.GetPersona(ctx, userID)
	if err != nil {
		return nil, ledgerError("get_persona", err)
	}
	if persona == nil {
		suggestions = append(suggestions, constants.SuggestionCreatePersona)
		return suggestions, nil
	}
	stale, err := e.personas.ShouldUpdatePersona(ctx, userID)
	if err != nil {
		return nil, ledgerError("get_persona", err)
	}
	if stale {
		suggestions = append(suggestions, constants.SuggestionRefreshPersona)
	}
	return suggestions, nil
}

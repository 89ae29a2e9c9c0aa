package matching

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"matchmaker/backend/internal/domain"
	apperrors "matchmaker/backend/pkg/errors"
)

// GetMatches returns the user's matches newest first, optionally filtered by
// status. Each pair appears once whichever side the user is on.
func (e *Engine) GetMatches(ctx context.Context, userID string, status *domain.MatchStatus) ([]domain.Match, error) {
	all, err := e.ledger.MatchesForUser(ctx, userID)
	if err != nil {
		return nil, ledgerError("matches_for_user", err)
	}

	seen := make(map[domain.PairKey]struct{}, len(all))
	matches := make([]domain.Match, 0, len(all))
	for _, m := range all {
		if !m.Involves(userID) {
			continue
		}
		if status != nil && m.Status != *status {
			continue
		}
		key := m.Pair()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		matches = append(matches, m)
	}
	domain.SortMatchesNewestFirst(matches)
	return matches, nil
}

// GetMatchDetails returns the match as seen by viewerID, with the partner's
// persona when one exists. It fails with ErrMatchNotFound when the match does
// not exist or the viewer is not part of it.
func (e *Engine) GetMatchDetails(ctx context.Context, matchID, viewerID string) (*domain.MatchDetails, error) {
	m, err := e.ledger.GetMatch(ctx, matchID)
	if err != nil {
		return nil, ledgerError("get_match", err)
	}
	if m == nil || !m.Involves(viewerID) {
		return nil, apperrors.NewMatchNotFound(matchID)
	}

	partnerID := m.Partner(viewerID)
	partner, err := e.personas.GetPersona(ctx, partnerID)
	if err != nil {
		// The match is still useful without the partner's persona
		e.logger.Warn("Failed to load partner persona",
			zap.String("match_id", matchID),
			zap.String("partner_id", partnerID),
			zap.Error(err),
		)
		partner = nil
	}

	return &domain.MatchDetails{
		Match:          *m,
		PartnerID:      partnerID,
		PartnerPersona: partner,
	}, nil
}

// UpdateMatchStatus moves a match along pending -> active -> ended. Any other
// transition fails with ErrInvalidStatusTransition and writes nothing. The
// ledger is updated first; the graph mirror follows on a best-effort basis.
func (e *Engine) UpdateMatchStatus(ctx context.Context, matchID string, newStatus domain.MatchStatus) (*domain.Match, error) {
	ctx, span := tracer.Start(ctx, "matching.UpdateMatchStatus",
		trace.WithAttributes(
			attribute.String("match_id", matchID),
			attribute.String("status", string(newStatus)),
		),
	)
	defer span.End()

	m, err := e.ledger.GetMatch(ctx, matchID)
	if err != nil {
		return nil, spanError(span, ledgerError("get_match", err))
	}
	if m == nil {
		return nil, spanError(span, apperrors.NewMatchNotFound(matchID))
	}
	if !domain.CanTransition(m.Status, newStatus) {
		return nil, spanError(span, apperrors.NewInvalidStatusTransition(matchID, string(m.Status), string(newStatus)))
	}

	applied, err := e.ledger.TransitionStatus(ctx, matchID, m.Status, newStatus)
	if err != nil {
		return nil, spanError(span, ledgerError("transition_status", err))
	}
	if !applied {
		// Someone else moved the match between our read and the write
		current := m.Status
		if latest, err := e.ledger.GetMatch(ctx, matchID); err == nil && latest != nil {
			current = latest.Status
		}
		return nil, spanError(span, apperrors.NewInvalidStatusTransition(matchID, string(current), string(newStatus)))
	}

	previous := m.Status
	m.Status = newStatus
	e.metrics.RecordStatusTransition(string(newStatus))

	if err := e.graph.MirrorStatus(ctx, matchID, newStatus); err != nil {
		e.mirrorFailed(ctx, "mirror_status", matchID, err)
	}

	e.logger.Info("Match status updated",
		zap.String("match_id", matchID),
		zap.String("from", string(previous)),
		zap.String("to", string(newStatus)),
	)
	return m, nil
}

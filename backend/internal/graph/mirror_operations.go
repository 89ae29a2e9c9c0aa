package graph

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"matchmaker/backend/internal/domain"
	apperrors "matchmaker/backend/pkg/errors"
)

// ============================================================================
// Match Mirror Operations
// ============================================================================

// MirrorMatch writes the ledger's match as a MATCHED_WITH edge between the pair.
// The edge is keyed by match id, and its status only ever moves forward, so
// replaying an older snapshot is harmless.
func (r *Repository) MirrorMatch(ctx context.Context, match domain.Match) error {
	pair := match.Pair()

	query := `
		MERGE (a:User {id: $userLow})
		MERGE (b:User {id: $userHigh})
		MERGE (a)-[r:MATCHED_WITH {match_id: $matchID}]->(b)
		ON CREATE SET r.created_at = datetime($createdAt)
		SET r.compatibility = $compatibility,
		    r.mirrored_at = datetime()
		WITH r
		WHERE coalesce(r.status_rank, 0) <= $statusRank
		SET r.status = $status, r.status_rank = $statusRank
		RETURN r.match_id as match_id
	`

	_, err := r.write(ctx, "mirror_match", query, map[string]interface{}{
		"userLow":       pair.Low,
		"userHigh":      pair.High,
		"matchID":       match.ID,
		"compatibility": match.Compatibility,
		"status":        string(match.Status),
		"statusRank":    statusRank(match.Status),
		"createdAt":     match.CreatedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return apperrors.NewMirrorWriteFailure("mirror_match", match.ID, err)
	}

	r.logger.Debug("Match mirrored",
		zap.String("match_id", match.ID),
		zap.String("status", string(match.Status)),
	)
	return nil
}

// MirrorStatus updates the status on an existing mirror edge. A missing edge is
// reported as a failure so the caller can queue a full re-mirror.
func (r *Repository) MirrorStatus(ctx context.Context, matchID string, status domain.MatchStatus) error {
	query := `
		OPTIONAL MATCH ()-[r:MATCHED_WITH {match_id: $matchID}]->()
		WITH r
		FOREACH (_ IN CASE WHEN r IS NOT NULL AND coalesce(r.status_rank, 0) <= $statusRank THEN [1] ELSE [] END |
		    SET r.status = $status, r.status_rank = $statusRank, r.mirrored_at = datetime())
		RETURN count(r) as edges
	`

	records, err := r.write(ctx, "mirror_status", query, map[string]interface{}{
		"matchID":    matchID,
		"status":     string(status),
		"statusRank": statusRank(status),
	})
	if err != nil {
		return apperrors.NewMirrorWriteFailure("mirror_status", matchID, err)
	}
	if len(records) == 0 || getInt64FromRecord(records[0], "edges") == 0 {
		return apperrors.NewMirrorWriteFailure("mirror_status", matchID, fmt.Errorf("mirror edge not found"))
	}

	r.logger.Debug("Match status mirrored",
		zap.String("match_id", matchID),
		zap.String("status", string(status)),
	)
	return nil
}

package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"matchmaker/backend/internal/domain"
	apperrors "matchmaker/backend/pkg/errors"
)

const matchColumns = `id, user_a, user_b, compatibility, status, created_at`

func scanMatch(row pgx.Row) (*domain.Match, error) {
	m := &domain.Match{}
	var id uuid.UUID
	var status string
	if err := row.Scan(&id, &m.UserA, &m.UserB, &m.Compatibility, &status, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.ID = id.String()
	m.Status = domain.MatchStatus(status)
	return m, nil
}

// InsertMatch writes a pending match for the pair. A second insert for the same
// unordered pair fails with ErrLedgerWriteConflict via the matches_pair_unique index.
func (s *Store) InsertMatch(ctx context.Context, userA, userB string, compatibility float64) (*domain.Match, error) {
	row := s.db.QueryRow(ctx,
		`INSERT INTO matches (id, user_a, user_b, compatibility, status)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+matchColumns,
		uuid.New(), userA, userB, compatibility, string(domain.MatchStatusPending),
	)

	m, err := scanMatch(row)
	if err != nil {
		if isUniqueViolation(err, pairConstraint) {
			return nil, apperrors.NewLedgerWriteConflict(userA, userB, err)
		}
		return nil, unavailable("insert_match", err)
	}

	s.logger.Info("Match recorded",
		zap.String("match_id", m.ID),
		zap.String("user_a", userA),
		zap.String("user_b", userB),
		zap.Float64("compatibility", compatibility),
	)
	return m, nil
}

// MatchesForUser returns every match the user is part of, newest first
func (s *Store) MatchesForUser(ctx context.Context, userID string) ([]domain.Match, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+matchColumns+`
		 FROM matches WHERE user_a = $1 OR user_b = $1
		 ORDER BY created_at DESC, id ASC`,
		userID,
	)
	if err != nil {
		return nil, unavailable("matches_for_user", err)
	}
	defer rows.Close()

	var matches []domain.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, unavailable("matches_for_user", err)
		}
		matches = append(matches, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("matches_for_user", err)
	}
	return matches, nil
}

// GetMatch returns the match, or nil when the id is unknown
func (s *Store) GetMatch(ctx context.Context, matchID string) (*domain.Match, error) {
	id, err := uuid.Parse(matchID)
	if err != nil {
		// Not a ledger id
		return nil, nil
	}

	m, err := scanMatch(s.db.QueryRow(ctx,
		`SELECT `+matchColumns+` FROM matches WHERE id = $1`,
		id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("get_match", err)
	}
	return m, nil
}

// TransitionStatus is a compare-and-set on status, so two concurrent callers
// cannot both apply a transition from the same state
func (s *Store) TransitionStatus(ctx context.Context, matchID string, from, to domain.MatchStatus) (bool, error) {
	id, err := uuid.Parse(matchID)
	if err != nil {
		return false, nil
	}

	tag, err := s.db.Exec(ctx,
		`UPDATE matches SET status = $3, updated_at = now()
		 WHERE id = $1 AND status = $2`,
		id, string(from), string(to),
	)
	if err != nil {
		return false, unavailable("transition_status", err)
	}
	return tag.RowsAffected() == 1, nil
}

package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"matchmaker/backend/internal/domain"
)

// RecentResponses returns the user's newest responses, at most limit of them
func (s *Store) RecentResponses(ctx context.Context, userID string, limit int) ([]domain.ResponseRecord, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, user_id, prompt, content, created_at
		 FROM responses WHERE user_id = $1
		 ORDER BY created_at DESC, id ASC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, unavailable("recent_responses", err)
	}
	defer rows.Close()

	var records []domain.ResponseRecord
	for rows.Next() {
		var r domain.ResponseRecord
		var id uuid.UUID
		if err := rows.Scan(&id, &r.UserID, &r.Prompt, &r.Content, &r.CreatedAt); err != nil {
			return nil, unavailable("recent_responses", err)
		}
		r.ID = id.String()
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("recent_responses", err)
	}
	return records, nil
}

// AddResponse stores a response record, assigning its id and timestamp if unset
func (s *Store) AddResponse(ctx context.Context, record domain.ResponseRecord) (*domain.ResponseRecord, error) {
	id := uuid.New()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(ctx,
		`INSERT INTO responses (id, user_id, prompt, content, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		id, record.UserID, record.Prompt, record.Content, record.CreatedAt,
	)
	if err != nil {
		return nil, unavailable("add_response", err)
	}

	record.ID = id.String()
	return &record, nil
}

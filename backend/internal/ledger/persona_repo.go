package ledger

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"matchmaker/backend/internal/domain"
)

// GetPersona returns the stored persona, or nil when the user has none
func (s *Store) GetPersona(ctx context.Context, userID string) (*domain.Persona, error) {
	p := &domain.Persona{}
	err := s.db.QueryRow(ctx,
		`SELECT user_id, traits, insights, last_updated
		 FROM personas WHERE user_id = $1`,
		userID,
	).Scan(&p.UserID, &p.Traits, &p.Insights, &p.LastUpdated)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("get_persona", err)
	}
	return p, nil
}

// PutPersona overwrites the user's persona in a single statement
func (s *Store) PutPersona(ctx context.Context, persona domain.Persona) error {
	insights := persona.Insights
	if insights == nil {
		insights = []string{}
	}

	_, err := s.db.Exec(ctx,
		`INSERT INTO personas (user_id, traits, insights, last_updated)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id) DO UPDATE
		 SET traits = EXCLUDED.traits,
		     insights = EXCLUDED.insights,
		     last_updated = EXCLUDED.last_updated`,
		persona.UserID, persona.Traits, insights, persona.LastUpdated,
	)
	if err != nil {
		return unavailable("put_persona", err)
	}

	s.logger.Debug("Persona stored",
		zap.String("user_id", persona.UserID),
		zap.Int("traits", len(persona.Traits)),
	)
	return nil
}

// ListPersonas returns every stored persona ordered by user id
func (s *Store) ListPersonas(ctx context.Context) ([]domain.Persona, error) {
	rows, err := s.db.Query(ctx,
		`SELECT user_id, traits, insights, last_updated
		 FROM personas ORDER BY user_id ASC`,
	)
	if err != nil {
		return nil, unavailable("list_personas", err)
	}
	defer rows.Close()

	var personas []domain.Persona
	for rows.Next() {
		var p domain.Persona
		if err := rows.Scan(&p.UserID, &p.Traits, &p.Insights, &p.LastUpdated); err != nil {
			return nil, unavailable("list_personas", err)
		}
		personas = append(personas, p)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list_personas", err)
	}
	return personas, nil
}

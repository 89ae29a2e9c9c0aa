// Package oracle derives personas from response history and scores persona
// pairs for compatibility.
package oracle

import (
	"context"

	"matchmaker/backend/internal/domain"
	apperrors "matchmaker/backend/pkg/errors"
)

// Deriver turns a user's response history into a persona snapshot
type Deriver interface {
	DerivePersona(ctx context.Context, userID string, responses []domain.ResponseRecord) (*domain.Persona, error)
}

// Oracle is the compatibility boundary used by the persona manager and the
// in-memory graph index
type Oracle struct {
	deriver Deriver
}

// New creates an oracle around a deriver. A nil deriver uses the lexicon deriver.
func New(deriver Deriver) *Oracle {
	if deriver == nil {
		deriver = NewLexiconDeriver()
	}
	return &Oracle{deriver: deriver}
}

// DerivePersona builds a persona from responses. It fails with
// ErrEmptyResponseHistory when there is nothing to derive from and with
// ErrOracleFailed when the deriver output violates persona invariants.
func (o *Oracle) DerivePersona(ctx context.Context, userID string, responses []domain.ResponseRecord) (*domain.Persona, error) {
	if len(responses) == 0 {
		return nil, apperrors.NewEmptyResponseHistory(userID)
	}

	persona, err := o.deriver.DerivePersona(ctx, userID, responses)
	if err != nil {
		if apperrors.IsEmptyResponseHistory(err) {
			return nil, err
		}
		return nil, apperrors.NewOracleFailed("derive_persona", err)
	}

	persona.UserID = userID
	for name, score := range persona.Traits {
		persona.Traits[name] = clamp01(score)
	}
	if err := persona.Validate(); err != nil {
		return nil, apperrors.NewOracleFailed("derive_persona", err)
	}
	return persona, nil
}

// Score returns the symmetric compatibility of two personas in [0,1]
func (o *Oracle) Score(a, b *domain.Persona) float64 {
	return Score(a, b)
}

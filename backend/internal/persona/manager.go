// Package persona keeps each user's persona current and answers
// compatibility lookups over stored personas.
package persona

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"matchmaker/backend/internal/backend"
	"matchmaker/backend/internal/constants"
	"matchmaker/backend/internal/domain"
	"matchmaker/backend/internal/metrics"
	apperrors "matchmaker/backend/pkg/errors"
	"matchmaker/backend/pkg/logger"
)

var tracer = otel.Tracer("matchmaker/persona")

// Oracle derives personas and scores persona pairs
type Oracle interface {
	DerivePersona(ctx context.Context, userID string, responses []domain.ResponseRecord) (*domain.Persona, error)
	Score(a, b *domain.Persona) float64
}

// Config holds the manager's dependencies
type Config struct {
	Personas  backend.PersonaStore
	Responses backend.ResponseStore
	Oracle    Oracle
	Metrics   metrics.Recorder

	// Clock defaults to time.Now
	Clock func() time.Time
	// Staleness defaults to constants.PersonaStalenessWindow
	Staleness time.Duration
}

// Manager decides when personas are stale and regenerates them
type Manager struct {
	personas  backend.PersonaStore
	responses backend.ResponseStore
	oracle    Oracle
	metrics   metrics.Recorder
	clock     func() time.Time
	staleness time.Duration
	logger    *zap.Logger
}

// NewManager creates a persona manager
func NewManager(cfg Config) *Manager {
	m := &Manager{
		personas:  cfg.Personas,
		responses: cfg.Responses,
		oracle:    cfg.Oracle,
		metrics:   cfg.Metrics,
		clock:     cfg.Clock,
		staleness: cfg.Staleness,
		logger:    logger.Component("persona"),
	}
	if m.clock == nil {
		m.clock = time.Now
	}
	if m.staleness <= 0 {
		m.staleness = constants.PersonaStalenessWindow
	}
	if m.metrics == nil {
		m.metrics = metrics.Nop{}
	}
	return m
}

// GetPersona returns the stored persona, or nil when the user has none
func (m *Manager) GetPersona(ctx context.Context, userID string) (*domain.Persona, error) {
	return m.personas.GetPersona(ctx, userID)
}

// ShouldUpdatePersona reports whether the persona is absent or at least the
// staleness window old
func (m *Manager) ShouldUpdatePersona(ctx context.Context, userID string) (bool, error) {
	p, err := m.personas.GetPersona(ctx, userID)
	if err != nil {
		return false, err
	}
	if p == nil {
		return true, nil
	}
	return p.IsStale(m.clock(), m.staleness), nil
}

// UpdatePersona derives a new persona from the user's most recent responses
// and overwrites the stored snapshot. It fails with ErrEmptyResponseHistory
// when the user has never responded.
func (m *Manager) UpdatePersona(ctx context.Context, userID string) (*domain.Persona, error) {
	ctx, span := tracer.Start(ctx, "persona.Update",
		trace.WithAttributes(attribute.String("user_id", userID)),
	)
	defer span.End()
	start := time.Now()

	responses, err := m.responses.RecentResponses(ctx, userID, constants.PersonaResponseWindow)
	if err != nil {
		m.fail(span, "responses_unavailable", start, err)
		return nil, err
	}
	if len(responses) == 0 {
		err := apperrors.NewEmptyResponseHistory(userID)
		m.fail(span, "empty_history", start, err)
		return nil, err
	}

	persona, err := m.oracle.DerivePersona(ctx, userID, responses)
	if err != nil {
		m.fail(span, "oracle_failed", start, err)
		return nil, err
	}
	persona.UserID = userID
	persona.LastUpdated = m.clock().UTC()

	if err := m.personas.PutPersona(ctx, *persona); err != nil {
		m.fail(span, "store_failed", start, err)
		return nil, err
	}

	m.metrics.RecordPersonaRefresh("updated", time.Since(start))
	span.SetAttributes(
		attribute.Int("responses", len(responses)),
		attribute.Int("traits", len(persona.Traits)),
	)
	m.logger.Info("Persona updated",
		zap.String("user_id", userID),
		zap.Int("responses", len(responses)),
		zap.Int("traits", len(persona.Traits)),
	)
	return persona, nil
}

func (m *Manager) fail(span trace.Span, outcome string, start time.Time, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, outcome)
	m.metrics.RecordPersonaRefresh(outcome, time.Since(start))
}

// FindCompatibleUsers scores the user's persona against every other stored
// persona and returns the best limit candidates, compatibility descending and
// user id ascending on ties
func (m *Manager) FindCompatibleUsers(ctx context.Context, userID string, limit int) ([]domain.Candidate, error) {
	ctx, span := tracer.Start(ctx, "persona.FindCompatibleUsers",
		trace.WithAttributes(
			attribute.String("user_id", userID),
			attribute.Int("limit", limit),
		),
	)
	defer span.End()

	self, err := m.personas.GetPersona(ctx, userID)
	if err != nil {
		return nil, err
	}
	if self == nil {
		return nil, apperrors.NewPersonaNotFound(userID)
	}

	others, err := m.personas.ListPersonas(ctx)
	if err != nil {
		return nil, err
	}

	candidates := make([]domain.Candidate, 0, len(others))
	for i := range others {
		other := &others[i]
		if other.UserID == userID {
			continue
		}
		candidates = append(candidates, domain.Candidate{
			UserID:        other.UserID,
			Compatibility: m.oracle.Score(self, other),
		})
	}
	domain.SortCandidates(candidates)

	limit = max(0, min(limit, constants.MaxMatchLimit))
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	span.SetAttributes(attribute.Int("candidates", len(candidates)))
	return candidates, nil
}

// GetTraitVisualization returns the user's top traits, score descending, or
// nil when the user has no persona
func (m *Manager) GetTraitVisualization(ctx context.Context, userID string) ([]domain.TraitScore, error) {
	p, err := m.personas.GetPersona(ctx, userID)
	if err != nil || p == nil {
		return nil, err
	}
	return p.TopTraits(constants.TraitVisualizationSize), nil
}

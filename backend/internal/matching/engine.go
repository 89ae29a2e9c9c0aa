// Package matching generates matches for a user and manages their lifecycle.
// The match ledger is the store of record; the graph index only mirrors it.
package matching

import (
	"context"
	stderrors "errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"matchmaker/backend/internal/backend"
	"matchmaker/backend/internal/constants"
	"matchmaker/backend/internal/domain"
	"matchmaker/backend/internal/metrics"
	"matchmaker/backend/internal/reconcile"
	apperrors "matchmaker/backend/pkg/errors"
	"matchmaker/backend/pkg/logger"
)

var tracer = otel.Tracer("matchmaker/matching")

// Candidate sources reported in GenerateResult
const (
	SourceGraph   = "graph"
	SourcePersona = "persona_scan"
)

// PersonaService is the part of the persona manager the engine uses
type PersonaService interface {
	GetPersona(ctx context.Context, userID string) (*domain.Persona, error)
	ShouldUpdatePersona(ctx context.Context, userID string) (bool, error)
	UpdatePersona(ctx context.Context, userID string) (*domain.Persona, error)
	FindCompatibleUsers(ctx context.Context, userID string, limit int) ([]domain.Candidate, error)
}

// MirrorQueue receives mirror writes that failed, for later repair
type MirrorQueue interface {
	Enqueue(ctx context.Context, entry reconcile.Entry) error
}

// Config holds the engine's dependencies and tunables
type Config struct {
	Personas PersonaService
	Ledger   backend.MatchLedger
	Graph    backend.GraphIndex
	Outbox   MirrorQueue
	Metrics  metrics.Recorder

	// MinCompatibility is a strict lower bound; nil means constants.MinViableCompatibility
	MinCompatibility *float64
	// DefaultLimit defaults to constants.DefaultMatchLimit
	DefaultLimit int
	// Workers bounds concurrent match creation; defaults to constants.DefaultMatchWorkers
	Workers int
}

// Engine orchestrates candidate discovery, match creation and status changes
type Engine struct {
	personas     PersonaService
	ledger       backend.MatchLedger
	graph        backend.GraphIndex
	outbox       MirrorQueue
	metrics      metrics.Recorder
	minCompat    float64
	defaultLimit int
	workers      int
	logger       *zap.Logger
}

// NewEngine creates a matching engine
func NewEngine(cfg Config) *Engine {
	e := &Engine{
		personas:     cfg.Personas,
		ledger:       cfg.Ledger,
		graph:        cfg.Graph,
		outbox:       cfg.Outbox,
		metrics:      cfg.Metrics,
		minCompat:    constants.MinViableCompatibility,
		defaultLimit: cfg.DefaultLimit,
		workers:      cfg.Workers,
		logger:       logger.Component("matching"),
	}
	if cfg.MinCompatibility != nil {
		e.minCompat = *cfg.MinCompatibility
	}
	if e.defaultLimit <= 0 {
		e.defaultLimit = constants.DefaultMatchLimit
	}
	if e.workers <= 0 {
		e.workers = constants.DefaultMatchWorkers
	}
	if e.metrics == nil {
		e.metrics = metrics.Nop{}
	}
	return e
}

// GenerateMatches refreshes the user's persona when stale, discovers
// candidates and creates up to limit pending matches. It fails only when the
// user has no response history, no persona, or the ledger cannot be read;
// per-candidate failures are reported in the result.
func (e *Engine) GenerateMatches(ctx context.Context, userID string, limit int) (*GenerateResult, error) {
	if limit <= 0 {
		limit = e.defaultLimit
	}
	if limit > constants.MaxMatchLimit {
		limit = constants.MaxMatchLimit
	}
	ctx, span := tracer.Start(ctx, "matching.GenerateMatches",
		trace.WithAttributes(
			attribute.String("user_id", userID),
			attribute.Int("limit", limit),
		),
	)
	defer span.End()
	start := time.Now()
	defer func() { e.metrics.RecordGenerateLatency(time.Since(start)) }()

	e.logger.Debug("Generating matches",
		zap.String("user_id", userID),
		zap.Int("limit", limit),
	)

	// 1. Make sure the persona is fresh
	if err := e.ensureFreshPersona(ctx, userID); err != nil {
		return nil, spanError(span, err)
	}

	// 2. Re-read the current persona
	persona, err := e.personas.GetPersona(ctx, userID)
	if err != nil {
		return nil, spanError(span, ledgerError("get_persona", err))
	}
	if persona == nil {
		return nil, spanError(span, apperrors.NewPersonaNotFound(userID))
	}

	// 3. Upsert the graph node
	if err := e.graph.UpsertNode(ctx, *persona); err != nil {
		e.metrics.RecordMirrorFailure("upsert_node")
		e.logger.Warn("Graph node upsert failed, continuing",
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}

	// 4. Query candidates with a buffer for deduplication
	candidates, source, err := e.queryCandidates(ctx, userID, constants.CandidateBufferFactor*limit)
	if err != nil {
		return nil, spanError(span, err)
	}

	// 5. Collect everyone the user is already matched with
	existing, err := e.ledger.MatchesForUser(ctx, userID)
	if err != nil {
		return nil, spanError(span, ledgerError("matches_for_user", err))
	}
	matched := make(map[string]struct{}, len(existing))
	for i := range existing {
		matched[existing[i].Partner(userID)] = struct{}{}
	}

	// 6. Filter and truncate
	eligible := e.filterCandidates(userID, candidates, matched, limit)

	// 7. Create matches concurrently, keeping discovery-rank order
	outcomes := e.createAll(ctx, userID, eligible)

	result := &GenerateResult{
		UserID:          userID,
		CandidateSource: source,
		Matches:         []domain.Match{},
		Outcomes:        outcomes,
	}
	for _, o := range outcomes {
		if o.Kind == OutcomeCreated {
			result.Matches = append(result.Matches, *o.Match)
		}
	}

	span.SetAttributes(
		attribute.String("candidate_source", source),
		attribute.Int("candidates", len(candidates)),
		attribute.Int("eligible", len(eligible)),
		attribute.Int("created", result.Created()),
	)
	e.logger.Info("Matches generated",
		zap.String("user_id", userID),
		zap.String("candidate_source", source),
		zap.Int("candidates", len(candidates)),
		zap.Int("eligible", len(eligible)),
		zap.Int("created", result.Created()),
		zap.Int("skipped", result.Count(OutcomeSkipped)),
		zap.Int("failed", result.Count(OutcomeFailed)),
	)
	return result, nil
}

// ensureFreshPersona regenerates a stale or absent persona. Empty history is
// returned unchanged; any other refresh failure is logged and the existing
// persona, if any, is used.
func (e *Engine) ensureFreshPersona(ctx context.Context, userID string) error {
	should, err := e.personas.ShouldUpdatePersona(ctx, userID)
	if err != nil {
		return ledgerError("get_persona", err)
	}
	if !should {
		return nil
	}

	if _, err := e.personas.UpdatePersona(ctx, userID); err != nil {
		if apperrors.IsEmptyResponseHistory(err) {
			return err
		}
		e.logger.Warn("Persona refresh failed, using stored persona",
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}
	return nil
}

// queryCandidates asks the graph index first and falls back to scoring stored
// personas when the graph query fails
func (e *Engine) queryCandidates(ctx context.Context, userID string, count int) ([]domain.Candidate, string, error) {
	candidates, err := e.graph.QueryCandidates(ctx, userID, count)
	if err == nil {
		return candidates, SourceGraph, nil
	}

	e.metrics.RecordCandidateFallback()
	e.logger.Warn("Graph candidate query failed, falling back to persona scan",
		zap.String("user_id", userID),
		zap.Error(err),
	)
	candidates, err = e.personas.FindCompatibleUsers(ctx, userID, count)
	if err != nil {
		return nil, "", ledgerError("list_personas", err)
	}
	return candidates, SourcePersona, nil
}

// filterCandidates drops the user, anyone already matched, duplicates and
// anyone at or below the compatibility threshold, then truncates to limit
func (e *Engine) filterCandidates(userID string, candidates []domain.Candidate, matched map[string]struct{}, limit int) []domain.Candidate {
	seen := make(map[string]struct{}, len(candidates))
	eligible := make([]domain.Candidate, 0, min(limit, len(candidates)))
	for _, c := range candidates {
		if len(eligible) == limit {
			break
		}
		if c.UserID == userID {
			continue
		}
		if _, ok := matched[c.UserID]; ok {
			continue
		}
		if _, ok := seen[c.UserID]; ok {
			continue
		}
		if c.Compatibility <= e.minCompat {
			continue
		}
		seen[c.UserID] = struct{}{}
		eligible = append(eligible, c)
	}
	return eligible
}

// createAll runs CreateMatch for every candidate on a bounded worker group.
// Each goroutine writes only its own slot and never returns an error, so one
// failure cannot cancel its siblings.
func (e *Engine) createAll(ctx context.Context, userID string, candidates []domain.Candidate) []Outcome {
	outcomes := make([]Outcome, len(candidates))

	var g errgroup.Group
	g.SetLimit(e.workers)
	for i, c := range candidates {
		i, c := i, c
		g.Go(func() error {
			outcomes[i] = e.createMatch(ctx, userID, c)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

// CreateMatch records a pending match for the pair in the ledger and mirrors
// it into the graph index. A pair that already has a match is skipped; a
// failed mirror write is queued for repair and does not affect the outcome.
func (e *Engine) CreateMatch(ctx context.Context, userA, userB string, compatibility float64) Outcome {
	return e.createMatch(ctx, userA, domain.Candidate{UserID: userB, Compatibility: compatibility})
}

func (e *Engine) createMatch(ctx context.Context, userID string, candidate domain.Candidate) Outcome {
	m, err := e.ledger.InsertMatch(ctx, userID, candidate.UserID, candidate.Compatibility)
	if err != nil {
		if apperrors.IsLedgerWriteConflict(err) {
			e.metrics.RecordMatchOutcome(string(OutcomeSkipped))
			e.logger.Debug("Pair already matched, skipping",
				zap.String("user_id", userID),
				zap.String("candidate_id", candidate.UserID),
			)
			return skipped(candidate, SkipAlreadyMatched)
		}

		if ctx.Err() != nil || stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
			err = apperrors.NewContextCancelled("insert_match", err)
		} else {
			err = ledgerError("insert_match", err)
		}
		e.metrics.RecordMatchOutcome(string(OutcomeFailed))
		e.logger.Error("Failed to record match",
			zap.String("user_id", userID),
			zap.String("candidate_id", candidate.UserID),
			zap.Float64("compatibility", candidate.Compatibility),
			zap.Error(err),
		)
		return failed(candidate, err)
	}

	if err := e.graph.MirrorMatch(ctx, *m); err != nil {
		e.mirrorFailed(ctx, "mirror_match", m.ID, err)
	}

	e.metrics.RecordMatchOutcome(string(OutcomeCreated))
	return created(candidate, m)
}

// mirrorFailed logs a failed mirror write and queues the match for repair.
// Nothing here is surfaced to the caller.
func (e *Engine) mirrorFailed(ctx context.Context, operation, matchID string, cause error) {
	e.metrics.RecordMirrorFailure(operation)
	e.logger.Warn("Graph mirror write failed",
		zap.String("operation", operation),
		zap.String("match_id", matchID),
		zap.Error(cause),
	)

	if e.outbox == nil {
		return
	}
	entry := reconcile.Entry{MatchID: matchID, Operation: operation}
	if err := e.outbox.Enqueue(context.WithoutCancel(ctx), entry); err != nil {
		e.logger.Error("Failed to queue mirror repair",
			zap.String("operation", operation),
			zap.String("match_id", matchID),
			zap.Error(err),
		)
	}
}

// ledgerError keeps typed errors and wraps raw ones as ErrLedgerUnavailable,
// so callers never see a driver-level error
func ledgerError(operation string, err error) error {
	if apperrors.TypeOf(err) != "" {
		return err
	}
	return apperrors.NewLedgerUnavailable(operation, err)
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

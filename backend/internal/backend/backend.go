// Package backend defines the store boundaries the persona manager and the
// matching engine are written against, and assembles the live (Postgres +
// Neo4j) or in-memory implementation once at startup.
package backend

import (
	"context"

	"go.uber.org/zap"
	"matchmaker/backend/internal/domain"
	"matchmaker/backend/internal/graph"
	"matchmaker/backend/internal/ledger"
	"matchmaker/backend/internal/memstore"
	"matchmaker/backend/pkg/config"
	"matchmaker/backend/pkg/logger"
)

// PersonaStore holds the latest persona snapshot per user
type PersonaStore interface {
	// GetPersona returns nil, nil when the user has no persona
	GetPersona(ctx context.Context, userID string) (*domain.Persona, error)
	// PutPersona overwrites the stored snapshot (last writer wins)
	PutPersona(ctx context.Context, persona domain.Persona) error
	ListPersonas(ctx context.Context) ([]domain.Persona, error)
}

// ResponseStore holds users' answers to questions and reflections
type ResponseStore interface {
	// RecentResponses returns at most limit records, newest first
	RecentResponses(ctx context.Context, userID string, limit int) ([]domain.ResponseRecord, error)
	AddResponse(ctx context.Context, record domain.ResponseRecord) (*domain.ResponseRecord, error)
}

// MatchLedger is the authoritative store of matches. Implementations enforce
// one record per unordered pair and return ErrLedgerWriteConflict on a
// duplicate, ErrLedgerUnavailable on any other failure.
type MatchLedger interface {
	InsertMatch(ctx context.Context, userA, userB string, compatibility float64) (*domain.Match, error)
	// MatchesForUser returns matches where the user is either side, newest first
	MatchesForUser(ctx context.Context, userID string) ([]domain.Match, error)
	// GetMatch returns nil, nil when the id is unknown
	GetMatch(ctx context.Context, matchID string) (*domain.Match, error)
	// TransitionStatus moves a match from -> to only if it is currently in from.
	// It reports false when the current status differs.
	TransitionStatus(ctx context.Context, matchID string, from, to domain.MatchStatus) (bool, error)
}

// GraphIndex is the similarity-search store. Mirror writes are best effort.
type GraphIndex interface {
	UpsertNode(ctx context.Context, persona domain.Persona) error
	// QueryCandidates returns up to count other users, compatibility descending
	QueryCandidates(ctx context.Context, userID string, count int) ([]domain.Candidate, error)
	MirrorMatch(ctx context.Context, match domain.Match) error
	MirrorStatus(ctx context.Context, matchID string, status domain.MatchStatus) error
}

// Backend bundles one implementation of every store
type Backend struct {
	Name      string
	Personas  PersonaStore
	Responses ResponseStore
	Ledger    MatchLedger
	Graph     GraphIndex

	closers []func(context.Context) error
}

// Close releases every underlying connection
func (b *Backend) Close(ctx context.Context) error {
	var firstErr error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// NewMemory returns a backend whose every store is the given in-memory store
func NewMemory(store *memstore.Store) *Backend {
	return &Backend{
		Name:      config.BackendMemory,
		Personas:  store,
		Responses: store,
		Ledger:    store,
		Graph:     store,
	}
}

// NewLive returns a backend over the Postgres ledger and the Neo4j graph index
func NewLive(store *ledger.Store, repo *graph.Repository, closers ...func(context.Context) error) *Backend {
	return &Backend{
		Name:      config.BackendLive,
		Personas:  store,
		Responses: store,
		Ledger:    store,
		Graph:     repo,
		closers:   closers,
	}
}

// Open connects the backend selected by cfg.Backend and prepares its schema
func Open(ctx context.Context, cfg *config.Config) (*Backend, error) {
	log := logger.Component("backend")

	if cfg.Backend == config.BackendMemory {
		log.Info("Using in-memory backend")
		return NewMemory(memstore.New()), nil
	}

	pool, err := ledger.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	store := ledger.New(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	driver, err := graph.Connect(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword)
	if err != nil {
		pool.Close()
		return nil, err
	}
	repo := graph.NewRepository(driver, cfg.Neo4jDatabase)
	if err := repo.EnsureConstraints(ctx); err != nil {
		// Constraints speed queries up but are not required for correctness
		log.Warn("Failed to ensure graph constraints", zap.Error(err))
	}

	log.Info("Connected live backend",
		zap.String("neo4j_uri", cfg.Neo4jURI),
		zap.String("neo4j_database", cfg.Neo4jDatabase),
	)

	closePool := func(context.Context) error {
		pool.Close()
		return nil
	}
	return NewLive(store, repo, closePool, repo.Close), nil
}

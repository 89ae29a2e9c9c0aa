// Package memstore is an in-process implementation of every store boundary.
// It backs BACKEND=memory and the unit tests, and keeps the same contracts as
// the live stores: one match per unordered pair, compare-and-set status
// updates, and cosine-ranked candidate queries.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"matchmaker/backend/internal/domain"
	"matchmaker/backend/internal/oracle"
	apperrors "matchmaker/backend/pkg/errors"
)

// Faults lets tests make individual operations fail. Nil fields mean success.
type Faults struct {
	InsertMatch func(userA, userB string) error
	ReadLedger  error
	UpsertNode  error
	Query       error
	Mirror      error
}

// MirrorEdge is the in-memory counterpart of a MATCHED_WITH edge
type MirrorEdge struct {
	MatchID       string
	Pair          domain.PairKey
	Compatibility float64
	Status        domain.MatchStatus
}

// Store holds personas, responses, matches and the graph mirror in memory
type Store struct {
	mu sync.RWMutex

	personas  map[string]domain.Persona
	responses map[string][]domain.ResponseRecord
	matches   map[string]*domain.Match
	pairs     map[domain.PairKey]string
	nodes     map[string]domain.Persona
	mirror    map[string]MirrorEdge

	faults   Faults
	now      func() time.Time
	lastTime time.Time
}

// New creates an empty store
func New() *Store {
	return &Store{
		personas:  make(map[string]domain.Persona),
		responses: make(map[string][]domain.ResponseRecord),
		matches:   make(map[string]*domain.Match),
		pairs:     make(map[domain.PairKey]string),
		nodes:     make(map[string]domain.Persona),
		mirror:    make(map[string]MirrorEdge),
		now:       time.Now,
	}
}

// SetFaults replaces the active fault set
func (s *Store) SetFaults(f Faults) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = f
}

// SetClock overrides the clock used for timestamps
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// tick returns a strictly increasing timestamp so newest-first ordering is
// deterministic even when records are created within one clock tick.
// Callers hold s.mu.
func (s *Store) tick() time.Time {
	t := s.now().UTC()
	if !t.After(s.lastTime) {
		t = s.lastTime.Add(time.Nanosecond)
	}
	s.lastTime = t
	return t
}

// ============================================================================
// Persona Store
// ============================================================================

// GetPersona implements backend.PersonaStore
func (s *Store) GetPersona(_ context.Context, userID string) (*domain.Persona, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.personas[userID]
	if !ok {
		return nil, nil
	}
	cp := copyPersona(p)
	return &cp, nil
}

// PutPersona implements backend.PersonaStore
func (s *Store) PutPersona(_ context.Context, persona domain.Persona) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.personas[persona.UserID] = copyPersona(persona)
	return nil
}

// ListPersonas implements backend.PersonaStore
func (s *Store) ListPersonas(_ context.Context) ([]domain.Persona, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Persona, 0, len(s.personas))
	for _, p := range s.personas {
		out = append(out, copyPersona(p))
	}
	return out, nil
}

func copyPersona(p domain.Persona) domain.Persona {
	traits := make(map[string]float64, len(p.Traits))
	for k, v := range p.Traits {
		traits[k] = v
	}
	p.Traits = traits
	p.Insights = append([]string(nil), p.Insights...)
	return p
}

// ============================================================================
// Response Store
// ============================================================================

// RecentResponses implements backend.ResponseStore
func (s *Store) RecentResponses(_ context.Context, userID string, limit int) ([]domain.ResponseRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.responses[userID]
	out := make([]domain.ResponseRecord, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

// AddResponse implements backend.ResponseStore
func (s *Store) AddResponse(_ context.Context, record domain.ResponseRecord) (*domain.ResponseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record.ID = uuid.New().String()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = s.tick()
	}
	s.responses[record.UserID] = append(s.responses[record.UserID], record)
	return &record, nil
}

// ============================================================================
// Match Ledger
// ============================================================================

// InsertMatch implements backend.MatchLedger
func (s *Store) InsertMatch(_ context.Context, userA, userB string, compatibility float64) (*domain.Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.faults.InsertMatch != nil {
		if err := s.faults.InsertMatch(userA, userB); err != nil {
			return nil, apperrors.NewLedgerUnavailable("insert_match", err)
		}
	}
	if userA == userB {
		return nil, apperrors.NewLedgerUnavailable("insert_match", fmt.Errorf("cannot match user with themselves"))
	}

	key := domain.NewPairKey(userA, userB)
	if _, exists := s.pairs[key]; exists {
		return nil, apperrors.NewLedgerWriteConflict(userA, userB, nil)
	}

	m := &domain.Match{
		ID:            uuid.New().String(),
		UserA:         userA,
		UserB:         userB,
		Compatibility: compatibility,
		Status:        domain.MatchStatusPending,
		CreatedAt:     s.tick(),
	}
	s.matches[m.ID] = m
	s.pairs[key] = m.ID

	cp := *m
	return &cp, nil
}

// MatchesForUser implements backend.MatchLedger
func (s *Store) MatchesForUser(_ context.Context, userID string) ([]domain.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.faults.ReadLedger != nil {
		return nil, apperrors.NewLedgerUnavailable("matches_for_user", s.faults.ReadLedger)
	}

	var out []domain.Match
	for _, m := range s.matches {
		if m.Involves(userID) {
			out = append(out, *m)
		}
	}
	domain.SortMatchesNewestFirst(out)
	return out, nil
}

// GetMatch implements backend.MatchLedger
func (s *Store) GetMatch(_ context.Context, matchID string) (*domain.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.faults.ReadLedger != nil {
		return nil, apperrors.NewLedgerUnavailable("get_match", s.faults.ReadLedger)
	}
	m, ok := s.matches[matchID]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

// TransitionStatus implements backend.MatchLedger
func (s *Store) TransitionStatus(_ context.Context, matchID string, from, to domain.MatchStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.matches[matchID]
	if !ok || m.Status != from {
		return false, nil
	}
	m.Status = to
	return true, nil
}

// ============================================================================
// Graph Index
// ============================================================================

// UpsertNode implements backend.GraphIndex
func (s *Store) UpsertNode(_ context.Context, persona domain.Persona) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.faults.UpsertNode != nil {
		return apperrors.NewGraphQueryFailed("upsert_node", s.faults.UpsertNode)
	}
	s.nodes[persona.UserID] = copyPersona(persona)
	return nil
}

// QueryCandidates implements backend.GraphIndex
func (s *Store) QueryCandidates(_ context.Context, userID string, count int) ([]domain.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.faults.Query != nil {
		return nil, apperrors.NewGraphQueryFailed("query_candidates", s.faults.Query)
	}

	self, ok := s.nodes[userID]
	if !ok || count < 1 {
		return []domain.Candidate{}, nil
	}

	candidates := make([]domain.Candidate, 0, len(s.nodes))
	for id, node := range s.nodes {
		if id == userID {
			continue
		}
		node := node
		candidates = append(candidates, domain.Candidate{
			UserID:        id,
			Compatibility: oracle.Score(&self, &node),
		})
	}
	domain.SortCandidates(candidates)
	if len(candidates) > count {
		candidates = candidates[:count]
	}
	return candidates, nil
}

// MirrorMatch implements backend.GraphIndex
func (s *Store) MirrorMatch(_ context.Context, match domain.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.faults.Mirror != nil {
		return apperrors.NewMirrorWriteFailure("mirror_match", match.ID, s.faults.Mirror)
	}
	edge, ok := s.mirror[match.ID]
	if ok && statusRank(edge.Status) > statusRank(match.Status) {
		return nil
	}
	s.mirror[match.ID] = MirrorEdge{
		MatchID:       match.ID,
		Pair:          match.Pair(),
		Compatibility: match.Compatibility,
		Status:        match.Status,
	}
	return nil
}

// MirrorStatus implements backend.GraphIndex
func (s *Store) MirrorStatus(_ context.Context, matchID string, status domain.MatchStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.faults.Mirror != nil {
		return apperrors.NewMirrorWriteFailure("mirror_status", matchID, s.faults.Mirror)
	}
	edge, ok := s.mirror[matchID]
	if !ok {
		return apperrors.NewMirrorWriteFailure("mirror_status", matchID, fmt.Errorf("mirror edge not found"))
	}
	if statusRank(status) >= statusRank(edge.Status) {
		edge.Status = status
		s.mirror[matchID] = edge
	}
	return nil
}

// MirrorEdge returns the mirrored edge for a match, if any
func (s *Store) MirrorEdge(matchID string) (MirrorEdge, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	edge, ok := s.mirror[matchID]
	return edge, ok
}

// HasNode reports whether the graph holds a node for the user
func (s *Store) HasNode(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.nodes[userID]
	return ok
}

func statusRank(status domain.MatchStatus) int {
	switch status {
	case domain.MatchStatusPending:
		return 1
	case domain.MatchStatusActive:
		return 2
	case domain.MatchStatusEnded:
		return 3
	}
	return 0
}

package matching

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"matchmaker/backend/internal/backend"
	"matchmaker/backend/internal/constants"
	"matchmaker/backend/internal/domain"
	"matchmaker/backend/internal/memstore"
	"matchmaker/backend/internal/oracle"
	"matchmaker/backend/internal/persona"
	"matchmaker/backend/internal/reconcile"
	apperrors "matchmaker/backend/pkg/errors"
)

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// fixedGraph serves a canned candidate list and delegates everything else to
// the in-memory store
type fixedGraph struct {
	*memstore.Store
	candidates []domain.Candidate
	queryErr   error
	queried    []int
	mu         sync.Mutex
}

func (g *fixedGraph) QueryCandidates(_ context.Context, _ string, count int) ([]domain.Candidate, error) {
	g.mu.Lock()
	g.queried = append(g.queried, count)
	g.mu.Unlock()
	if g.queryErr != nil {
		return nil, g.queryErr
	}
	out := g.candidates
	if len(out) > count {
		out = out[:count]
	}
	return append([]domain.Candidate(nil), out...), nil
}

type fixture struct {
	store   *memstore.Store
	manager *persona.Manager
	outbox  *reconcile.MemoryOutbox
	engine  *Engine
}

func newFixture(t *testing.T, graph func(*memstore.Store) backend.GraphIndex) *fixture {
	t.Helper()
	store := memstore.New()
	manager := persona.NewManager(persona.Config{
		Personas:  store,
		Responses: store,
		Oracle:    oracle.New(nil),
		Clock:     func() time.Time { return now },
	})
	outbox := reconcile.NewMemoryOutbox()

	var g backend.GraphIndex = store
	if graph != nil {
		g = graph(store)
	}
	engine := NewEngine(Config{
		Personas: manager,
		Ledger:   store,
		Graph:    g,
		Outbox:   outbox,
	})
	return &fixture{store: store, manager: manager, outbox: outbox, engine: engine}
}

func (f *fixture) putPersona(t *testing.T, userID string, traits map[string]float64, updated time.Time) {
	t.Helper()
	require.NoError(t, f.store.PutPersona(context.Background(), domain.Persona{
		UserID:      userID,
		Traits:      traits,
		LastUpdated: updated,
	}))
	require.NoError(t, f.store.UpsertNode(context.Background(), domain.Persona{
		UserID:      userID,
		Traits:      traits,
		LastUpdated: updated,
	}))
}

func (f *fixture) addResponse(t *testing.T, userID, content string) {
	t.Helper()
	_, err := f.store.AddResponse(context.Background(), domain.ResponseRecord{UserID: userID, Content: content})
	require.NoError(t, err)
}

func candidates(compat ...float64) []domain.Candidate {
	out := make([]domain.Candidate, len(compat))
	for i, c := range compat {
		out[i] = domain.Candidate{UserID: fmt.Sprintf("c%d", i+1), Compatibility: c}
	}
	return out
}

func compatibilities(matches []domain.Match) []float64 {
	out := make([]float64, len(matches))
	for i, m := range matches {
		out[i] = m.Compatibility
	}
	return out
}

func TestGenerateMatches_EmptyResponseHistory(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.engine.GenerateMatches(context.Background(), "u", 5)
	require.Error(t, err)
	assert.True(t, apperrors.IsEmptyResponseHistory(err))
}

func TestGenerateMatches_StalePersonaRefreshedAndThresholdApplied(t *testing.T) {
	graph := &fixedGraph{candidates: candidates(0.9, 0.75, 0.6, 0.5, 0.95)}
	f := newFixture(t, func(s *memstore.Store) backend.GraphIndex {
		graph.Store = s
		return graph
	})
	ctx := context.Background()

	f.putPersona(t, "u", map[string]float64{"humor": 1}, now.Add(-8*24*time.Hour))
	f.addResponse(t, "u", "I like to travel and read about science")

	result, err := f.engine.GenerateMatches(ctx, "u", 5)
	require.NoError(t, err)

	// Persona was refreshed
	p, err := f.manager.GetPersona(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, now, p.LastUpdated)

	// Buffer of twice the limit
	assert.Equal(t, []int{10}, graph.queried)
	assert.Equal(t, SourceGraph, result.CandidateSource)

	// Only > 0.6, in discovery-rank order, all pending
	assert.Equal(t, []float64{0.9, 0.75, 0.95}, compatibilities(result.Matches))
	require.Len(t, result.Outcomes, 3)
	assert.Equal(t, "c1", result.Outcomes[0].CandidateID)
	assert.Equal(t, "c2", result.Outcomes[1].CandidateID)
	assert.Equal(t, "c5", result.Outcomes[2].CandidateID)
	for _, m := range result.Matches {
		assert.Equal(t, domain.MatchStatusPending, m.Status)
	}

	matches, err := f.engine.GetMatches(ctx, "u", nil)
	require.NoError(t, err)
	assert.Len(t, matches, 3)
}

func TestGenerateMatches_ThresholdIsStrict(t *testing.T) {
	graph := &fixedGraph{candidates: candidates(0.6, 0.6000001, 0.59)}
	f := newFixture(t, func(s *memstore.Store) backend.GraphIndex {
		graph.Store = s
		return graph
	})
	f.putPersona(t, "u", map[string]float64{"humor": 1}, now)

	result, err := f.engine.GenerateMatches(context.Background(), "u", 5)
	require.NoError(t, err)
	require.Len(t, result.Matches, 1)
	assert.Equal(t, "c2", result.Outcomes[0].CandidateID)
}

func TestGenerateMatches_TruncatesToLimit(t *testing.T) {
	graph := &fixedGraph{candidates: candidates(0.99, 0.98, 0.97, 0.96)}
	f := newFixture(t, func(s *memstore.Store) backend.GraphIndex {
		graph.Store = s
		return graph
	})
	f.putPersona(t, "u", map[string]float64{"humor": 1}, now)

	result, err := f.engine.GenerateMatches(context.Background(), "u", 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.99, 0.98}, compatibilities(result.Matches))
}

func TestGenerateMatches_MirrorFailureKeepsLedgerMatch(t *testing.T) {
	graph := &fixedGraph{candidates: candidates(0.8)}
	f := newFixture(t, func(s *memstore.Store) backend.GraphIndex {
		graph.Store = s
		return graph
	})
	ctx := context.Background()
	f.putPersona(t, "u", map[string]float64{"humor": 1}, now)
	f.store.SetFaults(memstore.Faults{Mirror: errors.New("graph unavailable")})

	result, err := f.engine.GenerateMatches(ctx, "u", 5)
	require.NoError(t, err)
	require.Len(t, result.Matches, 1)
	assert.Equal(t, OutcomeCreated, result.Outcomes[0].Kind)

	matches, err := f.engine.GetMatches(ctx, "u", nil)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, domain.MatchStatusPending, matches[0].Status)

	_, mirrored := f.store.MirrorEdge(matches[0].ID)
	assert.False(t, mirrored)

	queued, err := f.outbox.Dequeue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, matches[0].ID, queued[0].MatchID)
	assert.Equal(t, "mirror_match", queued[0].Operation)
}

func TestGenerateMatches_LedgerFailureIsolatedToCandidate(t *testing.T) {
	graph := &fixedGraph{candidates: candidates(0.9, 0.8, 0.7)}
	f := newFixture(t, func(s *memstore.Store) backend.GraphIndex {
		graph.Store = s
		return graph
	})
	f.putPersona(t, "u", map[string]float64{"humor": 1}, now)
	f.store.SetFaults(memstore.Faults{InsertMatch: func(_, userB string) error {
		if userB == "c2" {
			return errors.New("connection reset")
		}
		return nil
	}})

	result, err := f.engine.GenerateMatches(context.Background(), "u", 5)
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 3)

	assert.Equal(t, OutcomeCreated, result.Outcomes[0].Kind)
	assert.Equal(t, OutcomeFailed, result.Outcomes[1].Kind)
	assert.Equal(t, FailureLedgerUnavailable, result.Outcomes[1].FailureKind)
	assert.Error(t, result.Outcomes[1].Err)
	assert.Equal(t, OutcomeCreated, result.Outcomes[2].Kind)
	assert.Equal(t, []float64{0.9, 0.7}, compatibilities(result.Matches))
}

func TestGenerateMatches_GraphQueryFallsBackToPersonaScan(t *testing.T) {
	graph := &fixedGraph{queryErr: apperrors.NewGraphQueryFailed("query_candidates", errors.New("down"))}
	f := newFixture(t, func(s *memstore.Store) backend.GraphIndex {
		graph.Store = s
		return graph
	})
	f.putPersona(t, "u", map[string]float64{"humor": 1}, now)
	f.putPersona(t, "close", map[string]float64{"humor": 1}, now)
	f.putPersona(t, "far", map[string]float64{"curiosity": 1}, now)

	result, err := f.engine.GenerateMatches(context.Background(), "u", 5)
	require.NoError(t, err)
	assert.Equal(t, SourcePersona, result.CandidateSource)
	require.Len(t, result.Matches, 1)
	assert.Equal(t, "close", result.Matches[0].Partner("u"))
}

func TestGenerateMatches_UpsertFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.putPersona(t, "v", map[string]float64{"humor": 1}, now)
	// Persona without a graph node
	require.NoError(t, f.store.PutPersona(ctx, domain.Persona{
		UserID:      "u",
		Traits:      map[string]float64{"humor": 1},
		LastUpdated: now,
	}))
	f.store.SetFaults(memstore.Faults{UpsertNode: errors.New("graph write rejected")})

	result, err := f.engine.GenerateMatches(ctx, "u", 5)
	require.NoError(t, err)
	assert.Len(t, result.Matches, 1)
	assert.False(t, f.store.HasNode("u"))

	f.store.SetFaults(memstore.Faults{})
	_, err = f.engine.GenerateMatches(ctx, "u", 5)
	require.NoError(t, err)
	assert.True(t, f.store.HasNode("u"))
}

func TestGenerateMatches_LimitIsCapped(t *testing.T) {
	graph := &fixedGraph{candidates: candidates(0.9, 0.8)}
	f := newFixture(t, func(s *memstore.Store) backend.GraphIndex {
		graph.Store = s
		return graph
	})
	f.putPersona(t, "u", map[string]float64{"humor": 1}, now)

	for _, limit := range []int{constants.MaxMatchLimit + 1, math.MaxInt / 4, math.MaxInt} {
		var result *GenerateResult
		var err error
		require.NotPanics(t, func() {
			result, err = f.engine.GenerateMatches(context.Background(), "u", limit)
		})
		require.NoError(t, err)
		assert.Len(t, result.Outcomes, 2)
	}

	graph.mu.Lock()
	defer graph.mu.Unlock()
	for _, count := range graph.queried {
		assert.Equal(t, constants.CandidateBufferFactor*constants.MaxMatchLimit, count)
	}
}

func TestGenerateMatches_CancelledInsertIsTaggedCancelled(t *testing.T) {
	graph := &fixedGraph{candidates: candidates(0.9, 0.8)}
	f := newFixture(t, func(s *memstore.Store) backend.GraphIndex {
		graph.Store = s
		return graph
	})
	f.putPersona(t, "u", map[string]float64{"humor": 1}, now)
	f.store.SetFaults(memstore.Faults{InsertMatch: func(_, userB string) error {
		if userB == "c1" {
			return fmt.Errorf("insert: %w", context.Canceled)
		}
		return nil
	}})

	result, err := f.engine.GenerateMatches(context.Background(), "u", 5)
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 2)

	assert.Equal(t, OutcomeFailed, result.Outcomes[0].Kind)
	assert.Equal(t, FailureCancelled, result.Outcomes[0].FailureKind)
	assert.True(t, apperrors.IsErrorType(result.Outcomes[0].Err, apperrors.ErrorTypeContext))
	assert.False(t, apperrors.IsRetryable(result.Outcomes[0].Err))
	assert.Equal(t, OutcomeCreated, result.Outcomes[1].Kind)
}

func TestGenerateMatches_ZeroThresholdIsHonored(t *testing.T) {
	graph := &fixedGraph{candidates: candidates(0.3, 0)}
	f := newFixture(t, func(s *memstore.Store) backend.GraphIndex {
		graph.Store = s
		return graph
	})
	f.putPersona(t, "u", map[string]float64{"humor": 1}, now)

	zero := 0.0
	f.engine = NewEngine(Config{
		Personas:         f.manager,
		Ledger:           f.store,
		Graph:            graph,
		Outbox:           f.outbox,
		MinCompatibility: &zero,
	})

	result, err := f.engine.GenerateMatches(context.Background(), "u", 5)
	require.NoError(t, err)
	// Strict bound: 0.3 passes, 0 does not
	assert.Equal(t, []float64{0.3}, compatibilities(result.Matches))
}

func TestNewEngine_DefaultThreshold(t *testing.T) {
	e := NewEngine(Config{})
	assert.Equal(t, constants.MinViableCompatibility, e.minCompat)
}

func TestGenerateMatches_RepeatCallsCreateNoDuplicates(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	users := []string{"u1", "u2", "u3", "u4", "u5"}
	for _, u := range users {
		f.putPersona(t, u, map[string]float64{"humor": 1, "curiosity": 0.5}, now)
	}

	// Same user twice plus overlapping users, all at once
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for _, u := range []string{"u1", "u1", "u2", "u3", "u1", "u2", "u4", "u5"} {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			if _, err := f.engine.GenerateMatches(ctx, userID, 5); err != nil {
				errs <- err
			}
		}(u)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	// Every pair of five users matched exactly once
	pairs := map[domain.PairKey]int{}
	for _, u := range users {
		matches, err := f.engine.GetMatches(ctx, u, nil)
		require.NoError(t, err)
		assert.Len(t, matches, 4)
		for _, m := range matches {
			pairs[m.Pair()]++
		}
	}
	assert.Len(t, pairs, 10)
	for pair, n := range pairs {
		assert.Equal(t, 2, n, "pair %s seen from both sides once", pair)
	}

	// A further call has nothing left to create
	result, err := f.engine.GenerateMatches(ctx, "u1", 5)
	require.NoError(t, err)
	assert.Empty(t, result.Matches)
	assert.Empty(t, result.Outcomes)
}

func TestCreateMatch_DuplicatePairIsSkipped(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first := f.engine.CreateMatch(ctx, "a", "b", 0.8)
	require.Equal(t, OutcomeCreated, first.Kind)
	require.NotNil(t, first.Match)

	second := f.engine.CreateMatch(ctx, "b", "a", 0.8)
	assert.Equal(t, OutcomeSkipped, second.Kind)
	assert.Equal(t, SkipAlreadyMatched, second.Reason)
	assert.NoError(t, second.Err)

	edge, ok := f.store.MirrorEdge(first.Match.ID)
	require.True(t, ok)
	assert.Equal(t, domain.NewPairKey("a", "b"), edge.Pair)
}

func TestUpdateMatchStatus_TransitionTable(t *testing.T) {
	tests := []struct {
		name    string
		path    []domain.MatchStatus
		to      domain.MatchStatus
		wantErr bool
	}{
		{"pending to active", nil, domain.MatchStatusActive, false},
		{"active to ended", []domain.MatchStatus{domain.MatchStatusActive}, domain.MatchStatusEnded, false},
		{"active to pending", []domain.MatchStatus{domain.MatchStatusActive}, domain.MatchStatusPending, true},
		{"ended to active", []domain.MatchStatus{domain.MatchStatusActive, domain.MatchStatusEnded}, domain.MatchStatusActive, true},
		{"ended to pending", []domain.MatchStatus{domain.MatchStatusActive, domain.MatchStatusEnded}, domain.MatchStatusPending, true},
		{"pending to ended", nil, domain.MatchStatusEnded, true},
		{"pending to pending", nil, domain.MatchStatusPending, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			ctx := context.Background()

			created := f.engine.CreateMatch(ctx, "a", "b", 0.8)
			require.Equal(t, OutcomeCreated, created.Kind)
			id := created.Match.ID
			for _, s := range tt.path {
				_, err := f.engine.UpdateMatchStatus(ctx, id, s)
				require.NoError(t, err)
			}
			before, err := f.store.GetMatch(ctx, id)
			require.NoError(t, err)

			updated, err := f.engine.UpdateMatchStatus(ctx, id, tt.to)
			after, getErr := f.store.GetMatch(ctx, id)
			require.NoError(t, getErr)
			edge, _ := f.store.MirrorEdge(id)

			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, apperrors.IsInvalidStatusTransition(err))
				assert.Equal(t, before.Status, after.Status, "no ledger write")
				assert.Equal(t, before.Status, edge.Status, "no mirror write")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.to, updated.Status)
			assert.Equal(t, tt.to, after.Status)
			assert.Equal(t, tt.to, edge.Status)
		})
	}
}

func TestUpdateMatchStatus_UnknownMatch(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.engine.UpdateMatchStatus(context.Background(), "missing", domain.MatchStatusActive)
	require.Error(t, err)
	assert.True(t, apperrors.IsMatchNotFound(err))
}

func TestUpdateMatchStatus_MirrorFailureQueuesRepair(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	created := f.engine.CreateMatch(ctx, "a", "b", 0.8)
	require.Equal(t, OutcomeCreated, created.Kind)
	f.store.SetFaults(memstore.Faults{Mirror: errors.New("graph down")})

	updated, err := f.engine.UpdateMatchStatus(ctx, created.Match.ID, domain.MatchStatusActive)
	require.NoError(t, err)
	assert.Equal(t, domain.MatchStatusActive, updated.Status)

	queued, err := f.outbox.Dequeue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, "mirror_status", queued[0].Operation)
}

func TestGetMatches_FilterAndOrder(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	m1 := f.engine.CreateMatch(ctx, "u", "a", 0.7)
	m2 := f.engine.CreateMatch(ctx, "b", "u", 0.8)
	m3 := f.engine.CreateMatch(ctx, "u", "c", 0.9)
	f.engine.CreateMatch(ctx, "a", "b", 0.9)
	_, err := f.engine.UpdateMatchStatus(ctx, m2.Match.ID, domain.MatchStatusActive)
	require.NoError(t, err)

	all, err := f.engine.GetMatches(ctx, "u", nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, m3.Match.ID, all[0].ID)
	assert.Equal(t, m2.Match.ID, all[1].ID)
	assert.Equal(t, m1.Match.ID, all[2].ID)

	active := domain.MatchStatusActive
	onlyActive, err := f.engine.GetMatches(ctx, "u", &active)
	require.NoError(t, err)
	require.Len(t, onlyActive, 1)
	assert.Equal(t, m2.Match.ID, onlyActive[0].ID)
}

func TestGetMatchDetails(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.putPersona(t, "b", map[string]float64{"humor": 0.9}, now)

	created := f.engine.CreateMatch(ctx, "a", "b", 0.8)
	require.Equal(t, OutcomeCreated, created.Kind)

	details, err := f.engine.GetMatchDetails(ctx, created.Match.ID, "a")
	require.NoError(t, err)
	assert.Equal(t, "b", details.PartnerID)
	require.NotNil(t, details.PartnerPersona)
	assert.Equal(t, 0.9, details.PartnerPersona.Traits["humor"])

	details, err = f.engine.GetMatchDetails(ctx, created.Match.ID, "b")
	require.NoError(t, err)
	assert.Equal(t, "a", details.PartnerID)
	assert.Nil(t, details.PartnerPersona)

	_, err = f.engine.GetMatchDetails(ctx, created.Match.ID, "stranger")
	assert.True(t, apperrors.IsMatchNotFound(err))
}

func TestGetMatchingStats(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	stats, err := f.engine.GetMatchingStats(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, domain.MatchingStats{}, *stats)

	f.engine.CreateMatch(ctx, "u", "a", 0.7)
	m := f.engine.CreateMatch(ctx, "u", "b", 0.9)
	_, err = f.engine.UpdateMatchStatus(ctx, m.Match.ID, domain.MatchStatusActive)
	require.NoError(t, err)

	stats, err = f.engine.GetMatchingStats(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Active)
	assert.InDelta(t, 0.8, stats.AvgCompatibility, 1e-9)
	assert.Equal(t, 0.9, stats.TopCompatibility)
}

func TestSuggestNextActions(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	got, err := f.engine.SuggestNextActions(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, []string{
		constants.SuggestionAddReflections,
		constants.SuggestionCreatePersona,
	}, got)

	f.putPersona(t, "u", map[string]float64{"humor": 1}, now.Add(-10*24*time.Hour))
	f.engine.CreateMatch(ctx, "u", "a", 0.7)
	m := f.engine.CreateMatch(ctx, "u", "b", 0.9)
	_, err = f.engine.UpdateMatchStatus(ctx, m.Match.ID, domain.MatchStatusActive)
	require.NoError(t, err)

	got, err = f.engine.SuggestNextActions(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, []string{
		fmt.Sprintf(constants.SuggestionReviewPending, 1),
		fmt.Sprintf(constants.SuggestionContinueActive, 1),
		constants.SuggestionAddReflections,
		constants.SuggestionRefreshPersona,
	}, got)
}

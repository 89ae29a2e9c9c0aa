package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"matchmaker/backend/internal/domain"
	"matchmaker/backend/internal/matching"
	"matchmaker/backend/internal/memstore"
	"matchmaker/backend/internal/metrics"
	"matchmaker/backend/internal/oracle"
	"matchmaker/backend/internal/persona"
	"matchmaker/backend/internal/reconcile"
)

type testServer struct {
	router *gin.Engine
	store  *memstore.Store
	engine *matching.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memstore.New()
	reg := prometheus.NewRegistry()
	recorder := metrics.NewCollector(reg)
	manager := persona.NewManager(persona.Config{
		Personas:  store,
		Responses: store,
		Oracle:    oracle.New(nil),
		Metrics:   recorder,
	})
	engine := matching.NewEngine(matching.Config{
		Personas: manager,
		Ledger:   store,
		Graph:    store,
		Outbox:   reconcile.NewMemoryOutbox(),
		Metrics:  recorder,
	})

	router := NewRouter(Deps{
		Engine:    engine,
		Personas:  manager,
		Responses: store,
		Gatherer:  reg,
	})
	return &testServer{router: router, store: store, engine: engine}
}

func (s *testServer) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	decode(t, w, &response)
	assert.Equal(t, "ok", response["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "matchmaker_generate_seconds")
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)

	req, _ := http.NewRequest(http.MethodOptions, "/api/matches/m1/status", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPatch)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), http.MethodPatch)
}

func TestAddResponse_InvalidRequest(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/api/users/u1/responses", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGenerateMatches_EmptyHistoryIs422(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/api/users/nobody/matches/generate", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var body map[string]string
	decode(t, w, &body)
	assert.Equal(t, "persona", body["type"])
}

func TestGenerateMatches_EndToEnd(t *testing.T) {
	s := newTestServer(t)

	for _, u := range []string{"alice", "bob", "carol"} {
		w := s.do(http.MethodPost, "/api/users/"+u+"/responses", map[string]string{
			"prompt":  "What do you do on weekends?",
			"content": "I travel, hike and explore new trails with friends",
		})
		require.Equal(t, http.StatusCreated, w.Code)
	}
	// Bob and carol need personas and graph nodes before alice can find them
	for _, u := range []string{"bob", "carol"} {
		_, err := s.engine.GenerateMatches(context.Background(), u, 5)
		require.NoError(t, err)
	}

	w := s.do(http.MethodGet, "/api/users/alice/matches", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Matches []domain.Match `json:"matches"`
	}
	decode(t, w, &list)
	assert.Empty(t, list.Matches, "alice has no persona or graph node yet")

	w = s.do(http.MethodPost, "/api/users/alice/matches/generate?limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var result matching.GenerateResult
	decode(t, w, &result)
	assert.Equal(t, "alice", result.UserID)

	w = s.do(http.MethodGet, "/api/users/alice/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats domain.MatchingStats
	decode(t, w, &stats)
	assert.Equal(t, 2, stats.Total)
}

func TestGenerateMatches_InvalidLimit(t *testing.T) {
	s := newTestServer(t)

	for _, limit := range []string{"zero", "0", "-3", "101", "17179869184", "2305843009213693951"} {
		w := s.do(http.MethodPost, "/api/users/u1/matches/generate?limit="+limit, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, "limit=%s", limit)
	}

	w := s.do(http.MethodGet, "/api/users/u1/compatible?limit=1000000", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdateMatchStatus(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	created := s.engine.CreateMatch(ctx, "a", "b", 0.8)
	require.Equal(t, matching.OutcomeCreated, created.Kind)
	path := "/api/matches/" + created.Match.ID + "/status"

	w := s.do(http.MethodPatch, path, map[string]string{"status": "active"})
	require.Equal(t, http.StatusOK, w.Code)
	var m domain.Match
	decode(t, w, &m)
	assert.Equal(t, domain.MatchStatusActive, m.Status)

	w = s.do(http.MethodPatch, path, map[string]string{"status": "pending"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(http.MethodPatch, path, map[string]string{"status": "archived"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPatch, "/api/matches/missing/status", map[string]string{"status": "active"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListMatches_StatusFilter(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	s.engine.CreateMatch(ctx, "u", "a", 0.7)
	m := s.engine.CreateMatch(ctx, "u", "b", 0.9)
	_, err := s.engine.UpdateMatchStatus(ctx, m.Match.ID, domain.MatchStatusActive)
	require.NoError(t, err)

	w := s.do(http.MethodGet, "/api/users/u/matches?status=active", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Matches []domain.Match `json:"matches"`
	}
	decode(t, w, &list)
	require.Len(t, list.Matches, 1)
	assert.Equal(t, m.Match.ID, list.Matches[0].ID)

	w = s.do(http.MethodGet, "/api/users/u/matches?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMatchDetails_ViewerMustBeInPair(t *testing.T) {
	s := newTestServer(t)
	created := s.engine.CreateMatch(context.Background(), "a", "b", 0.8)

	w := s.do(http.MethodGet, "/api/users/a/matches/"+created.Match.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var details domain.MatchDetails
	decode(t, w, &details)
	assert.Equal(t, "b", details.PartnerID)

	w = s.do(http.MethodGet, "/api/users/z/matches/"+created.Match.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPersonaEndpoints(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/api/users/u/persona", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodGet, "/api/users/u/persona/traits", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodPost, "/api/users/u/persona/refresh", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = s.do(http.MethodPost, "/api/users/u/responses", map[string]string{"content": "I love jokes and funny movies"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = s.do(http.MethodPost, "/api/users/u/persona/refresh", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var p domain.Persona
	decode(t, w, &p)
	assert.Equal(t, 1.0, p.Traits["humor"])
	assert.WithinDuration(t, time.Now(), p.LastUpdated, time.Minute)

	w = s.do(http.MethodGet, "/api/users/u/persona/traits", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var traits struct {
		Traits []domain.TraitScore `json:"traits"`
	}
	decode(t, w, &traits)
	require.Len(t, traits.Traits, 8)
	assert.Equal(t, "humor", traits.Traits[0].Name)

	w = s.do(http.MethodGet, "/api/users/u/compatible?limit=3", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/api/users/u/suggestions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var sug struct {
		Suggestions []string `json:"suggestions"`
	}
	decode(t, w, &sug)
	assert.NotEmpty(t, sug.Suggestions)
}

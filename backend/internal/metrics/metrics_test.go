package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_RecordsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordMatchOutcome("created")
	c.RecordMatchOutcome("created")
	c.RecordMatchOutcome("skipped")
	c.RecordMirrorFailure("mirror_match")
	c.RecordMirrorReconciled(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.matchOutcomes.WithLabelValues("created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.matchOutcomes.WithLabelValues("skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.mirrorFailures.WithLabelValues("mirror_match")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.mirrorReconciled))
}

func TestHandler_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordPersonaRefresh("updated", 10*time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, req)

	resp := w.Result()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "matchmaker_persona_refresh_total")
}

func TestNop_SatisfiesRecorder(t *testing.T) {
	var r Recorder = Nop{}
	r.RecordMatchOutcome("created")
	r.RecordGenerateLatency(time.Second)
}

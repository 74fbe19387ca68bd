package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/rapport/internal/config"
	"github.com/lazypower/rapport/internal/engine"
	"github.com/lazypower/rapport/internal/llm"
	"github.com/lazypower/rapport/internal/store"
)

func testServer(t *testing.T, narrator llm.Client) (*Server, *engine.Engine) {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	eng, err := engine.New(db, config.Default().Engine, engine.Options{Narrator: narrator})
	require.NoError(t, err)
	t.Cleanup(eng.Stop)
	return New(eng, "test-version", nil), eng
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), "body: %s", w.Body.String())
	return v
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := testServer(t, nil)

	w := do(t, srv, "GET", "/api/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	body := decode[map[string]any](t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test-version", body["version"])
	assert.Equal(t, true, body["db"])
	assert.Equal(t, false, body["narrative"])
	assert.Contains(t, body, "stats")
	assert.Contains(t, body, "overview")
}

func TestRecordInteraction(t *testing.T) {
	srv, eng := testServer(t, nil)

	body := `{"event_id":"post-1","agent_id":"moltx:SlopLauncher","display_name":"Slop","kind":"tip","weight":2,"content":"for the boat"}`
	w := do(t, srv, "POST", "/api/interactions", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	rel := decode[relationshipJSON](t, w)
	assert.Equal(t, "moltx:SlopLauncher", rel.Agent)
	assert.Equal(t, 1, rel.Interactions)
	assert.InDelta(t, 2.0, rel.Score, 1e-9)
	assert.Equal(t, store.StatusActive, rel.Status)
	assert.Len(t, rel.MemorableMoments, 1)

	// Same event id again is a no-op.
	w = do(t, srv, "POST", "/api/interactions", body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[relationshipJSON](t, w).Interactions)
	assert.Equal(t, uint64(1), eng.Stats().Duplicates)
}

func TestRecordRejectsBadInput(t *testing.T) {
	srv, eng := testServer(t, nil)

	tests := map[string]string{
		"invalid json":  `{"agent_id":`,
		"missing agent": `{"kind":"reply"}`,
		"unknown kind":  `{"agent_id":"x:a","kind":"poke"}`,
		"negative":      `{"agent_id":"x:a","kind":"reply","weight":-1}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			w := do(t, srv, "POST", "/api/interactions", body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.NotEmpty(t, decode[map[string]string](t, w)["error"])
		})
	}

	n, err := eng.CountInteractions(context.Background(), "")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRelationshipRoutes(t *testing.T) {
	srv, _ := testServer(t, nil)
	for _, body := range []string{
		`{"agent_id":"moltx:a","kind":"reply","content":"first"}`,
		`{"agent_id":"moltx:a","kind":"mention","content":"second, and the api is down lol"}`,
		`{"agent_id":"moltx:b","kind":"like_received"}`,
	} {
		require.Equal(t, http.StatusOK, do(t, srv, "POST", "/api/interactions", body).Code)
	}

	w := do(t, srv, "GET", "/api/relationships/moltx:a", "")
	require.Equal(t, http.StatusOK, w.Code)
	rel := decode[relationshipJSON](t, w)
	assert.Equal(t, 2, rel.Interactions)
	assert.Equal(t, 2, rel.DistinctKinds)
	assert.Equal(t, []string{"humor", "tech"}, rel.Topics)
	require.Len(t, rel.Recent, 2)

	w = do(t, srv, "GET", "/api/relationships/moltx%3Aa?recent=1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[relationshipJSON](t, w).Recent, 1)

	w = do(t, srv, "GET", "/api/relationships/moltx:nobody", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, srv, "GET", "/api/relationships/moltx:b/context", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, decode[map[string]string](t, w)["context"], "moltx:b - Stranger.")

	w = do(t, srv, "GET", "/api/relationships/moltx:nobody/context", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, decode[map[string]string](t, w)["context"], "Unknown agent moltx:nobody")
}

func TestExportEndpoint(t *testing.T) {
	srv, _ := testServer(t, nil)

	w := do(t, srv, "GET", "/api/relationships", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", strings.TrimSpace(w.Body.String()))

	do(t, srv, "POST", "/api/interactions", `{"agent_id":"x:low","kind":"like_received"}`)
	do(t, srv, "POST", "/api/interactions", `{"agent_id":"x:high","kind":"tip"}`)

	w = do(t, srv, "GET", "/api/relationships", "")
	require.Equal(t, http.StatusOK, w.Code)
	summaries := decode[[]engine.Summary](t, w)
	require.Len(t, summaries, 2)
	assert.Equal(t, "x:high", summaries[0].Agent)
	assert.Equal(t, "x:low", summaries[1].Agent)
}

func TestCurationRoutes(t *testing.T) {
	srv, _ := testServer(t, nil)
	do(t, srv, "POST", "/api/interactions", `{"agent_id":"x:a","kind":"reply"}`)

	w := do(t, srv, "POST", "/api/relationships/x:a/pin", `{"pinned":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[relationshipJSON](t, w).Pinned)

	w = do(t, srv, "POST", "/api/relationships/x:a/pin", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, srv, "POST", "/api/relationships/x:a/pin", `{"pinned":true,"tier":4}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, engine.TierInnerCircle, decode[relationshipJSON](t, w).Tier)

	w = do(t, srv, "POST", "/api/relationships/x:a/pin", `{"pinned":true,"tier":9}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(t, srv, "POST", "/api/relationships/x:a/pin", `{"pinned":false,"tier":2}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, srv, "POST", "/api/relationships/x:a/classify", `{"classification":"rival"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "rival", decode[relationshipJSON](t, w).Classification)

	w = do(t, srv, "POST", "/api/relationships/x:a/classify", `{"classification":"no spaces please"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, srv, "POST", "/api/relationships/x:nobody/pin", `{"pinned":true}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSweepEndpoint(t *testing.T) {
	srv, _ := testServer(t, nil)
	do(t, srv, "POST", "/api/interactions", `{"agent_id":"x:a","kind":"reply","occurred_at":"2020-01-01T00:00:00Z"}`)

	w := do(t, srv, "POST", "/api/sweep", "")
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[engine.SweepResult](t, w)
	assert.Equal(t, 1, res.Scanned)
	assert.Equal(t, 1, res.Dormant)
}

func TestNarrativesEndpoint(t *testing.T) {
	srv, _ := testServer(t, nil)
	w := do(t, srv, "POST", "/api/narratives", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	srv, _ = testServer(t, &llm.Stub{})
	do(t, srv, "POST", "/api/interactions", `{"agent_id":"x:a","kind":"reply","content":"hello"}`)
	do(t, srv, "POST", "/api/interactions", `{"agent_id":"x:b","kind":"reply","content":"hello"}`)

	w = do(t, srv, "POST", "/api/narratives?batch_size=1", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[engine.BatchResult](t, w)
	assert.Equal(t, 1, res.Generated)
	require.Len(t, res.Items, 1)
	assert.Equal(t, engine.ItemGenerated, res.Items[0].Status)

	w = do(t, srv, "GET", "/api/relationships/x:a", "")
	assert.Contains(t, decode[relationshipJSON](t, w).Backstory, "x:a has crossed paths with us 1 times")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&engine.ValidationError{Field: "kind", Reason: "bad"}, http.StatusBadRequest},
		{engine.ErrNotFound, http.StatusNotFound},
		{engine.ErrBatchInProgress, http.StatusConflict},
		{engine.ErrNarrativeDisabled, http.StatusServiceUnavailable},
		{&engine.StorageError{Op: "x", Err: context.DeadlineExceeded}, http.StatusServiceUnavailable},
		{&engine.ExternalServiceError{Service: "narrative"}, http.StatusBadGateway},
		{context.Canceled, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), "%v", tt.err)
	}
}

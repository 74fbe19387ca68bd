package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/rapport/internal/engine"
	"github.com/lazypower/rapport/internal/store"
)

func fakeServer(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return NewWithURL(ts.URL, ts.Client())
}

func TestNewUsesEnv(t *testing.T) {
	t.Setenv("RAPPORT_URL", "http://127.0.0.1:9999")
	assert.Equal(t, "http://127.0.0.1:9999", New().serverURL)

	t.Setenv("RAPPORT_URL", "")
	assert.Equal(t, defaultServerURL, New().serverURL)
}

func TestHealthy(t *testing.T) {
	c := fakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/health" {
			json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
			return
		}
		http.NotFound(w, r)
	})
	assert.True(t, c.Healthy(context.Background()))

	down := NewWithURL("http://127.0.0.1:1", nil)
	assert.False(t, down.Healthy(context.Background()))
}

func TestRecord(t *testing.T) {
	var got engine.Event
	c := fakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/interactions", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))
		json.NewEncoder(w).Encode(map[string]any{
			"agent": got.AgentID, "tier": 1, "tier_label": "acquaintance", "score": 5, "interactions": 2,
			"status": "active", "memorable_moments": []string{"tipped us"},
		})
	})

	rel, err := c.Record(context.Background(), engine.Event{AgentID: "moltx:a", Kind: store.KindTip, Content: "gm"})
	require.NoError(t, err)
	assert.Equal(t, "moltx:a", got.AgentID)
	assert.Equal(t, store.KindTip, got.Kind)
	assert.Equal(t, "acquaintance", rel.TierLabel)
	assert.Equal(t, 2, rel.Interactions)
	assert.Equal(t, []string{"tipped us"}, rel.MemorableMoments)
}

func TestErrorResponses(t *testing.T) {
	c := fakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid kind: unknown kind \"poke\""})
	})

	_, err := c.Record(context.Background(), engine.Event{AgentID: "x:a", Kind: "poke"})
	require.Error(t, err)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadRequest, se.Code)
	assert.Contains(t, se.Body, "unknown kind")
}

func TestContextEscapesAgent(t *testing.T) {
	c := fakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/relationships/moltx:Slop%20Launcher/context", r.URL.EscapedPath())
		json.NewEncoder(w).Encode(map[string]string{"context": "Unknown agent"})
	})
	text, err := c.Context(context.Background(), "moltx:Slop Launcher")
	require.NoError(t, err)
	assert.Equal(t, "Unknown agent", text)
}

func TestExport(t *testing.T) {
	c := fakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		engine.WriteSnapshot(w, []engine.Summary{{Agent: "x:a", Tier: 2, TierLabel: "known", MemorableMoments: []string{}}})
	})
	out, err := c.Export(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "known", out[0].TierLabel)
}

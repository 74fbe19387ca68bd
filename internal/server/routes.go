package server

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lazypower/rapport/internal/engine"
	"github.com/lazypower/rapport/internal/store"
)

// relationshipJSON is the detailed view of one relationship.
type relationshipJSON struct {
	Agent            string            `json:"agent"`
	Tier             int               `json:"tier"`
	TierLabel        string            `json:"tier_label"`
	Score            float64           `json:"score"`
	Interactions     int               `json:"interactions"`
	DistinctKinds    int               `json:"distinct_kinds"`
	FirstInteraction time.Time         `json:"first_interaction"`
	LastInteraction  time.Time         `json:"last_interaction"`
	Status           store.Status      `json:"status"`
	Pinned           bool              `json:"pinned"`
	Classification   string            `json:"classification,omitempty"`
	Backstory        string            `json:"backstory,omitempty"`
	BackstoryAt      *time.Time        `json:"backstory_generated_at,omitempty"`
	Arc              string            `json:"arc,omitempty"`
	Topics           []string          `json:"topics"`
	MemorableMoments []string          `json:"memorable_moments"`
	Recent           []interactionJSON `json:"recent,omitempty"`
}

type interactionJSON struct {
	EventID    string     `json:"event_id"`
	Kind       store.Kind `json:"kind"`
	Content    string     `json:"content,omitempty"`
	Weight     float64    `json:"weight"`
	OccurredAt time.Time  `json:"occurred_at"`
}

func millis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func toRelationshipJSON(r *store.Relationship) relationshipJSON {
	out := relationshipJSON{
		Agent:            r.AgentID,
		Tier:             r.Tier,
		TierLabel:        engine.TierLabel(r.Tier),
		Score:            r.EngagementScore,
		Interactions:     r.InteractionCount,
		DistinctKinds:    r.DistinctKinds,
		FirstInteraction: millis(r.FirstInteractionAt),
		LastInteraction:  millis(r.LastInteractionAt),
		Status:           r.Status,
		Pinned:           r.Pinned,
		Classification:   r.Classification,
		Backstory:        r.Backstory,
		Arc:              r.Arc,
		Topics:           r.TopTopics,
		MemorableMoments: r.MemorableMoments,
	}
	if r.BackstoryGeneratedAt != nil {
		t := millis(*r.BackstoryGeneratedAt)
		out.BackstoryAt = &t
	}
	if out.MemorableMoments == nil {
		out.MemorableMoments = []string{}
	}
	if out.Topics == nil {
		out.Topics = []string{}
	}
	return out
}

// agentParam returns the {agent} path segment, unescaping "%3A" style input.
func agentParam(r *http.Request) string {
	raw := chi.URLParam(r, "agent")
	if agent, err := url.PathUnescape(raw); err == nil {
		return agent
	}
	return raw
}

func intQuery(r *http.Request, name string, def int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return false
	}
	return true
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	var ev engine.Event
	if !decodeBody(w, r, &ev) {
		return
	}

	rel, err := s.engine.Record(r.Context(), ev)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRelationshipJSON(rel))
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.engine.Export(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	engine.WriteSnapshot(w, summaries)
}

func (s *Server) handleRelationship(w http.ResponseWriter, r *http.Request) {
	agent := agentParam(r)
	rel, err := s.engine.Relationship(r.Context(), agent)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	recent, err := s.engine.RecentInteractions(r.Context(), agent, intQuery(r, "recent", 15))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out := toRelationshipJSON(rel)
	for _, in := range recent {
		out.Recent = append(out.Recent, interactionJSON{
			EventID:    in.EventID,
			Kind:       in.Kind,
			Content:    in.Content,
			Weight:     in.Weight,
			OccurredAt: millis(in.OccurredAt),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	agent := agentParam(r)
	text, err := s.engine.Context(r.Context(), agent)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"agent": agent, "context": text})
}

func (s *Server) handlePin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Pinned *bool `json:"pinned"`
		Tier   *int  `json:"tier"` // optional curated tier, pins too
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Pinned == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "pinned required"})
		return
	}

	var rel *store.Relationship
	var err error
	switch {
	case req.Tier != nil && !*req.Pinned:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "tier requires pinned"})
		return
	case req.Tier != nil:
		rel, err = s.engine.PinAtTier(r.Context(), agentParam(r), *req.Tier)
	default:
		rel, err = s.engine.Pin(r.Context(), agentParam(r), *req.Pinned)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRelationshipJSON(rel))
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Classification string `json:"classification"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	rel, err := s.engine.Classify(r.Context(), agentParam(r), req.Classification)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRelationshipJSON(rel))
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.Sweep(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleNarratives runs one batch synchronously. Calls already in flight
// finish even if the client goes away; undispatched items are skipped.
func (s *Server) handleNarratives(w http.ResponseWriter, r *http.Request) {
	batchSize := intQuery(r, "batch_size", s.engine.Config().Narrative.BatchSize)

	res, err := s.engine.RunNarrativeBatch(r.Context(), batchSize)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

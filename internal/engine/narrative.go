package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/lazypower/rapport/internal/llm"
	"github.com/lazypower/rapport/internal/store"
)

// ItemStatus is the outcome of one relationship in a narrative batch.
type ItemStatus string

const (
	ItemGenerated ItemStatus = "generated"
	ItemFailed    ItemStatus = "failed"
	ItemSkipped   ItemStatus = "skipped" // not dispatched before the batch deadline
)

// ItemResult records what happened to one selected relationship. The arc
// is best effort: a failed arc leaves the item generated.
type ItemResult struct {
	AgentID  string        `json:"agent"`
	Status   ItemStatus    `json:"status"`
	Err      error         `json:"-"`
	Error    string        `json:"error,omitempty"`
	Arc      bool          `json:"arc"`
	ArcError string        `json:"arc_error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// BatchResult is the fan-in of one narrative batch.
type BatchResult struct {
	ID        string        `json:"id"`
	Items     []ItemResult  `json:"items"`
	Generated int           `json:"generated"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Arcs      int           `json:"arcs"`
	Elapsed   time.Duration `json:"elapsed"`
}

// GenerateBackstories runs one narrative batch and returns how many
// backstories were written.
func (e *Engine) GenerateBackstories(ctx context.Context, batchSize int) (int, error) {
	res, err := e.RunNarrativeBatch(ctx, batchSize)
	if err != nil {
		return 0, err
	}
	return res.Generated, nil
}

// RunNarrativeBatch selects up to batchSize relationships that need a fresh
// backstory, highest engagement first, and generates them with bounded
// parallelism. Per-item failures are recorded in the result and never fail
// the batch; the relationship stays eligible for the next run.
func (e *Engine) RunNarrativeBatch(ctx context.Context, batchSize int) (*BatchResult, error) {
	if e.Narrator == nil {
		return nil, ErrNarrativeDisabled
	}
	if !e.batchMu.TryLock() {
		return nil, ErrBatchInProgress
	}
	defer e.batchMu.Unlock()

	ncfg := e.cfg.Narrative
	if batchSize <= 0 {
		batchSize = ncfg.BatchSize
	}
	started := e.Now()
	res := &BatchResult{ID: uuid.NewString()}

	candidates, err := e.DB.ListNarrativeCandidates(ctx, store.NarrativeQuery{
		StaleBefore:     started.Add(-ncfg.StaleAfter.Duration).UnixMilli(),
		MinInteractions: ncfg.MinInteractions,
		Limit:           batchSize,
	})
	if err != nil {
		return nil, e.storageFailure("list narrative candidates", err)
	}
	res.Items = make([]ItemResult, len(candidates))
	if len(candidates) == 0 {
		return res, nil
	}

	// The deadline only gates dispatch. Calls already in flight run to
	// their own timeout.
	dispatchCtx, cancel := context.WithTimeout(ctx, ncfg.BatchDeadline.Duration)
	defer cancel()
	callBase := context.WithoutCancel(ctx)

	e.Log.Info("narrative: batch started", "batch", res.ID, "candidates", len(candidates),
		"parallelism", ncfg.Parallelism)

	g := new(errgroup.Group)
	g.SetLimit(ncfg.Parallelism)
	for i := range candidates {
		i := i
		rel := candidates[i]
		if dispatchCtx.Err() != nil {
			res.Items[i] = skipped(rel.AgentID, dispatchCtx.Err())
			continue
		}
		g.Go(func() error {
			if err := dispatchCtx.Err(); err != nil {
				res.Items[i] = skipped(rel.AgentID, err)
				return nil
			}
			if e.limiter != nil {
				if err := e.limiter.Wait(dispatchCtx); err != nil {
					res.Items[i] = skipped(rel.AgentID, err)
					return nil
				}
			}
			res.Items[i] = e.narrateOne(callBase, &rel)
			return nil
		})
	}
	g.Wait()

	for _, item := range res.Items {
		switch item.Status {
		case ItemGenerated:
			res.Generated++
		case ItemFailed:
			res.Failed++
		default:
			res.Skipped++
		}
		if item.Arc {
			res.Arcs++
		}
	}
	res.Elapsed = e.Now().Sub(started)
	e.stats.generated.Add(uint64(res.Generated))
	e.stats.narrativeFailed.Add(uint64(res.Failed))

	e.Log.Info("narrative: batch done", "batch", res.ID, "generated", res.Generated,
		"failed", res.Failed, "skipped", res.Skipped, "arcs", res.Arcs, "elapsed", res.Elapsed)
	return res, nil
}

func skipped(agentID string, err error) ItemResult {
	return ItemResult{AgentID: agentID, Status: ItemSkipped, Err: err, Error: err.Error()}
}

// narrateOne generates and stores one backstory, then the relationship arc.
// It never panics and never touches tier, score or counts.
func (e *Engine) narrateOne(ctx context.Context, rel *store.Relationship) (res ItemResult) {
	start := time.Now()
	res = ItemResult{AgentID: rel.AgentID, Status: ItemGenerated}
	defer func() {
		if p := recover(); p != nil {
			res.Status = ItemFailed
			res.Err = fmt.Errorf("panic: %v", p)
		}
		if res.Err != nil {
			res.Error = res.Err.Error()
			e.Log.Warn("narrative: item failed", "agent", rel.AgentID, "err", res.Err)
		}
		res.Duration = time.Since(start)
	}()

	fail := func(err error) ItemResult {
		res.Status = ItemFailed
		res.Err = err
		return res
	}

	ncfg := e.cfg.Narrative
	bc, err := e.backstoryContext(ctx, rel)
	if err != nil {
		return fail(storageErr("load narrative context", err))
	}

	resp, err := e.complete(ctx, llm.BackstoryMessages(bc))
	if err != nil {
		return fail(&ExternalServiceError{Service: "narrative", Agent: rel.AgentID, Err: err})
	}
	text, err := cleanBackstory(resp.Content, ncfg.MinChars, ncfg.MaxChars)
	if err != nil {
		return fail(&ExternalServiceError{Service: "narrative", Agent: rel.AgentID, Err: err})
	}
	if err := e.DB.SetBackstory(ctx, rel.AgentID, text, e.Now().UnixMilli()); err != nil {
		return fail(storageErr("set backstory", err))
	}
	e.Log.Debug("narrative: generated", "agent", rel.AgentID, "chars", len(text), "provider", resp.Provider)

	if err := e.narrateArc(ctx, bc, text); err != nil {
		res.ArcError = err.Error()
		e.Log.Warn("narrative: arc failed, keeping previous", "agent", rel.AgentID, "err", err)
	} else {
		res.Arc = true
	}
	return res
}

// narrateArc generates and stores the one-sentence relationship arc.
func (e *Engine) narrateArc(ctx context.Context, bc llm.BackstoryContext, backstory string) error {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	resp, err := e.complete(ctx, llm.ArcMessages(bc, backstory))
	if err != nil {
		return &ExternalServiceError{Service: "narrative", Agent: bc.Agent, Err: err}
	}
	arc, err := cleanArc(resp.Content)
	if err != nil {
		return &ExternalServiceError{Service: "narrative", Agent: bc.Agent, Err: err}
	}
	if err := e.DB.SetArc(ctx, bc.Agent, arc, e.Now().UnixMilli()); err != nil {
		return storageErr("set arc", err)
	}
	return nil
}

// complete runs one narrative call under the configured call timeout.
func (e *Engine) complete(ctx context.Context, msgs []llm.Message) (*llm.Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.Narrative.CallTimeout.Duration)
	defer cancel()
	resp, err := e.Narrator.Complete(callCtx, msgs)
	if err == nil && resp == nil {
		err = fmt.Errorf("empty response")
	}
	return resp, err
}

// backstoryContext assembles the context package for one relationship:
// recent interactions, topics, the existing backstory and memorable moments.
func (e *Engine) backstoryContext(ctx context.Context, rel *store.Relationship) (llm.BackstoryContext, error) {
	recent, err := e.DB.RecentInteractions(ctx, rel.AgentID, e.cfg.Narrative.RecentInteractions)
	if err != nil {
		return llm.BackstoryContext{}, err
	}
	agent, err := e.DB.GetAgent(ctx, rel.AgentID)
	if err != nil {
		return llm.BackstoryContext{}, err
	}

	lines := make([]string, 0, len(recent))
	for _, in := range recent {
		excerpt := in.Content
		if excerpt == "" {
			excerpt = "(no text)"
		}
		lines = append(lines, fmt.Sprintf("[%s] %s: %s",
			time.UnixMilli(in.OccurredAt).UTC().Format("2006-01-02"), in.Kind, truncateClean(excerpt, 200)))
	}

	bc := llm.BackstoryContext{
		Agent:          rel.AgentID,
		Tier:           rel.Tier,
		TierLabel:      TierLabel(rel.Tier),
		Classification: rel.Classification,
		Status:         string(rel.Status),
		Score:          rel.EngagementScore,
		Interactions:   rel.InteractionCount,
		FirstSeen:      time.UnixMilli(rel.FirstInteractionAt).UTC().Format("2006-01-02"),
		Existing:       rel.Backstory,
		Moments:        rel.MemorableMoments,
		Topics:         rel.TopTopics,
		Recent:         lines,
	}
	if agent != nil {
		bc.DisplayName = agent.DisplayName
	}
	return bc, nil
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/lazypower/rapport/internal/config"
	"github.com/lazypower/rapport/internal/llm"
	"github.com/lazypower/rapport/internal/store"
)

// Engine is the relationship engine context: one store, one narrative
// service and the settings every component reads. Build it once at startup.
type Engine struct {
	DB       *store.DB
	Narrator llm.Client // nil disables backstory generation
	Detector MomentDetector
	Log      *slog.Logger
	Now      func() time.Time

	cfg     config.EngineConfig
	locks   *keyedMutex
	limiter *rate.Limiter
	batchMu sync.Mutex
	stats   counters

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Options carries the optional collaborators for New.
type Options struct {
	Narrator llm.Client
	Detector MomentDetector // defaults from cfg.MomentDetector
	Logger   *slog.Logger
	Now      func() time.Time
}

// New creates an Engine. cfg must already be validated.
func New(db *store.DB, cfg config.EngineConfig, opts Options) (*Engine, error) {
	for kind := range cfg.DefaultWeights {
		if !store.Kind(kind).Valid() {
			return nil, fmt.Errorf("engine.default_weights: unknown kind %q", kind)
		}
	}

	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		DB:       db,
		Narrator: opts.Narrator,
		Detector: opts.Detector,
		Log:      log,
		Now:      now,
		cfg:      cfg,
		locks:    newKeyedMutex(),
		ctx:      ctx,
		cancel:   cancel,
	}

	if e.Detector == nil {
		e.Detector = HeuristicDetector{}
		if cfg.MomentDetector == "llm" && opts.Narrator != nil {
			e.Detector = &LLMDetector{
				Client:   opts.Narrator,
				Fallback: HeuristicDetector{},
				Timeout:  momentCallTimeout,
				Log:      log,
			}
		}
	}
	if rpm := cfg.Narrative.RequestsPerMinute; rpm > 0 {
		e.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1)
	}
	return e, nil
}

// Config returns the engine settings.
func (e *Engine) Config() config.EngineConfig {
	return e.cfg
}

// StartDecayTimer runs a decay sweep on startup and then every interval.
func (e *Engine) StartDecayTimer(interval time.Duration) {
	e.startTimer("decay", interval, func(ctx context.Context) {
		res, err := e.Sweep(ctx)
		if err != nil {
			e.Log.Error("decay: sweep failed", "err", err)
		}
		if res.Changed() > 0 {
			e.Log.Info("decay: swept", "scanned", res.Scanned, "dormant", res.Dormant,
				"reconnected", res.Reconnected, "reactivated", res.Reactivated, "demoted", res.Demoted)
		}
	})
}

// StartNarrativeTimer runs a narrative batch on startup and then every interval.
func (e *Engine) StartNarrativeTimer(interval time.Duration) {
	if e.Narrator == nil {
		e.Log.Warn("narrative: no service configured, timer not started")
		return
	}
	e.startTimer("narrative", interval, func(ctx context.Context) {
		if _, err := e.RunNarrativeBatch(ctx, e.cfg.Narrative.BatchSize); err != nil && !errors.Is(err, ErrBatchInProgress) {
			e.Log.Error("narrative: batch failed", "err", err)
		}
	})
}

func (e *Engine) startTimer(name string, interval time.Duration, run func(ctx context.Context)) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		run(e.ctx)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		e.Log.Debug("timer: started", "name", name, "interval", interval)

		for {
			select {
			case <-ticker.C:
				run(e.ctx)
			case <-e.ctx.Done():
				return
			}
		}
	}()
}

// Stop shuts down the engine's background goroutines and waits for them.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.cancel()
		e.wg.Wait()
	})
}

// keyedMutex serializes work per agent while letting different agents
// proceed in parallel. Entries are dropped once nobody holds or waits on them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock acquires the lock for key and returns its release func.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// Stats are cumulative counters since the engine started.
type Stats struct {
	Recorded            uint64 `json:"recorded"`
	Duplicates          uint64 `json:"duplicates"`
	Invalid             uint64 `json:"invalid"`
	StorageFailures     uint64 `json:"storage_failures"`
	Sweeps              uint64 `json:"sweeps"`
	NarrativesGenerated uint64 `json:"narratives_generated"`
	NarrativesFailed    uint64 `json:"narratives_failed"`
}

type counters struct {
	recorded, duplicates, invalid, storageFailures atomic.Uint64
	sweeps, generated, narrativeFailed             atomic.Uint64
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Recorded:            e.stats.recorded.Load(),
		Duplicates:          e.stats.duplicates.Load(),
		Invalid:             e.stats.invalid.Load(),
		StorageFailures:     e.stats.storageFailures.Load(),
		Sweeps:              e.stats.sweeps.Load(),
		NarrativesGenerated: e.stats.generated.Load(),
		NarrativesFailed:    e.stats.narrativeFailed.Load(),
	}
}

// Overview summarizes the stored relationships.
type Overview struct {
	Relationships int                  `json:"relationships"`
	Interactions  int                  `json:"interactions"`
	ByTier        map[string]int       `json:"by_tier"`
	ByStatus      map[store.Status]int `json:"by_status"`
}

// Overview counts relationships per tier and status.
func (e *Engine) Overview(ctx context.Context) (*Overview, error) {
	tiers, err := e.DB.TierCounts(ctx)
	if err != nil {
		return nil, storageErr("overview", err)
	}
	statuses, err := e.DB.StatusCounts(ctx)
	if err != nil {
		return nil, storageErr("overview", err)
	}
	interactions, err := e.DB.CountInteractions(ctx, "")
	if err != nil {
		return nil, storageErr("overview", err)
	}

	o := &Overview{
		Interactions: interactions,
		ByTier:       make(map[string]int, len(tierLabels)),
		ByStatus:     statuses,
	}
	for tier, n := range tiers {
		o.ByTier[TierLabel(tier)] = n
		o.Relationships += n
	}
	return o, nil
}

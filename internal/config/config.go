package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Config holds all rapport configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	LLM      LLMConfig      `toml:"llm"`
	Engine   EngineConfig   `toml:"engine"`
	Logging  LoggingConfig  `toml:"logging"`
}

type ServerConfig struct {
	Bind string `toml:"bind"`
	Port int    `toml:"port"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

type LLMConfig struct {
	Provider     string `toml:"provider"` // "anthropic", "openai", "ollama", "gemini", "stub"
	Model        string `toml:"model"`
	MaxTokens    int    `toml:"max_tokens"`
	AnthropicKey string `toml:"anthropic_key"`
	OpenAIKey    string `toml:"openai_key"`
	OpenAIURL    string `toml:"openai_url"` // optional base URL override
	OllamaURL    string `toml:"ollama_url"`
	GeminiKey    string `toml:"gemini_key"`
}

type LoggingConfig struct {
	Level     string `toml:"level"`  // debug, info, warn, error
	Format    string `toml:"format"` // text, json
	AddSource bool   `toml:"add_source"`
}

// TierThreshold is the minimum signal an agent needs before it can be
// promoted into Tier. All three minimums must be met.
type TierThreshold struct {
	Tier            int     `toml:"tier"`
	MinScore        float64 `toml:"min_score"`
	MinInteractions int     `toml:"min_interactions"`
	MinKinds        int     `toml:"min_kinds"`
}

// EngineConfig holds the engine knobs. Character limits count runes.
type EngineConfig struct {
	Tiers           []TierThreshold    `toml:"tiers"`
	DefaultWeights  map[string]float64 `toml:"default_weights"` // used when an event has no weight
	MaxContentChars int                `toml:"max_content_chars"`
	MomentCap       int                `toml:"moment_cap"`
	MomentDetector  string             `toml:"moment_detector"` // "heuristic" or "llm"
	Decay           DecayConfig        `toml:"decay"`
	Narrative       NarrativeConfig    `toml:"narrative"`
}

type DecayConfig struct {
	Interval      Duration `toml:"interval"`
	DormancyAfter Duration `toml:"dormancy_after"`
	DemoteAfter   Duration `toml:"demote_after"` // dormant this long past last activity (or last demotion) drops one tier
}

type NarrativeConfig struct {
	Interval           Duration `toml:"interval"`
	BatchSize          int      `toml:"batch_size"`
	Parallelism        int      `toml:"parallelism"`
	CallTimeout        Duration `toml:"call_timeout"`
	BatchDeadline      Duration `toml:"batch_deadline"`
	StaleAfter         Duration `toml:"stale_after"`
	RecentInteractions int      `toml:"recent_interactions"`
	MinInteractions    int      `toml:"min_interactions"`
	RequestsPerMinute  int      `toml:"requests_per_minute"` // 0 disables rate limiting

	// Backstory length bounds, counted in runes.
	MinChars int `toml:"min_chars"`
	MaxChars int `toml:"max_chars"`
}

// Duration is a time.Duration that reads and writes as a string in TOML.
// Besides time.ParseDuration syntax it accepts whole days, e.g. "7d".
type Duration struct {
	time.Duration
}

// D is shorthand for building a Duration.
func D(d time.Duration) Duration { return Duration{d} }

func (d *Duration) UnmarshalText(b []byte) error {
	s := strings.TrimSpace(string(b))
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return fmt.Errorf("invalid duration %q", s)
		}
		d.Duration = time.Duration(n) * 24 * time.Hour
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// DefaultTiers are the promotion thresholds used when none are configured.
func DefaultTiers() []TierThreshold {
	return []TierThreshold{
		{Tier: 1, MinScore: 3, MinInteractions: 2, MinKinds: 1},
		{Tier: 2, MinScore: 15, MinInteractions: 5, MinKinds: 1},
		{Tier: 3, MinScore: 50, MinInteractions: 15, MinKinds: 3},
		{Tier: 4, MinScore: 150, MinInteractions: 40, MinKinds: 4},
	}
}

// DefaultWeights are the per-kind signal weights used when an event omits one.
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		"mention":       2,
		"reply":         3,
		"like_received": 1,
		"like_given":    0.5,
		"follow":        2,
		"tip":           5,
		"quote":         3,
		"repost":        2,
	}
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 37778,
		},
		Database: DatabaseConfig{
			Path: "", // resolved at runtime via store.DefaultDBPath()
		},
		LLM: LLMConfig{
			Provider:  "anthropic",
			Model:     "claude-3-5-haiku-latest",
			MaxTokens: 600,
			OllamaURL: "http://127.0.0.1:11434",
		},
		Engine: EngineConfig{
			Tiers:           DefaultTiers(),
			DefaultWeights:  DefaultWeights(),
			MaxContentChars: 500,
			MomentCap:       20,
			MomentDetector:  "heuristic",
			Decay: DecayConfig{
				Interval:      D(time.Hour),
				DormancyAfter: D(7 * 24 * time.Hour),
				DemoteAfter:   D(21 * 24 * time.Hour),
			},
			Narrative: NarrativeConfig{
				Interval:           D(6 * time.Hour),
				BatchSize:          10,
				Parallelism:        3,
				CallTimeout:        D(2 * time.Minute),
				BatchDeadline:      D(10 * time.Minute),
				StaleAfter:         D(24 * time.Hour),
				RecentInteractions: 15,
				MinInteractions:    1,
				MinChars:           50,
				MaxChars:           1200,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}

// Validate checks the engine settings for values the engine cannot run with.
func (c *Config) Validate() error {
	e := &c.Engine
	if len(e.Tiers) == 0 {
		return fmt.Errorf("engine.tiers: at least one threshold required")
	}
	sort.Slice(e.Tiers, func(i, j int) bool { return e.Tiers[i].Tier < e.Tiers[j].Tier })
	for i, t := range e.Tiers {
		if t.Tier < 1 || t.Tier > 4 {
			return fmt.Errorf("engine.tiers: tier %d out of range 1..4", t.Tier)
		}
		if t.MinScore < 0 || t.MinInteractions < 0 || t.MinKinds < 0 {
			return fmt.Errorf("engine.tiers: tier %d has a negative threshold", t.Tier)
		}
		if i == 0 {
			continue
		}
		prev := e.Tiers[i-1]
		if t.Tier == prev.Tier {
			return fmt.Errorf("engine.tiers: tier %d listed twice", t.Tier)
		}
		if t.MinScore < prev.MinScore || t.MinInteractions < prev.MinInteractions || t.MinKinds < prev.MinKinds {
			return fmt.Errorf("engine.tiers: tier %d thresholds lower than tier %d", t.Tier, prev.Tier)
		}
	}
	for kind, w := range e.DefaultWeights {
		if w < 0 {
			return fmt.Errorf("engine.default_weights: %s is negative", kind)
		}
	}
	if e.MaxContentChars <= 0 {
		return fmt.Errorf("engine.max_content_chars must be positive")
	}
	if e.MomentCap <= 0 {
		return fmt.Errorf("engine.moment_cap must be positive")
	}
	switch e.MomentDetector {
	case "heuristic", "llm":
	default:
		return fmt.Errorf("engine.moment_detector: unknown detector %q", e.MomentDetector)
	}

	durations := map[string]Duration{
		"engine.decay.interval":           e.Decay.Interval,
		"engine.decay.dormancy_after":     e.Decay.DormancyAfter,
		"engine.decay.demote_after":       e.Decay.DemoteAfter,
		"engine.narrative.interval":       e.Narrative.Interval,
		"engine.narrative.call_timeout":   e.Narrative.CallTimeout,
		"engine.narrative.batch_deadline": e.Narrative.BatchDeadline,
		"engine.narrative.stale_after":    e.Narrative.StaleAfter,
	}
	for name, d := range durations {
		if d.Duration <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if e.Decay.DemoteAfter.Duration <= e.Decay.DormancyAfter.Duration {
		return fmt.Errorf("engine.decay.demote_after must exceed dormancy_after")
	}

	n := &e.Narrative
	if n.BatchSize <= 0 {
		return fmt.Errorf("engine.narrative.batch_size must be positive")
	}
	if n.Parallelism <= 0 {
		return fmt.Errorf("engine.narrative.parallelism must be positive")
	}
	if n.RecentInteractions <= 0 {
		return fmt.Errorf("engine.narrative.recent_interactions must be positive")
	}
	if n.MinInteractions < 1 {
		return fmt.Errorf("engine.narrative.min_interactions must be at least 1")
	}
	if n.RequestsPerMinute < 0 {
		return fmt.Errorf("engine.narrative.requests_per_minute must not be negative")
	}
	if n.MinChars < 0 || n.MaxChars <= n.MinChars {
		return fmt.Errorf("engine.narrative: max_chars must exceed min_chars")
	}
	return nil
}

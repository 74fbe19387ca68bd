package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// DefaultPath returns $RAPPORT_CONFIG, or ~/.rapport/config.toml.
func DefaultPath() (string, error) {
	if p := os.Getenv("RAPPORT_CONFIG"); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".rapport", "config.toml"), nil
}

// Load reads a TOML config file on top of Default(), applies environment
// overrides and validates the result. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return Config{}, fmt.Errorf("read config: %w", err)
	default:
		if err := decode(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadDefault loads the config from DefaultPath().
func LoadDefault() (Config, error) {
	path, err := DefaultPath()
	if err != nil {
		return Config{}, err
	}
	return Load(path)
}

// decode unmarshals data into cfg. Tier and weight tables replace the
// defaults only when the file sets them; weights merge per kind.
func decode(data []byte, cfg *Config) error {
	defaultTiers := cfg.Engine.Tiers
	defaultWeights := cfg.Engine.DefaultWeights
	cfg.Engine.Tiers = nil
	cfg.Engine.DefaultWeights = nil

	if err := toml.Unmarshal(data, cfg); err != nil {
		return err
	}

	if len(cfg.Engine.Tiers) == 0 {
		cfg.Engine.Tiers = defaultTiers
	}
	merged := make(map[string]float64, len(defaultWeights))
	for k, v := range defaultWeights {
		merged[k] = v
	}
	for k, v := range cfg.Engine.DefaultWeights {
		merged[k] = v
	}
	cfg.Engine.DefaultWeights = merged
	return nil
}

// ApplyEnv overlays settings taken from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("RAPPORT_DB"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("RAPPORT_LLM_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv("RAPPORT_LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" && c.LLM.AnthropicKey == "" {
		c.LLM.AnthropicKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && c.LLM.OpenAIKey == "" {
		c.LLM.OpenAIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" && c.LLM.GeminiKey == "" {
		c.LLM.GeminiKey = v
	}
	if v := os.Getenv("RAPPORT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Encode renders the config as TOML, used by `rapport config` style dumps.
func (c Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}

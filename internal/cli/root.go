package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/lazypower/rapport/internal/config"
	"github.com/lazypower/rapport/internal/engine"
	"github.com/lazypower/rapport/internal/llm"
	"github.com/lazypower/rapport/internal/store"
)

var (
	configPath string
	dbOverride string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "rapport",
	Short: "Relationship memory for autonomous social agents",
	Long: "Rapport keeps a ledger of every interaction an agent has with other accounts, " +
		"tracks relationship tiers, and writes backstories it can consult before replying.",
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $RAPPORT_CONFIG or ~/.rapport/config.toml)")
	rootCmd.PersistentFlags().StringVar(&dbOverride, "db", "", "database path (overrides config and $RAPPORT_DB)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(narrateCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(pinCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(configCmd)
}

// loadConfig reads the config file and applies command-line overrides.
func loadConfig() (config.Config, error) {
	var cfg config.Config
	var err error
	if configPath != "" {
		cfg, err = config.Load(configPath)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return cfg, err
	}
	if dbOverride != "" {
		cfg.Database.Path = dbOverride
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if cfg.Database.Path == "" {
		if cfg.Database.Path, err = store.DefaultDBPath(); err != nil {
			return cfg, fmt.Errorf("resolve db path: %w", err)
		}
	}
	return cfg, nil
}

// runtime is everything a command needs to talk to the engine directly.
type runtime struct {
	cfg     config.Config
	log     *slog.Logger
	engine  *engine.Engine
	closers []io.Closer
}

func (r *runtime) Close() {
	r.engine.Stop()
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i].Close()
	}
}

// openEngine loads config, opens the database and builds the engine. With
// narrate set, it also connects the configured narrative service; a service
// that cannot be configured is logged and narrative generation stays off.
func openEngine(ctx context.Context, narrate bool) (*runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log, err := config.NewLogger(cfg.Logging, os.Stderr)
	if err != nil {
		return nil, err
	}

	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	rt := &runtime{cfg: cfg, log: log, closers: []io.Closer{db}}

	opts := engine.Options{Logger: log}
	if narrate {
		client, err := llm.NewClient(ctx, cfg.LLM)
		if err != nil {
			log.Warn("llm: not configured, narrative disabled", "provider", cfg.LLM.Provider, "err", err)
		} else {
			opts.Narrator = client
			if c, ok := client.(io.Closer); ok {
				rt.closers = append(rt.closers, c)
			}
			log.Info("llm: configured", "provider", cfg.LLM.Provider, "model", cfg.LLM.Model)
		}
	}

	eng, err := engine.New(db, cfg.Engine, opts)
	if err != nil {
		for _, c := range rt.closers {
			c.Close()
		}
		return nil, err
	}
	rt.engine = eng
	return rt, nil
}

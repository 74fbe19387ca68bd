package cli

import (
	"github.com/spf13/cobra"

	"github.com/lazypower/rapport/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as TOML, API keys redacted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		data, err := redacted(cfg).Encode()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

func redacted(cfg config.Config) config.Config {
	for _, key := range []*string{&cfg.LLM.AnthropicKey, &cfg.LLM.OpenAIKey, &cfg.LLM.GeminiKey} {
		if *key != "" {
			*key = "REDACTED"
		}
	}
	return cfg
}

package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/lazypower/rapport/internal/config"
)

// Role tags a chat turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged turn sent to a narrative service.
type Message struct {
	Role    Role
	Content string
}

// Client is the interface for narrative-authoring services.
type Client interface {
	Complete(ctx context.Context, messages []Message) (*Response, error)
}

// Response holds the result of an LLM completion.
type Response struct {
	Content    string
	Provider   string
	TokensUsed int
}

// NewClient creates an LLM client based on the config provider setting.
func NewClient(ctx context.Context, cfg config.LLMConfig) (Client, error) {
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 600
	}
	switch cfg.Provider {
	case "anthropic":
		if cfg.AnthropicKey == "" {
			return nil, fmt.Errorf("anthropic provider requires ANTHROPIC_API_KEY or config")
		}
		model := cfg.Model
		if model == "" {
			model = "claude-3-5-haiku-latest"
		}
		return NewAnthropic(cfg.AnthropicKey, model, maxTokens), nil
	case "openai":
		if cfg.OpenAIKey == "" {
			return nil, fmt.Errorf("openai provider requires OPENAI_API_KEY or config")
		}
		model := cfg.Model
		if model == "" {
			model = "gpt-4o-mini"
		}
		return NewOpenAI("openai", cfg.OpenAIKey, cfg.OpenAIURL, model, maxTokens), nil
	case "ollama":
		url := cfg.OllamaURL
		if url == "" {
			url = "http://localhost:11434"
		}
		model := cfg.Model
		if model == "" {
			model = "llama3.2"
		}
		// Ollama serves an OpenAI-compatible API under /v1 and ignores the key.
		return NewOpenAI("ollama", "ollama", strings.TrimRight(url, "/")+"/v1", model, maxTokens), nil
	case "gemini":
		if cfg.GeminiKey == "" {
			return nil, fmt.Errorf("gemini provider requires GEMINI_API_KEY or config")
		}
		model := cfg.Model
		if model == "" {
			model = "gemini-1.5-flash"
		}
		return NewGemini(ctx, cfg.GeminiKey, model, maxTokens)
	case "stub":
		return &Stub{}, nil
	default:
		return nil, fmt.Errorf("unknown LLM provider: %q", cfg.Provider)
	}
}

// splitSystem separates leading system turns from the conversation.
// Providers that take the system prompt out of band use it.
func splitSystem(messages []Message) (string, []Message) {
	var system []string
	rest := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}

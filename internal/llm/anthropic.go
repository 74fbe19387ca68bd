package llm

import (
	"context"
	"fmt"

	"github.com/liushuangls/go-anthropic/v2"
)

// Anthropic calls the Anthropic Messages API.
type Anthropic struct {
	client    *anthropic.Client
	model     string
	maxTokens int
}

// NewAnthropic creates a new Anthropic API client.
func NewAnthropic(apiKey, model string, maxTokens int, opts ...anthropic.ClientOption) *Anthropic {
	return &Anthropic{
		client:    anthropic.NewClient(apiKey, opts...),
		model:     model,
		maxTokens: maxTokens,
	}
}

// Complete sends the conversation to the Messages API.
func (a *Anthropic) Complete(ctx context.Context, messages []Message) (*Response, error) {
	system, turns := splitSystem(messages)
	if len(turns) == 0 {
		return nil, fmt.Errorf("anthropic: no user turn")
	}

	req := anthropic.MessagesRequest{
		Model:     anthropic.Model(a.model),
		System:    system,
		MaxTokens: a.maxTokens,
	}
	for _, m := range turns {
		role := anthropic.RoleUser
		if m.Role == RoleAssistant {
			role = anthropic.RoleAssistant
		}
		req.Messages = append(req.Messages, anthropic.Message{
			Role:    role,
			Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(m.Content)},
		})
	}

	resp, err := a.client.CreateMessages(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("anthropic api: %w", err)
	}

	text := ""
	for _, c := range resp.Content {
		if c.Text != nil {
			text += *c.Text
		}
	}
	if text == "" {
		return nil, fmt.Errorf("anthropic api: no response content")
	}

	return &Response{
		Content:    text,
		Provider:   "anthropic",
		TokensUsed: resp.Usage.InputTokens + resp.Usage.OutputTokens,
	}, nil
}

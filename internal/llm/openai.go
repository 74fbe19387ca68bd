package llm

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// OpenAI calls an OpenAI-compatible chat completion endpoint. It also
// serves Ollama through its /v1 compatibility layer.
type OpenAI struct {
	client    *openai.Client
	provider  string
	model     string
	maxTokens int
}

// NewOpenAI creates a chat completion client. baseURL may be empty.
func NewOpenAI(provider, apiKey, baseURL, model string, maxTokens int) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAI{
		client:    openai.NewClientWithConfig(cfg),
		provider:  provider,
		model:     model,
		maxTokens: maxTokens,
	}
}

// Complete sends the conversation as chat messages.
func (o *OpenAI) Complete(ctx context.Context, messages []Message) (*Response, error) {
	req := openai.ChatCompletionRequest{
		Model:     o.model,
		MaxTokens: o.maxTokens,
	}
	for _, m := range messages {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case RoleSystem:
			role = openai.ChatMessageRoleSystem
		case RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		}
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s api: %w", o.provider, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s api: no response choices", o.provider)
	}

	return &Response{
		Content:    resp.Choices[0].Message.Content,
		Provider:   o.provider,
		TokensUsed: resp.Usage.TotalTokens,
	}, nil
}

package llm

import (
	"context"
	"sync"
)

// MockClient is a test double for the LLM Client interface. It is safe for
// concurrent use by the narrative worker pool.
type MockClient struct {
	Response *Response
	Err      error
	// Fn, when set, decides the result per call instead of Response/Err.
	Fn func(ctx context.Context, messages []Message) (*Response, error)

	mu    sync.Mutex
	calls [][]Message
}

// Complete records the call and returns the mock response.
func (m *MockClient) Complete(ctx context.Context, messages []Message) (*Response, error) {
	m.mu.Lock()
	m.calls = append(m.calls, messages)
	m.mu.Unlock()

	if m.Fn != nil {
		return m.Fn(ctx, messages)
	}
	return m.Response, m.Err
}

// Calls returns the conversations sent so far.
func (m *MockClient) Calls() [][]Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]Message, len(m.calls))
	copy(out, m.calls)
	return out
}

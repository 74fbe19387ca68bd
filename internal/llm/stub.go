package llm

import (
	"context"
	"fmt"
	"strings"
)

// Stub is a deterministic offline narrative service. The same conversation
// always yields the same text.
type Stub struct {
	// Text, when set, is returned verbatim.
	Text string
}

func (s *Stub) Complete(ctx context.Context, messages []Message) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Text != "" {
		return &Response{Content: s.Text, Provider: "stub"}, nil
	}

	var subject string
	lines := 0
	arc := false
	for _, m := range messages {
		if m.Role != RoleUser {
			continue
		}
		for _, line := range strings.Split(m.Content, "\n") {
			line = strings.TrimSpace(line)
			if line == "RELATIONSHIP ARC" {
				arc = true
			}
			if strings.HasPrefix(line, "AGENT:") && subject == "" {
				subject = strings.TrimSpace(strings.TrimPrefix(line, "AGENT:"))
			}
			if strings.HasPrefix(line, "[") {
				lines++
			}
		}
	}
	if subject == "" {
		subject = "this account"
	}

	if arc {
		return &Response{Content: fmt.Sprintf("Crossed paths with %s a few times, and the story is still unfolding.", subject), Provider: "stub"}, nil
	}
	text := fmt.Sprintf("%s has crossed paths with us %d times in the recent record. "+
		"The exchanges are steady rather than dramatic, and the history is still being written.", subject, lines)
	return &Response{Content: text, Provider: "stub"}, nil
}

package llm

import (
	"context"
	"strings"
	"time"
)

type mockGenerator struct{}

// NewMockGenerator returns a generator that echoes the last user message as a
// short token stream. When tools are declared it emits a tool call for the
// first tool instead of text.
func NewMockGenerator() Generator { return &mockGenerator{} }

func (m *mockGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Millisecond):
	}
	start := time.Now()

	if len(req.Tools) > 0 {
		call := &ToolCall{
			ID:        "call-0",
			Name:      req.Tools[0].Name,
			Arguments: `{"query":"` + lastUserContent(req.Messages) + `"}`,
		}
		if err := consumer(Chunk{ToolCall: call}); err != nil {
			return err
		}
		return consumer(Chunk{Done: true, CompletionTokens: 1, Latency: time.Since(start)})
	}

	reply := "[mock completion for " + lastUserContent(req.Messages) + "]"
	words := strings.SplitAfter(reply, " ")
	for _, w := range words {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := consumer(Chunk{Content: w}); err != nil {
			return err
		}
	}
	return consumer(Chunk{Done: true, CompletionTokens: len(words), Latency: time.Since(start)})
}

func lastUserContent(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return strings.TrimSpace(messages[i].Content)
		}
	}
	return ""
}

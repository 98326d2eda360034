package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type ollamaGenerator struct {
	endpoint     string
	defaultModel string
}

// NewOllamaGenerator streams chat completions from an Ollama server's
// /api/chat endpoint, including tool calls.
func NewOllamaGenerator(endpoint, defaultModel string) Generator {
	return &ollamaGenerator{endpoint: endpoint, defaultModel: defaultModel}
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaToolCall struct {
	Function ollamaToolFunction `json:"function"`
}

type ollamaToolFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type ollamaTool struct {
	Type     string         `json:"type"`
	Function ollamaToolSpec `json:"function"`
}

type ollamaToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type ollamaOptions struct {
	Temperature   float64 `json:"temperature,omitempty"`
	NumPredict    int     `json:"num_predict,omitempty"`
	TopP          float64 `json:"top_p,omitempty"`
	RepeatPenalty float64 `json:"repeat_penalty,omitempty"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Tools    []ollamaTool    `json:"tools,omitempty"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaChatResponse struct {
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	EvalCount       int           `json:"eval_count,omitempty"`
	PromptEvalCount int           `json:"prompt_eval_count,omitempty"`
}

func (g *ollamaGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	model := req.Model
	if model == "" {
		model = g.defaultModel
	}

	messages := make([]ollamaMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		om := ollamaMessage{Role: m.Role, Content: m.Content}
		for _, tc := range m.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, ollamaToolCall{
				Function: ollamaToolFunction{Name: tc.Name, Arguments: json.RawMessage(tc.Arguments)},
			})
		}
		messages = append(messages, om)
	}
	tools := make([]ollamaTool, 0, len(req.Tools))
	for _, t := range req.Tools {
		tools = append(tools, ollamaTool{
			Type:     "function",
			Function: ollamaToolSpec{Name: t.Name, Description: t.Description, Parameters: t.Parameters},
		})
	}

	body, err := json.Marshal(ollamaChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
		Tools:    tools,
		Options: ollamaOptions{
			Temperature:   req.Temperature,
			NumPredict:    req.MaxTokens,
			TopP:          req.TopP,
			RepeatPenalty: req.RepetitionPenalty,
		},
	})
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("ollama returned status %s", resp.Status)
	}

	start := time.Now()
	var promptTokens, completionTokens int
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk ollamaChatResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			return err
		}
		if chunk.EvalCount > 0 {
			completionTokens = chunk.EvalCount
		}
		if chunk.PromptEvalCount > 0 {
			promptTokens = chunk.PromptEvalCount
		}
		for i, tc := range chunk.Message.ToolCalls {
			call := &ToolCall{
				ID:        fmt.Sprintf("call-%d", i),
				Name:      tc.Function.Name,
				Arguments: string(tc.Function.Arguments),
			}
			if err := consumer(Chunk{ToolCall: call}); err != nil {
				return err
			}
		}
		if chunk.Message.Content != "" {
			if err := consumer(Chunk{Content: chunk.Message.Content}); err != nil {
				return err
			}
		}
		if chunk.Done {
			return consumer(Chunk{
				Done:             true,
				PromptTokens:     promptTokens,
				CompletionTokens: completionTokens,
				Latency:          time.Since(start),
			})
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return consumer(Chunk{Done: true, PromptTokens: promptTokens, CompletionTokens: completionTokens, Latency: time.Since(start)})
}

package httpapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/voxway/voxway/internal/llm"
)

type chatFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
	Arguments   string          `json:"arguments,omitempty"`
}

type chatToolSpec struct {
	Type     string       `json:"type"`
	Function chatFunction `json:"function"`
}

type chatMessage struct {
	Role       string `json:"role"`
	Content    string `json:"content"`
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolCalls  []struct {
		ID       string       `json:"id"`
		Function chatFunction `json:"function"`
	} `json:"tool_calls,omitempty"`
}

type chatRequest struct {
	Model             string         `json:"model"`
	Messages          []chatMessage  `json:"messages"`
	Stream            bool           `json:"stream"`
	Temperature       *float64       `json:"temperature"`
	MaxTokens         *int           `json:"max_tokens"`
	TopP              *float64       `json:"top_p"`
	RepetitionPenalty *float64       `json:"repetition_penalty"`
	AdditionalContext map[string]any `json:"additional_context,omitempty"`
	Tools             []chatToolSpec `json:"tools,omitempty"`
}

// toolCallOut is the wire form of a tool call. Function is the JSON-encoded
// {name,arguments} object serialized as a string; the downstream consumer
// expects a string here, not an object.
type toolCallOut struct {
	Index    int    `json:"index"`
	ID       string `json:"id,omitempty"`
	Type     string `json:"type"`
	Function string `json:"function"`
}

type chatDelta struct {
	Role      string        `json:"role,omitempty"`
	Content   string        `json:"content,omitempty"`
	ToolCalls []toolCallOut `json:"tool_calls,omitempty"`
}

type chunkChoice struct {
	Index        int       `json:"index"`
	Delta        chatDelta `json:"delta"`
	FinishReason *string   `json:"finish_reason"`
}

type chunkEnvelope struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []chunkChoice `json:"choices"`
}

type completionMessage struct {
	Role      string        `json:"role"`
	Content   string        `json:"content"`
	ToolCalls []toolCallOut `json:"tool_calls,omitempty"`
}

type completionChoice struct {
	Index        int               `json:"index"`
	Message      completionMessage `json:"message"`
	FinishReason string            `json:"finish_reason"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type completionEnvelope struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []completionChoice `json:"choices"`
	Usage   usage              `json:"usage"`
}

func (h *handler) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.gen == nil {
		writeError(w, http.StatusServiceUnavailable, "llm surface is disabled")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages must not be empty")
		return
	}

	defaults := h.llmDefaults()
	gr := llm.Request{
		Model:             firstNonEmpty(req.Model, defaults.Model),
		Temperature:       orDefault(req.Temperature, defaults.Temperature),
		MaxTokens:         orDefaultInt(req.MaxTokens, defaults.MaxTokens),
		TopP:              orDefault(req.TopP, defaults.TopP),
		RepetitionPenalty: orDefault(req.RepetitionPenalty, defaults.RepetitionPenalty),
		Extra:             req.AdditionalContext,
	}
	for _, m := range req.Messages {
		gm := llm.Message{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			gm.ToolCalls = append(gm.ToolCalls, llm.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments})
		}
		gr.Messages = append(gr.Messages, gm)
	}
	for _, t := range req.Tools {
		gr.Tools = append(gr.Tools, llm.Tool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			Parameters:  t.Function.Parameters,
		})
	}

	id := "chatcmpl-" + uuid.NewString()
	created := time.Now().Unix()

	if req.Stream {
		h.streamCompletion(w, r, id, created, gr)
		return
	}
	h.completion(w, r, id, created, gr)
}

func (h *handler) streamCompletion(w http.ResponseWriter, r *http.Request, id string, created int64, gr llm.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	emit := func(env chunkEnvelope) error {
		data, err := json.Marshal(env)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}
	envelope := func(delta chatDelta, finish *string) chunkEnvelope {
		return chunkEnvelope{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   gr.Model,
			Choices: []chunkChoice{{Index: 0, Delta: delta, FinishReason: finish}},
		}
	}

	sentRole := false
	tokens := 0
	// Client disconnects cancel r.Context(), which cancels the generator.
	err := h.gen.Generate(r.Context(), gr, func(chunk llm.Chunk) error {
		if chunk.ToolCall != nil {
			fn, err := json.Marshal(map[string]string{
				"name":      chunk.ToolCall.Name,
				"arguments": chunk.ToolCall.Arguments,
			})
			if err != nil {
				return err
			}
			delta := chatDelta{
				ToolCalls: []toolCallOut{{Index: 0, ID: chunk.ToolCall.ID, Type: "function", Function: string(fn)}},
			}
			if !sentRole {
				delta.Role = "assistant"
				sentRole = true
			}
			return emit(envelope(delta, nil))
		}
		if chunk.Content != "" {
			tokens++
			delta := chatDelta{Content: chunk.Content}
			if !sentRole {
				delta.Role = "assistant"
				sentRole = true
			}
			return emit(envelope(delta, nil))
		}
		return nil
	})
	if err != nil {
		h.log.Warn("chat completion stream failed", slog.String("error", err.Error()))
		return
	}

	finish := "stop"
	if err := emit(envelope(chatDelta{}, &finish)); err != nil {
		return
	}
	if _, err := fmt.Fprint(w, "data: [DONE]\n\n"); err != nil {
		return
	}
	flusher.Flush()

	if h.recorder != nil {
		h.recorder.Record(r.Context(), "http", "chat", map[string]any{
			"model":  gr.Model,
			"stream": true,
			"tokens": tokens,
		})
	}
}

func (h *handler) completion(w http.ResponseWriter, r *http.Request, id string, created int64, gr llm.Request) {
	var content string
	var toolCalls []toolCallOut
	var use usage

	err := h.gen.Generate(r.Context(), gr, func(chunk llm.Chunk) error {
		if chunk.ToolCall != nil {
			fn, err := json.Marshal(map[string]string{
				"name":      chunk.ToolCall.Name,
				"arguments": chunk.ToolCall.Arguments,
			})
			if err != nil {
				return err
			}
			toolCalls = append(toolCalls, toolCallOut{
				Index:    len(toolCalls),
				ID:       chunk.ToolCall.ID,
				Type:     "function",
				Function: string(fn),
			})
			return nil
		}
		content += chunk.Content
		if chunk.Done {
			use = usage{
				PromptTokens:     chunk.PromptTokens,
				CompletionTokens: chunk.CompletionTokens,
				TotalTokens:      chunk.PromptTokens + chunk.CompletionTokens,
			}
		}
		return nil
	})
	if err != nil {
		h.log.Warn("chat completion failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "generation failed: "+err.Error())
		return
	}

	finish := "stop"
	if len(toolCalls) > 0 && content == "" {
		finish = "tool_calls"
	}
	writeJSON(w, http.StatusOK, completionEnvelope{
		ID:      id,
		Object:  "chat.completion",
		Created: created,
		Model:   gr.Model,
		Choices: []completionChoice{{
			Index:        0,
			Message:      completionMessage{Role: "assistant", Content: content, ToolCalls: toolCalls},
			FinishReason: finish,
		}},
		Usage: use,
	})

	if h.recorder != nil {
		h.recorder.Record(r.Context(), "http", "chat", map[string]any{
			"model":  gr.Model,
			"stream": false,
			"tokens": use.CompletionTokens,
		})
	}
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func orDefault(v *float64, def float64) float64 {
	if v != nil {
		return *v
	}
	return def
}

func orDefaultInt(v *int, def int) int {
	if v != nil {
		return *v
	}
	return def
}

// Package httpapi serves the OpenAI-compatible surface plus the gateway's
// settings, enumeration and observability endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/voxway/voxway/internal/capability"
	"github.com/voxway/voxway/internal/config"
	"github.com/voxway/voxway/internal/llm"
	"github.com/voxway/voxway/internal/logbuf"
	"github.com/voxway/voxway/internal/settings"
)

// Recorder persists finished interactions.
type Recorder interface {
	Record(ctx context.Context, surface, kind string, detail any)
}

// LLMSettings is the mutable subset of generation parameters exposed over
// /api/llm/settings.
type LLMSettings struct {
	Model             string  `json:"model"`
	Temperature       float64 `json:"temperature"`
	MaxTokens         int     `json:"max_tokens"`
	TopP              float64 `json:"top_p"`
	RepetitionPenalty float64 `json:"repetition_penalty"`
}

type llmSettingsPatch struct {
	Model             *string  `json:"model"`
	Temperature       *float64 `json:"temperature"`
	MaxTokens         *int     `json:"max_tokens"`
	TopP              *float64 `json:"top_p"`
	RepetitionPenalty *float64 `json:"repetition_penalty"`
}

// Options wires the handler's collaborators.
type Options struct {
	Logger         *slog.Logger
	Registry       *capability.Registry
	Settings       *settings.Store
	Generator      llm.Generator // nil when the LLM surface is disabled
	LLMConfig      config.LLMConfig
	MetricsHandler http.Handler
	Logs           *logbuf.Buffer
	Recorder       Recorder
}

type handler struct {
	log      *slog.Logger
	registry *capability.Registry
	settings *settings.Store
	gen      llm.Generator
	logs     *logbuf.Buffer
	recorder Recorder

	llmMu  sync.Mutex
	llmSet LLMSettings
}

// NewHandler builds the HTTP mux for the gateway surface.
func NewHandler(opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{
		log:      logger.With(slog.String("component", "http-api")),
		registry: opts.Registry,
		settings: opts.Settings,
		gen:      opts.Generator,
		logs:     opts.Logs,
		recorder: opts.Recorder,
		llmSet: LLMSettings{
			Model:             opts.LLMConfig.Model,
			Temperature:       opts.LLMConfig.Temperature,
			MaxTokens:         opts.LLMConfig.MaxTokens,
			TopP:              opts.LLMConfig.TopP,
			RepetitionPenalty: opts.LLMConfig.RepetitionPenalty,
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	if opts.MetricsHandler != nil {
		mux.Handle("/metrics", opts.MetricsHandler)
	}
	mux.HandleFunc("/api/wyoming/settings", h.handleWyomingSettings)
	mux.HandleFunc("/api/wyoming/tts/voices", h.handleVoices)
	mux.HandleFunc("/api/wyoming/stt/languages", h.handleLanguages)
	mux.HandleFunc("/api/logs", h.handleLogs)
	mux.HandleFunc("/v1/models", h.handleModels)
	mux.HandleFunc("/api/llm/settings", h.handleLLMSettings)
	mux.HandleFunc("/v1/chat/completions", h.handleChatCompletions)
	return mux
}

func (h *handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *handler) handleWyomingSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.settings.Snapshot())
	case http.MethodPost:
		var next settings.Settings
		if err := json.NewDecoder(r.Body).Decode(&next); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
		err := h.settings.Apply(next, func(s settings.Settings) error {
			if s.TTSVoice != "" && !h.registry.HasVoice(s.TTSVoice) {
				return fmt.Errorf("unknown voice %q", s.TTSVoice)
			}
			if s.TTSLanguage != "" {
				if _, ok := h.registry.VoiceForLanguage(s.TTSLanguage); !ok {
					return fmt.Errorf("no voice for language %q", s.TTSLanguage)
				}
			}
			if s.STTLanguage != "" && !h.registry.HasLanguage(s.STTLanguage) {
				return fmt.Errorf("unknown language %q", s.STTLanguage)
			}
			return nil
		})
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "message": "settings applied"})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *handler) handleVoices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, h.registry.Voices())
}

func (h *handler) handleLanguages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	languages := h.registry.Languages()
	if languages == nil {
		languages = []string{}
	}
	writeJSON(w, http.StatusOK, languages)
}

func (h *handler) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	q := r.URL.Query()
	now := time.Now()
	since, err := logbuf.ParseSince(q.Get("since"), now)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	maxCount := 0
	if v := q.Get("maxCount"); v != "" {
		maxCount, err = strconv.Atoi(v)
		if err != nil || maxCount < 0 {
			writeError(w, http.StatusBadRequest, "invalid maxCount")
			return
		}
	}
	level := logbuf.ParseLevel(q.Get("level"))
	records := h.logs.Query(since, level, q.Get("category"), maxCount)
	if records == nil {
		records = []logbuf.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"logs":  records,
		"count": len(records),
		"since": q.Get("since"),
	})
}

func (h *handler) handleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	type modelEntry struct {
		ID     string `json:"id"`
		Object string `json:"object"`
	}
	h.llmMu.Lock()
	model := h.llmSet.Model
	h.llmMu.Unlock()

	data := []modelEntry{}
	if h.gen != nil && model != "" {
		data = append(data, modelEntry{ID: model, Object: "model"})
	}
	writeJSON(w, http.StatusOK, map[string]any{"object": "list", "data": data})
}

func (h *handler) handleLLMSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.llmMu.Lock()
		cur := h.llmSet
		h.llmMu.Unlock()
		writeJSON(w, http.StatusOK, cur)
	case http.MethodPost:
		var patch llmSettingsPatch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
		h.llmMu.Lock()
		if patch.Model != nil {
			h.llmSet.Model = *patch.Model
		}
		if patch.Temperature != nil {
			h.llmSet.Temperature = *patch.Temperature
		}
		if patch.MaxTokens != nil {
			h.llmSet.MaxTokens = *patch.MaxTokens
		}
		if patch.TopP != nil {
			h.llmSet.TopP = *patch.TopP
		}
		if patch.RepetitionPenalty != nil {
			h.llmSet.RepetitionPenalty = *patch.RepetitionPenalty
		}
		cur := h.llmSet
		h.llmMu.Unlock()
		writeJSON(w, http.StatusOK, cur)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *handler) llmDefaults() LLMSettings {
	h.llmMu.Lock()
	defer h.llmMu.Unlock()
	return h.llmSet
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"status": "error", "message": msg})
}

package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/voxway/voxway/internal/capability"
	"github.com/voxway/voxway/internal/config"
	"github.com/voxway/voxway/internal/llm"
	"github.com/voxway/voxway/internal/logbuf"
	"github.com/voxway/voxway/internal/settings"
	"github.com/voxway/voxway/internal/stt"
	"github.com/voxway/voxway/internal/tts"
)

func newTestHandler(t *testing.T, gen llm.Generator) (http.Handler, *logbuf.Buffer) {
	t.Helper()
	store, err := settings.Open(filepath.Join(t.TempDir(), "settings.json"))
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	logs := logbuf.NewBuffer(64)
	logger := slog.New(logs.Handler(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError})))
	registry := capability.NewRegistry("voxway", "test", tts.NewMockSynth(22050, 2, 1), stt.NewMockRecognizer())

	h := NewHandler(Options{
		Logger:    logger,
		Registry:  registry,
		Settings:  store,
		Generator: gen,
		LLMConfig: config.LLMConfig{Model: "test-model", Temperature: 0.7, MaxTokens: 128},
		Logs:      logs,
	})
	return h, logs
}

func TestHealth(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("health: %d %q", rec.Code, rec.Body.String())
	}
}

func TestVoicesAndLanguages(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/wyoming/tts/voices", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("voices status %d", rec.Code)
	}
	var voices []tts.VoiceInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &voices); err != nil || len(voices) == 0 {
		t.Fatalf("voices body: %v %s", err, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/wyoming/stt/languages", nil))
	var languages []string
	if err := json.Unmarshal(rec.Body.Bytes(), &languages); err != nil || len(languages) == 0 {
		t.Fatalf("languages body: %v %s", err, rec.Body.String())
	}
}

func TestWyomingSettingsRoundTrip(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	body, _ := json.Marshal(settings.Settings{
		TTSVoice:                "mock-en",
		STTLanguage:             "en-US",
		SentencePauseSeconds:    0.5,
		SynthesisTimeoutSeconds: 7,
	})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/wyoming/settings", bytes.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("post settings: %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/wyoming/settings", nil))
	var got settings.Settings
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("get settings: %v", err)
	}
	if got.TTSVoice != "mock-en" || got.SynthesisTimeoutSeconds != 7 {
		t.Fatalf("settings not applied: %+v", got)
	}
}

func TestWyomingSettingsValidation(t *testing.T) {
	h, _ := newTestHandler(t, nil)

	body, _ := json.Marshal(settings.Settings{TTSVoice: "ghost", SynthesisTimeoutSeconds: 5})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/wyoming/settings", bytes.NewReader(body)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || resp["message"] == "" {
		t.Fatalf("error body: %s", rec.Body.String())
	}

	// Nothing was applied.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/wyoming/settings", nil))
	var got settings.Settings
	_ = json.Unmarshal(rec.Body.Bytes(), &got)
	if got.TTSVoice == "ghost" {
		t.Fatal("rejected settings were applied")
	}
}

func TestLogsEndpoint(t *testing.T) {
	h, logs := newTestHandler(t, nil)
	logger := slog.New(logs.Handler(nil))
	logger.Info("synth done", slog.String("component", "tts"))
	logger.Warn("slow", slog.String("component", "stt"))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/logs?category=tts&maxCount=10", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("logs status %d", rec.Code)
	}
	var resp struct {
		Logs  []logbuf.Record `json:"logs"`
		Count int             `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("logs body: %v", err)
	}
	if resp.Count != 1 || resp.Logs[0].Category != "tts" {
		t.Fatalf("unexpected logs: %+v", resp)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/logs?since=bogus", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid since should 400, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/logs?since=5m", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("relative since rejected: %d", rec.Code)
	}
}

func TestModelsEndpoint(t *testing.T) {
	h, _ := newTestHandler(t, llm.NewMockGenerator())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/models", nil))
	var resp struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("models body: %v", err)
	}
	if len(resp.Data) != 1 || resp.Data[0].ID != "test-model" {
		t.Fatalf("unexpected models: %+v", resp)
	}
}

func TestLLMSettingsPatch(t *testing.T) {
	h, _ := newTestHandler(t, llm.NewMockGenerator())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/llm/settings", bytes.NewReader([]byte(`{"temperature":0.1}`))))
	if rec.Code != http.StatusOK {
		t.Fatalf("patch status %d", rec.Code)
	}
	var got LLMSettings
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("patch body: %v", err)
	}
	if got.Temperature != 0.1 {
		t.Fatalf("temperature not patched: %+v", got)
	}
	if got.Model != "test-model" || got.MaxTokens != 128 {
		t.Fatalf("untouched fields changed: %+v", got)
	}
}

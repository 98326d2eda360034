package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voxway/voxway/internal/capability"
	"github.com/voxway/voxway/internal/config"
	"github.com/voxway/voxway/internal/discovery"
	"github.com/voxway/voxway/internal/eventstore"
	"github.com/voxway/voxway/internal/httpapi"
	"github.com/voxway/voxway/internal/llm"
	"github.com/voxway/voxway/internal/logbuf"
	"github.com/voxway/voxway/internal/modelstore"
	"github.com/voxway/voxway/internal/settings"
	"github.com/voxway/voxway/internal/stt"
	"github.com/voxway/voxway/internal/tts"
	"github.com/voxway/voxway/internal/wyoming"
	"go.opentelemetry.io/otel"
)

// Runtime assembles the gateway: telemetry, stores, worker backends, the
// Wyoming TCP server, the HTTP surface and the mDNS advertisement.
type Runtime struct {
	cfg     config.Config
	version string
	logger  *slog.Logger

	tracerClose func(context.Context) error
	httpServer  *http.Server
	wyoming     *wyoming.Server
	advertiser  *discovery.Advertiser
	store       *eventstore.Store
	models      *modelstore.Store
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, version string, logger *slog.Logger) *Runtime {
	return &Runtime{cfg: cfg, version: version, logger: logger}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	logBuffer := logbuf.NewBuffer(r.cfg.Telemetry.LogBuffer)
	logger := slog.New(logBuffer.Handler(r.logger.Handler()))
	r.logger = logger

	settingsStore, err := settings.Open(r.cfg.Settings.Path)
	if err != nil {
		return fmt.Errorf("failed to open settings store: %w", err)
	}

	store, err := eventstore.Open(ctx, r.cfg.EventStore, logger)
	if err != nil {
		return fmt.Errorf("failed to open interaction store: %w", err)
	}
	r.store = store

	synth, err := buildSynthesizer(r.cfg.TTS)
	if err != nil {
		return fmt.Errorf("failed to build synthesizer: %w", err)
	}
	recognizer, err := buildRecognizer(r.cfg.STT)
	if err != nil {
		return fmt.Errorf("failed to build recognizer: %w", err)
	}
	generator := buildGenerator(r.cfg.LLM)

	r.models = modelstore.New(r.cfg.ModelStore.Dir, logger)
	if r.cfg.LLM.Enabled && r.cfg.LLM.ModelURL != "" {
		modelName := r.cfg.LLM.Model
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			_, err := r.models.Load(ctx, modelName, func(ctx context.Context) (string, error) {
				return r.models.Download(ctx, r.cfg.LLM.ModelURL, path.Base(r.cfg.LLM.ModelURL), r.cfg.LLM.ModelSHA256)
			})
			if err != nil && ctx.Err() == nil {
				logger.Warn("model prefetch failed", slog.String("model", modelName), slog.String("error", err.Error()))
			}
		}()
	}

	registry := capability.NewRegistry(r.cfg.ProgramName, r.version, synth, recognizer)

	meter := otel.Meter("voxway")
	metrics, err := wyoming.NewMetrics(meter)
	if err != nil {
		return fmt.Errorf("failed to build metrics: %w", err)
	}

	wyAddr := fmt.Sprintf("%s:%d", r.cfg.Wyoming.Bind, r.cfg.Wyoming.Port)
	r.wyoming = wyoming.NewServer(wyAddr, wyoming.Options{
		Logger:     logger,
		Synth:      synth,
		Recognizer: recognizer,
		Info:       registry,
		Voices:     registry,
		Settings:   settingsStore,
		Recorder:   store,
		Metrics:    metrics,
	})
	if err := r.wyoming.Start(ctx); err != nil {
		return fmt.Errorf("failed to start wyoming server: %w", err)
	}

	apiHandler := httpapi.NewHandler(httpapi.Options{
		Logger:         logger,
		Registry:       registry,
		Settings:       settingsStore,
		Generator:      generator,
		LLMConfig:      r.cfg.LLM,
		MetricsHandler: metricsHandler,
		Logs:           logBuffer,
		Recorder:       store,
	})

	httpAddr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              httpAddr,
		Handler:           apiHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	if r.cfg.MDNS.Enabled {
		adv, err := discovery.Advertise(r.cfg.ProgramName, r.cfg.MDNS.Instance, r.cfg.Wyoming.Port, logger)
		if err != nil {
			logger.Warn("mdns advertisement failed", slog.String("error", err.Error()))
		} else {
			r.advertiser = adv
		}
	}

	r.ready.Store(true)
	logger.Info("gateway started",
		slog.String("wyoming", wyAddr),
		slog.String("http", httpAddr))

	<-ctx.Done()
	logger.Info("gateway stopping")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	r.advertiser.Close()
	r.wyoming.Close()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			logger.Warn("interaction store close error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func buildSynthesizer(cfg config.TTSConfig) (tts.Synthesizer, error) {
	switch cfg.Mode {
	case "exec":
		return tts.NewExecSynth(cfg)
	default:
		return tts.NewMockSynth(cfg.SampleRate, cfg.Width, cfg.Channels), nil
	}
}

func buildRecognizer(cfg config.STTConfig) (stt.Recognizer, error) {
	switch cfg.Mode {
	case "exec":
		return stt.NewExecRecognizer(cfg)
	default:
		return stt.NewMockRecognizer(), nil
	}
}

func buildGenerator(cfg config.LLMConfig) llm.Generator {
	if !cfg.Enabled {
		return nil
	}
	switch cfg.Mode {
	case "ollama":
		return llm.NewOllamaGenerator(cfg.Endpoint, cfg.Model)
	default:
		return llm.NewMockGenerator()
	}
}

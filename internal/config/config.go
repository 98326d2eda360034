package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	LogBuffer    int    `yaml:"log_buffer"`
}

type WyomingConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type MDNSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Instance string `yaml:"instance"`
}

type VoiceDef struct {
	Name      string   `yaml:"name"`
	Languages []string `yaml:"languages"`
	Speakers  []string `yaml:"speakers"`
}

type TTSConfig struct {
	Mode       string     `yaml:"mode"`
	Command    string     `yaml:"command"`
	Voice      string     `yaml:"voice"`
	SampleRate int        `yaml:"sample_rate"`
	Width      int        `yaml:"width"`
	Channels   int        `yaml:"channels"`
	Voices     []VoiceDef `yaml:"voices"`
}

type STTConfig struct {
	Mode          string   `yaml:"mode"`
	Command       string   `yaml:"command"`
	ModelPath     string   `yaml:"model_path"`
	LanguagesList []string `yaml:"languages"`
}

type LLMConfig struct {
	Enabled           bool    `yaml:"enabled"`
	Mode              string  `yaml:"mode"` // mock, ollama
	Endpoint          string  `yaml:"endpoint"`
	Model             string  `yaml:"model"`
	ModelURL          string  `yaml:"model_url"`
	ModelSHA256       string  `yaml:"model_sha256"`
	MaxTokens         int     `yaml:"max_tokens"`
	Temperature       float64 `yaml:"temperature"`
	TopP              float64 `yaml:"top_p"`
	RepetitionPenalty float64 `yaml:"repetition_penalty"`
}

type ModelStoreConfig struct {
	Dir string `yaml:"dir"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxRecords    int    `yaml:"max_records"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type SettingsConfig struct {
	Path string `yaml:"path"`
}

type Config struct {
	ProgramName string           `yaml:"program_name"`
	Environment string           `yaml:"environment"`
	Wyoming     WyomingConfig    `yaml:"wyoming"`
	HTTP        HTTPConfig       `yaml:"http"`
	MDNS        MDNSConfig       `yaml:"mdns"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	TTS         TTSConfig        `yaml:"tts"`
	STT         STTConfig        `yaml:"stt"`
	LLM         LLMConfig        `yaml:"llm"`
	ModelStore  ModelStoreConfig `yaml:"model_store"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Settings    SettingsConfig   `yaml:"settings"`
}

func Default() Config {
	return Config{
		ProgramName: "voxway",
		Environment: "development",
		Wyoming: WyomingConfig{
			Bind: "0.0.0.0",
			Port: 10200,
		},
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 10100,
		},
		MDNS: MDNSConfig{
			Enabled: true,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
			LogBuffer:    4096,
		},
		TTS: TTSConfig{
			Mode:       "mock",
			SampleRate: 22050,
			Width:      2,
			Channels:   1,
		},
		STT: STTConfig{
			Mode:          "mock",
			LanguagesList: []string{"en-US"},
		},
		LLM: LLMConfig{
			Enabled:     false,
			Mode:        "mock",
			Endpoint:    "http://localhost:11434",
			Model:       "llama3.2:latest",
			MaxTokens:   256,
			Temperature: 0.7,
		},
		ModelStore: ModelStoreConfig{
			Dir: "./data/models",
		},
		EventStore: EventStoreConfig{
			Path:          "./data/voxway-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxRecords:    10000,
		},
		Settings: SettingsConfig{
			Path: "./data/voxway-settings.json",
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.ProgramName, "VOXWAY_PROGRAM_NAME")
	overrideString(&cfg.Environment, "VOXWAY_ENVIRONMENT")
	overrideString(&cfg.Wyoming.Bind, "VOXWAY_WYOMING_BIND")
	overrideInt(&cfg.Wyoming.Port, "VOXWAY_WYOMING_PORT")
	overrideString(&cfg.HTTP.Bind, "VOXWAY_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "VOXWAY_HTTP_PORT")
	overrideBool(&cfg.MDNS.Enabled, "VOXWAY_MDNS_ENABLED")
	overrideString(&cfg.MDNS.Instance, "VOXWAY_MDNS_INSTANCE")
	overrideString(&cfg.Telemetry.LogLevel, "VOXWAY_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "VOXWAY_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "VOXWAY_TELEMETRY_OTLP_INSECURE")
	overrideInt(&cfg.Telemetry.LogBuffer, "VOXWAY_TELEMETRY_LOG_BUFFER")
	overrideString(&cfg.TTS.Mode, "VOXWAY_TTS_MODE")
	overrideString(&cfg.TTS.Command, "VOXWAY_TTS_COMMAND")
	overrideString(&cfg.TTS.Voice, "VOXWAY_TTS_VOICE")
	overrideInt(&cfg.TTS.SampleRate, "VOXWAY_TTS_SAMPLE_RATE")
	overrideInt(&cfg.TTS.Width, "VOXWAY_TTS_WIDTH")
	overrideInt(&cfg.TTS.Channels, "VOXWAY_TTS_CHANNELS")
	overrideString(&cfg.STT.Mode, "VOXWAY_STT_MODE")
	overrideString(&cfg.STT.Command, "VOXWAY_STT_COMMAND")
	overrideString(&cfg.STT.ModelPath, "VOXWAY_STT_MODEL_PATH")
	overrideStringSlice(&cfg.STT.LanguagesList, "VOXWAY_STT_LANGUAGES")
	overrideBool(&cfg.LLM.Enabled, "VOXWAY_LLM_ENABLED")
	overrideString(&cfg.LLM.Mode, "VOXWAY_LLM_MODE")
	overrideString(&cfg.LLM.Endpoint, "VOXWAY_LLM_ENDPOINT")
	overrideString(&cfg.LLM.Model, "VOXWAY_LLM_MODEL")
	overrideString(&cfg.LLM.ModelURL, "VOXWAY_LLM_MODEL_URL")
	overrideString(&cfg.LLM.ModelSHA256, "VOXWAY_LLM_MODEL_SHA256")
	overrideInt(&cfg.LLM.MaxTokens, "VOXWAY_LLM_MAX_TOKENS")
	overrideFloat(&cfg.LLM.Temperature, "VOXWAY_LLM_TEMPERATURE")
	overrideFloat(&cfg.LLM.TopP, "VOXWAY_LLM_TOP_P")
	overrideFloat(&cfg.LLM.RepetitionPenalty, "VOXWAY_LLM_REPETITION_PENALTY")
	overrideString(&cfg.ModelStore.Dir, "VOXWAY_MODEL_STORE_DIR")
	overrideString(&cfg.EventStore.Path, "VOXWAY_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "VOXWAY_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "VOXWAY_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxRecords, "VOXWAY_EVENT_STORE_MAX_RECORDS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "VOXWAY_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Settings.Path, "VOXWAY_SETTINGS_PATH")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.ProgramName == "" {
		return errors.New("program_name must not be empty")
	}
	if cfg.Wyoming.Port <= 0 || cfg.Wyoming.Port > 65535 {
		return errors.New("wyoming.port must be between 1 and 65535")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	switch cfg.TTS.Mode {
	case "mock", "exec":
	default:
		return errors.New("tts.mode must be one of mock|exec")
	}
	if cfg.TTS.Mode == "exec" && cfg.TTS.Command == "" {
		return errors.New("tts.command must be set when mode=exec")
	}
	if cfg.TTS.SampleRate <= 0 {
		return errors.New("tts.sample_rate must be positive")
	}
	if cfg.TTS.Width != 2 && cfg.TTS.Width != 4 {
		return errors.New("tts.width must be 2 or 4")
	}
	if cfg.TTS.Channels <= 0 {
		return errors.New("tts.channels must be positive")
	}
	switch cfg.STT.Mode {
	case "mock", "exec":
	default:
		return errors.New("stt.mode must be one of mock|exec")
	}
	if cfg.STT.Mode == "exec" && cfg.STT.Command == "" {
		return errors.New("stt.command must be set when mode=exec")
	}
	if cfg.LLM.Enabled {
		switch cfg.LLM.Mode {
		case "mock", "ollama":
		default:
			return errors.New("llm.mode must be one of mock|ollama")
		}
		if cfg.LLM.Mode == "ollama" && cfg.LLM.Endpoint == "" {
			return errors.New("llm.endpoint must be set when mode=ollama")
		}
		if cfg.LLM.MaxTokens < 0 {
			return errors.New("llm.max_tokens must be >= 0")
		}
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Telemetry.LogBuffer <= 0 {
		return errors.New("telemetry.log_buffer must be positive")
	}
	if cfg.Settings.Path == "" {
		return errors.New("settings.path must not be empty")
	}
	return nil
}

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
	StdoutTraces bool   `yaml:"stdout_traces"`
}

type HTTPConfig struct {
	Bind           string `yaml:"bind"`
	Port           int    `yaml:"port"`
	AllowAnyOrigin bool   `yaml:"allow_any_origin"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Node        NodeConfig      `yaml:"node"`
	Journal     JournalConfig   `yaml:"journal"`
	TTS         TTSConfig       `yaml:"tts"`
	STT         STTConfig       `yaml:"stt"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type NodeConfig struct {
	ID                string `yaml:"id"`
	Role              string `yaml:"role"`
	HeartbeatInterval int    `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeout  int    `yaml:"heartbeat_timeout_ms"`
}

type JournalConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxRequests   int    `yaml:"max_requests"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type TTSConfig struct {
	Enabled            bool   `yaml:"enabled"`
	Mode               string `yaml:"mode"` // mock, exec, http
	Command            string `yaml:"command"`
	Endpoint           string `yaml:"endpoint"`
	Voice              string `yaml:"voice"`
	ModelRoot          string `yaml:"model_root"`
	Model              string `yaml:"model"`
	PromptPath         string `yaml:"prompt_path"`
	PromptFallbackPath string `yaml:"prompt_fallback_path"`
	SampleRate         int    `yaml:"sample_rate"`
	Channels           int    `yaml:"channels"`
	SilenceMS          int    `yaml:"silence_ms"`
	ChunkDurationMS    int    `yaml:"chunk_duration_ms"`
	RequestTimeoutMS   int    `yaml:"request_timeout_ms"`
}

type STTConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Mode           string `yaml:"mode"` // mock, exec
	Command        string `yaml:"command"`
	ModelRoot      string `yaml:"model_root"`
	Model          string `yaml:"model"`
	Device         string `yaml:"device"`
	Language       string `yaml:"language"`
	UseITN         bool   `yaml:"use_itn"`
	SampleRate     int    `yaml:"sample_rate"`
	Channels       int    `yaml:"channels"`
	PartialEveryMS int    `yaml:"partial_every_ms"`
	PublishInterim bool   `yaml:"publish_interim"`
	// RequestTimeoutMS bounds one recognition. Zero means no limit.
	RequestTimeoutMS int `yaml:"request_timeout_ms"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-voice",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Enabled:        true,
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Node: NodeConfig{
			ID:                "loqa-voice-1",
			Role:              "voice",
			HeartbeatInterval: 2000,
			HeartbeatTimeout:  6000,
		},
		Journal: JournalConfig{
			Path:          "./data/loqa-voice.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxRequests:   10000,
		},
		TTS: TTSConfig{
			Enabled:            true,
			Mode:               "mock",
			ModelRoot:          "./pretrained_models",
			Model:              "CosyVoice-300M",
			PromptPath:         "",
			PromptFallbackPath: "",
			SampleRate:         22050,
			Channels:           1,
			SilenceMS:          1000,
			ChunkDurationMS:    400,
		},
		STT: STTConfig{
			Enabled:          true,
			Mode:             "mock",
			ModelRoot:        "./pretrained_models",
			Model:            "iic/SenseVoiceSmall",
			Device:           "cpu",
			Language:         "auto",
			UseITN:           true,
			SampleRate:       16000,
			Channels:         1,
			PartialEveryMS:   800,
			RequestTimeoutMS: 45000,
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
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_HTTP_PORT")
	overrideBool(&cfg.HTTP.AllowAnyOrigin, "LOQA_HTTP_ALLOW_ANY_ORIGIN")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.StdoutTraces, "LOQA_TELEMETRY_STDOUT_TRACES")
	overrideBool(&cfg.Bus.Enabled, "LOQA_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Node.ID, "LOQA_NODE_ID")
	overrideString(&cfg.Node.Role, "LOQA_NODE_ROLE")
	overrideInt(&cfg.Node.HeartbeatInterval, "LOQA_NODE_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Node.HeartbeatTimeout, "LOQA_NODE_HEARTBEAT_TIMEOUT_MS")
	overrideString(&cfg.Journal.Path, "LOQA_JOURNAL_PATH")
	overrideString(&cfg.Journal.RetentionMode, "LOQA_JOURNAL_RETENTION_MODE")
	overrideInt(&cfg.Journal.RetentionDays, "LOQA_JOURNAL_RETENTION_DAYS")
	overrideInt(&cfg.Journal.MaxRequests, "LOQA_JOURNAL_MAX_REQUESTS")
	overrideBool(&cfg.Journal.VacuumOnStart, "LOQA_JOURNAL_VACUUM_ON_START")
	overrideBool(&cfg.TTS.Enabled, "LOQA_TTS_ENABLED")
	overrideString(&cfg.TTS.Mode, "LOQA_TTS_MODE")
	overrideString(&cfg.TTS.Command, "LOQA_TTS_COMMAND")
	overrideString(&cfg.TTS.Endpoint, "LOQA_TTS_ENDPOINT")
	overrideString(&cfg.TTS.Voice, "LOQA_TTS_VOICE")
	overrideString(&cfg.TTS.ModelRoot, "LOQA_TTS_MODEL_ROOT")
	overrideString(&cfg.TTS.Model, "LOQA_TTS_MODEL")
	overrideString(&cfg.TTS.PromptPath, "LOQA_TTS_PROMPT_PATH")
	overrideString(&cfg.TTS.PromptFallbackPath, "LOQA_TTS_PROMPT_FALLBACK_PATH")
	overrideInt(&cfg.TTS.SampleRate, "LOQA_TTS_SAMPLE_RATE")
	overrideInt(&cfg.TTS.Channels, "LOQA_TTS_CHANNELS")
	overrideInt(&cfg.TTS.SilenceMS, "LOQA_TTS_SILENCE_MS")
	overrideInt(&cfg.TTS.ChunkDurationMS, "LOQA_TTS_CHUNK_DURATION_MS")
	overrideInt(&cfg.TTS.RequestTimeoutMS, "LOQA_TTS_REQUEST_TIMEOUT_MS")
	overrideBool(&cfg.STT.Enabled, "LOQA_STT_ENABLED")
	overrideString(&cfg.STT.Mode, "LOQA_STT_MODE")
	overrideString(&cfg.STT.Command, "LOQA_STT_COMMAND")
	overrideString(&cfg.STT.ModelRoot, "LOQA_STT_MODEL_ROOT")
	overrideString(&cfg.STT.Model, "LOQA_STT_MODEL")
	overrideString(&cfg.STT.Device, "LOQA_STT_DEVICE")
	overrideString(&cfg.STT.Language, "LOQA_STT_LANGUAGE")
	overrideBool(&cfg.STT.UseITN, "LOQA_STT_USE_ITN")
	overrideInt(&cfg.STT.SampleRate, "LOQA_STT_SAMPLE_RATE")
	overrideInt(&cfg.STT.Channels, "LOQA_STT_CHANNELS")
	overrideInt(&cfg.STT.PartialEveryMS, "LOQA_STT_PARTIAL_EVERY_MS")
	overrideBool(&cfg.STT.PublishInterim, "LOQA_STT_PUBLISH_INTERIM")
	overrideInt(&cfg.STT.RequestTimeoutMS, "LOQA_STT_REQUEST_TIMEOUT_MS")
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

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		var trimmed []string
		for _, p := range strings.Split(value, ",") {
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
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	switch strings.ToLower(cfg.Telemetry.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("telemetry.log_level must be one of debug|info|warn|error")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port == 0 || cfg.Bus.Port < -1 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 (or -1 for a random port) when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Bus.Enabled {
		if cfg.Node.ID == "" {
			return errors.New("node.id must not be empty")
		}
		if cfg.Node.HeartbeatInterval <= 0 || cfg.Node.HeartbeatTimeout < cfg.Node.HeartbeatInterval {
			return errors.New("node.heartbeat_timeout_ms must be >= node.heartbeat_interval_ms > 0")
		}
	}
	switch cfg.Journal.RetentionMode {
	case "ephemeral", "session", "persistent":
	default:
		return errors.New("journal.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.Journal.RetentionMode != "ephemeral" && cfg.Journal.Path == "" {
		return errors.New("journal.path must not be empty")
	}
	if cfg.Journal.RetentionDays < 0 {
		return errors.New("journal.retention_days must be >= 0")
	}
	if cfg.TTS.Enabled {
		switch cfg.TTS.Mode {
		case "mock", "exec", "http":
		default:
			return errors.New("tts.mode must be one of mock|exec|http")
		}
		if cfg.TTS.Mode == "exec" && cfg.TTS.Command == "" {
			return errors.New("tts.command must be set when mode=exec")
		}
		if cfg.TTS.Mode == "http" && cfg.TTS.Endpoint == "" {
			return errors.New("tts.endpoint must be set when mode=http")
		}
		if cfg.TTS.SampleRate <= 0 {
			return errors.New("tts.sample_rate must be positive")
		}
		if cfg.TTS.Channels <= 0 {
			return errors.New("tts.channels must be positive")
		}
		if cfg.TTS.SilenceMS <= 0 {
			return errors.New("tts.silence_ms must be positive")
		}
		if cfg.TTS.RequestTimeoutMS < 0 {
			return errors.New("tts.request_timeout_ms must be >= 0")
		}
	}
	if cfg.STT.Enabled {
		switch cfg.STT.Mode {
		case "mock", "exec":
		default:
			return errors.New("stt.mode must be one of mock|exec")
		}
		if cfg.STT.Mode == "exec" && cfg.STT.Command == "" {
			return errors.New("stt.command must be set when mode=exec")
		}
		if cfg.STT.SampleRate <= 0 {
			return errors.New("stt.sample_rate must be positive")
		}
		if cfg.STT.Channels <= 0 {
			return errors.New("stt.channels must be positive")
		}
		if cfg.STT.RequestTimeoutMS < 0 {
			return errors.New("stt.request_timeout_ms must be >= 0")
		}
	}
	return nil
}

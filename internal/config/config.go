package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
	TraceStdout    bool   `yaml:"trace_stdout"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	History     HistoryConfig   `yaml:"history"`
	LLM         LLMConfig       `yaml:"llm"`
	TTS         TTSConfig       `yaml:"tts"`
	Speaker     SpeakerConfig   `yaml:"speaker"`
	Playback    PlaybackConfig  `yaml:"playback"`
	Chat        ChatConfig      `yaml:"chat"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type HistoryConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"` // ephemeral, persistent
	RetentionDays int    `yaml:"retention_days"`
	MaxChannels   int    `yaml:"max_channels"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type LLMConfig struct {
	Mode        string  `yaml:"mode"` // mock, ollama, exec, openai
	Endpoint    string  `yaml:"endpoint"`
	Command     string  `yaml:"command"`
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	TimeoutMS   int     `yaml:"timeout_ms"`
}

type TTSConfig struct {
	Mode       string `yaml:"mode"` // mock, exec, azure
	Command    string `yaml:"command"`
	Voice      string `yaml:"voice"`
	Region     string `yaml:"region"`
	Endpoint   string `yaml:"endpoint"`
	APIKey     string `yaml:"api_key"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
	OutputDir  string `yaml:"output_dir"`
	TimeoutMS  int    `yaml:"timeout_ms"`
}

type SpeakerConfig struct {
	Mode               string `yaml:"mode"` // mock, exec, local, bus
	Command            string `yaml:"command"`
	MockDurationMS     int    `yaml:"mock_duration_ms"`
	ChunkBytes         int    `yaml:"chunk_bytes"`
	HeartbeatTimeoutMS int    `yaml:"heartbeat_timeout_ms"`
}

type PlaybackConfig struct {
	CleanupDelayMS int `yaml:"cleanup_delay_ms"`
}

type ChatConfig struct {
	Enabled      bool   `yaml:"enabled"`
	SystemPrompt string `yaml:"system_prompt"`
	DefaultStyle string `yaml:"default_style"`
	MaxHistory   int    `yaml:"max_history"`
	CooldownMS   int    `yaml:"cooldown_ms"`
}

const defaultSystemPrompt = "Limit your speech to 250 tokens. You are Chadbot, the cockiest frat-guy in town: part gym bro, part legendary party animal, always the center of attention. Keep your responses fun, teasing, and endlessly charismatic."

func Default() Config {
	return Config{
		RuntimeName: "loqa-voicechat",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: "",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		History: HistoryConfig{
			Path:          "./data/voicechat-history.db",
			RetentionMode: "persistent",
			RetentionDays: 30,
			MaxChannels:   1000,
		},
		LLM: LLMConfig{
			Mode:        "mock",
			Endpoint:    "https://api.openai.com/v1",
			Model:       "gpt-4o",
			MaxTokens:   250,
			Temperature: 0.9,
			TimeoutMS:   60000,
		},
		TTS: TTSConfig{
			Mode:       "mock",
			Voice:      "en-US-DavisNeural",
			SampleRate: 16000,
			Channels:   1,
			OutputDir:  os.TempDir(),
			TimeoutMS:  45000,
		},
		Speaker: SpeakerConfig{
			Mode:               "mock",
			Command:            "ffplay -nodisp -autoexit -loglevel quiet {file}",
			MockDurationMS:     1500,
			ChunkBytes:         256 * 1024,
			HeartbeatTimeoutMS: 6000,
		},
		Playback: PlaybackConfig{
			CleanupDelayMS: 500,
		},
		Chat: ChatConfig{
			Enabled:      true,
			SystemPrompt: defaultSystemPrompt,
			DefaultStyle: "cheerful",
			MaxHistory:   20,
			CooldownMS:   5000,
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
	overrideString(&cfg.RuntimeName, "VOICECHAT_RUNTIME_NAME")
	overrideString(&cfg.Environment, "VOICECHAT_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "VOICECHAT_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "VOICECHAT_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "VOICECHAT_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "VOICECHAT_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "VOICECHAT_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "VOICECHAT_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Telemetry.TraceStdout, "VOICECHAT_TELEMETRY_TRACE_STDOUT")
	overrideBool(&cfg.Bus.Embedded, "VOICECHAT_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "VOICECHAT_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "VOICECHAT_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "VOICECHAT_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "VOICECHAT_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "VOICECHAT_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "VOICECHAT_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "VOICECHAT_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "VOICECHAT_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.History.Path, "VOICECHAT_HISTORY_PATH")
	overrideString(&cfg.History.RetentionMode, "VOICECHAT_HISTORY_RETENTION_MODE")
	overrideInt(&cfg.History.RetentionDays, "VOICECHAT_HISTORY_RETENTION_DAYS")
	overrideInt(&cfg.History.MaxChannels, "VOICECHAT_HISTORY_MAX_CHANNELS")
	overrideBool(&cfg.History.VacuumOnStart, "VOICECHAT_HISTORY_VACUUM_ON_START")
	overrideString(&cfg.LLM.Mode, "VOICECHAT_LLM_MODE")
	overrideString(&cfg.LLM.Endpoint, "VOICECHAT_LLM_ENDPOINT")
	overrideString(&cfg.LLM.Command, "VOICECHAT_LLM_COMMAND")
	overrideString(&cfg.LLM.Model, "VOICECHAT_LLM_MODEL")
	overrideString(&cfg.LLM.APIKey, "VOICECHAT_LLM_API_KEY")
	overrideInt(&cfg.LLM.MaxTokens, "VOICECHAT_LLM_MAX_TOKENS")
	overrideFloat(&cfg.LLM.Temperature, "VOICECHAT_LLM_TEMPERATURE")
	overrideInt(&cfg.LLM.TimeoutMS, "VOICECHAT_LLM_TIMEOUT_MS")
	overrideString(&cfg.TTS.Mode, "VOICECHAT_TTS_MODE")
	overrideString(&cfg.TTS.Command, "VOICECHAT_TTS_COMMAND")
	overrideString(&cfg.TTS.Voice, "VOICECHAT_TTS_VOICE")
	overrideString(&cfg.TTS.Region, "VOICECHAT_TTS_REGION")
	overrideString(&cfg.TTS.Endpoint, "VOICECHAT_TTS_ENDPOINT")
	overrideString(&cfg.TTS.APIKey, "VOICECHAT_TTS_API_KEY")
	overrideInt(&cfg.TTS.SampleRate, "VOICECHAT_TTS_SAMPLE_RATE")
	overrideInt(&cfg.TTS.Channels, "VOICECHAT_TTS_CHANNELS")
	overrideString(&cfg.TTS.OutputDir, "VOICECHAT_TTS_OUTPUT_DIR")
	overrideInt(&cfg.TTS.TimeoutMS, "VOICECHAT_TTS_TIMEOUT_MS")
	overrideString(&cfg.Speaker.Mode, "VOICECHAT_SPEAKER_MODE")
	overrideString(&cfg.Speaker.Command, "VOICECHAT_SPEAKER_COMMAND")
	overrideInt(&cfg.Speaker.MockDurationMS, "VOICECHAT_SPEAKER_MOCK_DURATION_MS")
	overrideInt(&cfg.Speaker.ChunkBytes, "VOICECHAT_SPEAKER_CHUNK_BYTES")
	overrideInt(&cfg.Speaker.HeartbeatTimeoutMS, "VOICECHAT_SPEAKER_HEARTBEAT_TIMEOUT_MS")
	overrideInt(&cfg.Playback.CleanupDelayMS, "VOICECHAT_PLAYBACK_CLEANUP_DELAY_MS")
	overrideBool(&cfg.Chat.Enabled, "VOICECHAT_CHAT_ENABLED")
	overrideString(&cfg.Chat.SystemPrompt, "VOICECHAT_CHAT_SYSTEM_PROMPT")
	overrideString(&cfg.Chat.DefaultStyle, "VOICECHAT_CHAT_DEFAULT_STYLE")
	overrideInt(&cfg.Chat.MaxHistory, "VOICECHAT_CHAT_MAX_HISTORY")
	overrideInt(&cfg.Chat.CooldownMS, "VOICECHAT_CHAT_COOLDOWN_MS")
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

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
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
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	switch cfg.History.RetentionMode {
	case "ephemeral":
	case "persistent":
		if cfg.History.Path == "" {
			return errors.New("history.path must not be empty when retention_mode=persistent")
		}
	default:
		return errors.New("history.retention_mode must be one of ephemeral|persistent")
	}
	if cfg.History.RetentionDays < 0 {
		return errors.New("history.retention_days must be >= 0")
	}
	switch cfg.LLM.Mode {
	case "mock":
	case "ollama":
		if cfg.LLM.Endpoint == "" {
			return errors.New("llm.endpoint must be set when mode=ollama")
		}
	case "exec":
		if cfg.LLM.Command == "" {
			return errors.New("llm.command must be set when mode=exec")
		}
	case "openai":
		if cfg.LLM.Endpoint == "" {
			return errors.New("llm.endpoint must be set when mode=openai")
		}
		if cfg.LLM.APIKey == "" {
			return errors.New("llm.api_key must be set when mode=openai")
		}
	default:
		return errors.New("llm.mode must be one of mock|ollama|exec|openai")
	}
	if cfg.LLM.MaxTokens < 0 {
		return errors.New("llm.max_tokens must be >= 0")
	}
	switch cfg.TTS.Mode {
	case "mock":
	case "exec":
		if cfg.TTS.Command == "" {
			return errors.New("tts.command must be set when mode=exec")
		}
	case "azure":
		if cfg.TTS.APIKey == "" {
			return errors.New("tts.api_key must be set when mode=azure")
		}
		if cfg.TTS.Region == "" && cfg.TTS.Endpoint == "" {
			return errors.New("tts.region or tts.endpoint must be set when mode=azure")
		}
	default:
		return errors.New("tts.mode must be one of mock|exec|azure")
	}
	if cfg.TTS.SampleRate <= 0 {
		return errors.New("tts.sample_rate must be positive")
	}
	if cfg.TTS.Channels <= 0 {
		return errors.New("tts.channels must be positive")
	}
	if cfg.TTS.OutputDir == "" {
		return errors.New("tts.output_dir must not be empty")
	}
	switch cfg.Speaker.Mode {
	case "mock", "local":
	case "exec":
		if cfg.Speaker.Command == "" {
			return errors.New("speaker.command must be set when mode=exec")
		}
	case "bus":
		if cfg.Speaker.ChunkBytes <= 0 {
			return errors.New("speaker.chunk_bytes must be positive when mode=bus")
		}
		if cfg.Speaker.HeartbeatTimeoutMS <= 0 {
			return errors.New("speaker.heartbeat_timeout_ms must be positive when mode=bus")
		}
	default:
		return errors.New("speaker.mode must be one of mock|exec|local|bus")
	}
	if cfg.Playback.CleanupDelayMS < 0 {
		return errors.New("playback.cleanup_delay_ms must be >= 0")
	}
	if cfg.Chat.Enabled {
		if cfg.Chat.MaxHistory <= 0 {
			return errors.New("chat.max_history must be positive")
		}
		if cfg.Chat.CooldownMS < 0 {
			return errors.New("chat.cooldown_ms must be >= 0")
		}
	}
	return nil
}

// SlogLevel maps log_level onto a slog level, defaulting to info.
func (t TelemetryConfig) SlogLevel() slog.Level {
	switch strings.ToLower(t.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

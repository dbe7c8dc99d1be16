package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Playback.CleanupDelayMS != 500 {
		t.Fatalf("expected 500ms cleanup delay, got %d", cfg.Playback.CleanupDelayMS)
	}
	if cfg.Chat.MaxHistory != 20 || cfg.Chat.CooldownMS != 5000 {
		t.Fatalf("unexpected chat defaults: %+v", cfg.Chat)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voicechat.yaml")
	data := []byte(`
llm:
  mode: ollama
  endpoint: http://localhost:11434
  model: llama3.2:latest
speaker:
  mode: exec
  command: aplay {file}
playback:
  cleanup_delay_ms: 750
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LLM.Mode != "ollama" || cfg.LLM.Model != "llama3.2:latest" {
		t.Fatalf("expected llm section from file, got %+v", cfg.LLM)
	}
	if cfg.Speaker.Command != "aplay {file}" {
		t.Fatalf("expected speaker command from file, got %q", cfg.Speaker.Command)
	}
	if cfg.Playback.CleanupDelayMS != 750 {
		t.Fatalf("expected cleanup delay 750, got %d", cfg.Playback.CleanupDelayMS)
	}
	if cfg.TTS.SampleRate != 16000 {
		t.Fatalf("expected untouched defaults to survive, got %d", cfg.TTS.SampleRate)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("VOICECHAT_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("VOICECHAT_BUS_USERNAME", "alice")
	t.Setenv("VOICECHAT_BUS_PASSWORD", "secret")
	t.Setenv("VOICECHAT_BUS_TLS_INSECURE", "true")
	t.Setenv("VOICECHAT_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("VOICECHAT_LLM_MODE", "openai")
	t.Setenv("VOICECHAT_LLM_API_KEY", "sk-test")
	t.Setenv("VOICECHAT_LLM_TEMPERATURE", "0.5")
	t.Setenv("VOICECHAT_TTS_MODE", "azure")
	t.Setenv("VOICECHAT_TTS_API_KEY", "azure-key")
	t.Setenv("VOICECHAT_TTS_REGION", "eastus")
	t.Setenv("VOICECHAT_PLAYBACK_CLEANUP_DELAY_MS", "1000")
	t.Setenv("VOICECHAT_CHAT_MAX_HISTORY", "10")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.LLM.Mode != "openai" || cfg.LLM.APIKey != "sk-test" || cfg.LLM.Temperature != 0.5 {
		t.Fatalf("expected llm overrides, got %+v", cfg.LLM)
	}
	if cfg.TTS.Mode != "azure" || cfg.TTS.Region != "eastus" {
		t.Fatalf("expected tts overrides, got %+v", cfg.TTS)
	}
	if cfg.Playback.CleanupDelayMS != 1000 {
		t.Fatalf("expected cleanup delay override")
	}
	if cfg.Chat.MaxHistory != 10 {
		t.Fatalf("expected max history override")
	}
}

func TestValidateRejectsIncompleteModes(t *testing.T) {
	cases := map[string]func(*Config){
		"openai without key":  func(c *Config) { c.LLM.Mode = "openai" },
		"exec llm no command": func(c *Config) { c.LLM.Mode = "exec" },
		"azure without key":   func(c *Config) { c.TTS.Mode = "azure"; c.TTS.Region = "eastus" },
		"unknown speaker":     func(c *Config) { c.Speaker.Mode = "bluetooth" },
		"negative cleanup":    func(c *Config) { c.Playback.CleanupDelayMS = -1 },
		"bad log level":       func(c *Config) { c.Telemetry.LogLevel = "loud" },
		"bad retention":       func(c *Config) { c.History.RetentionMode = "session" },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := validate(cfg); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestSlogLevel(t *testing.T) {
	cases := map[string]slog.Level{"debug": slog.LevelDebug, "WARN": slog.LevelWarn, "error": slog.LevelError, "": slog.LevelInfo}
	for in, want := range cases {
		if got := (TelemetryConfig{LogLevel: in}).SlogLevel(); got != want {
			t.Errorf("SlogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestExampleConfigLoads(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "voicechat.example.yaml"))
	if err != nil {
		t.Fatalf("load example: %v", err)
	}
	if cfg.Speaker.Mode != "bus" || cfg.TTS.Mode != "azure" || cfg.LLM.Model != "gpt-4o" {
		t.Fatalf("unexpected example config: %+v", cfg)
	}
	if cfg.Chat.SystemPrompt == "" {
		t.Fatal("expected default system prompt to survive")
	}
}

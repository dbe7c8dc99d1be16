package runtime

import (
	"fmt"

	"github.com/loqalabs/loqa-voicechat/internal/config"
	"github.com/loqalabs/loqa-voicechat/internal/llm"
	"github.com/loqalabs/loqa-voicechat/internal/tts"
)

func newGenerator(cfg config.LLMConfig) (llm.Generator, error) {
	switch cfg.Mode {
	case "", "mock":
		return llm.NewMockGenerator(), nil
	case "ollama":
		return llm.NewOllamaGenerator(cfg.Endpoint, cfg.Model), nil
	case "exec":
		return llm.NewExecGenerator(cfg.Command)
	case "openai":
		return llm.NewOpenAIGenerator(cfg.Endpoint, cfg.APIKey, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unsupported llm mode %q", cfg.Mode)
	}
}

func newSynthesizer(cfg config.TTSConfig) (tts.Synthesizer, error) {
	switch cfg.Mode {
	case "", "mock":
		return tts.NewMockSynth(cfg.SampleRate, cfg.Channels), nil
	case "exec":
		return tts.NewExecSynth(cfg.Command)
	case "azure":
		return tts.NewAzureSynth(cfg.APIKey, cfg.Region, cfg.Endpoint, cfg.Voice, cfg.SampleRate)
	default:
		return nil, fmt.Errorf("unsupported tts mode %q", cfg.Mode)
	}
}

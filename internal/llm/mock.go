package llm

import (
	"context"
	"strings"
	"time"
)

// mockTokenDelay paces the fake stream.
const mockTokenDelay = 5 * time.Millisecond

type mockGenerator struct{}

// NewMockGenerator echoes the latest user message back one word at a time,
// followed by an empty final chunk carrying token counts.
func NewMockGenerator() Generator { return &mockGenerator{} }

func (m *mockGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	start := time.Now()
	words := strings.Fields("[mock completion for " + strings.TrimSpace(lastUserMessage(req.Messages)) + "]")
	for i, word := range words {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(mockTokenDelay):
		}
		if i < len(words)-1 {
			word += " "
		}
		if err := consumer(Chunk{Channel: req.Channel, Content: word, Partial: true, TraceID: req.TraceID}); err != nil {
			return err
		}
	}
	prompt := 0
	for _, msg := range req.Messages {
		prompt += len(strings.Fields(msg.Content))
	}
	return consumer(Chunk{
		Channel:          req.Channel,
		PromptTokens:     prompt,
		CompletionTokens: len(words),
		Latency:          time.Since(start),
		TraceID:          req.TraceID,
	})
}

package tts

import (
	"context"
	"strings"
	"time"
)

// mockWordDuration is how much silence the mock produces per spoken word.
const mockWordDuration = 150 * time.Millisecond

type mockSynth struct {
	sampleRate int
	channels   int
}

// NewMockSynth returns a synthesizer that renders silence whose length
// follows the word count of the text.
func NewMockSynth(sampleRate, channels int) Synthesizer {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if channels <= 0 {
		channels = 1
	}
	return &mockSynth{sampleRate: sampleRate, channels: channels}
}

func (m *mockSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk, 1)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		select {
		case <-ctx.Done():
			errs <- ctx.Err()
			return
		case <-time.After(50 * time.Millisecond):
		}
		words := len(strings.Fields(req.Text))
		if words == 0 {
			words = 1
		}
		frames := int(time.Duration(words) * mockWordDuration * time.Duration(m.sampleRate) / time.Second)
		chunks <- SynthChunk{
			Sequence:   0,
			SampleRate: m.sampleRate,
			Channels:   m.channels,
			PCM:        make([]byte, frames*m.channels*2),
			Final:      true,
		}
	}()
	return chunks, errs
}

package tts

import "context"

// SynthRequest is one utterance to render for a chat channel.
type SynthRequest struct {
	Channel string
	Text    string
	Voice   string
	Style   string
}

// SynthChunk carries 16-bit little-endian PCM. Chunks arrive in Sequence
// order and the last one has Final set.
type SynthChunk struct {
	Sequence   int
	SampleRate int
	Channels   int
	PCM        []byte
	Final      bool
}

// Synthesizer turns text into PCM. Both channels are closed when synthesis
// ends; at most one error is sent.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error)
}

// maxChunkBytes bounds the PCM carried by a single SynthChunk.
const maxChunkBytes = 64 * 1024

// streamPCM splits pcm into chunks on out. An empty payload still yields one
// final chunk so the format reaches the consumer.
func streamPCM(ctx context.Context, out chan<- SynthChunk, pcm []byte, sampleRate, channels int) error {
	sequence := 0
	for start := 0; start < len(pcm) || sequence == 0; start += maxChunkBytes {
		end := min(start+maxChunkBytes, len(pcm))
		chunk := SynthChunk{
			Sequence:   sequence,
			SampleRate: sampleRate,
			Channels:   channels,
			PCM:        pcm[start:end],
			Final:      end >= len(pcm),
		}
		select {
		case out <- chunk:
		case <-ctx.Done():
			return ctx.Err()
		}
		sequence++
	}
	return nil
}

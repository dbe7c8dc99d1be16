package tts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/loqalabs/loqa-voicechat/internal/playback"
)

// ErrNoAudio is returned when a synthesizer finishes without producing PCM.
var ErrNoAudio = errors.New("synthesizer produced no audio")

// Render synthesizes req and writes the result as a WAV file in dir. The
// returned resource is owned by the caller until it is handed to a playback
// job. Partial files are removed on error.
func Render(ctx context.Context, synth Synthesizer, req SynthRequest, dir string) (playback.Resource, error) {
	pcm, sampleRate, channels, err := collect(ctx, synth, req)
	if err != nil {
		return playback.Resource{}, err
	}
	if sampleRate <= 0 || channels <= 0 {
		return playback.Resource{}, ErrNoAudio
	}

	if dir == "" {
		dir = os.TempDir()
	}
	id := uuid.NewString()
	path := filepath.Join(dir, id+".wav")
	file, err := os.Create(path)
	if err != nil {
		return playback.Resource{}, fmt.Errorf("create audio file: %w", err)
	}
	if err := encodeWAV(file, pcm, sampleRate, channels); err != nil {
		file.Close()
		os.Remove(path)
		return playback.Resource{}, err
	}
	if err := file.Close(); err != nil {
		os.Remove(path)
		return playback.Resource{}, fmt.Errorf("close audio file: %w", err)
	}
	return playback.Resource{ID: id, Path: path}, nil
}

func collect(ctx context.Context, synth Synthesizer, req SynthRequest) ([]byte, int, int, error) {
	chunks, errs := synth.Synthesize(ctx, req)
	var (
		pcm        []byte
		sampleRate int
		channels   int
		synthErr   error
	)
	for chunks != nil || errs != nil {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			if sampleRate == 0 {
				sampleRate, channels = chunk.SampleRate, chunk.Channels
			}
			pcm = append(pcm, chunk.PCM...)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil && synthErr == nil {
				synthErr = err
			}
		case <-ctx.Done():
			return nil, 0, 0, ctx.Err()
		}
	}
	if synthErr != nil {
		return nil, 0, 0, fmt.Errorf("synthesize: %w", synthErr)
	}
	return pcm, sampleRate, channels, nil
}

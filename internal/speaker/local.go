package speaker

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/loqalabs/loqa-voicechat/internal/playback"
)

// oto allows a single context per process; every LocalSink shares it.
var (
	otoOnce    sync.Once
	otoContext *oto.Context
	otoErr     error
	otoRate    int
	otoChans   int
)

func sharedContext(sampleRate, channels int) (*oto.Context, error) {
	otoOnce.Do(func() {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: channels,
			Format:       oto.FormatSignedInt16LE,
		})
		if err != nil {
			otoErr = fmt.Errorf("create oto context: %w", err)
			return
		}
		<-ready
		otoContext, otoRate, otoChans = ctx, sampleRate, channels
	})
	if otoErr != nil {
		return nil, otoErr
	}
	if sampleRate != otoRate || channels != otoChans {
		return nil, fmt.Errorf("audio device already opened at %d Hz/%d ch", otoRate, otoChans)
	}
	return otoContext, nil
}

// LocalSink plays resources on the host sound card.
type LocalSink struct {
	name       string
	ctx        *oto.Context
	sampleRate int
	channels   int
	poll       time.Duration

	mu      sync.Mutex
	player  *oto.Player
	stopped bool
}

func NewLocalSink(name string, sampleRate, channels int) (*LocalSink, error) {
	ctx, err := sharedContext(sampleRate, channels)
	if err != nil {
		return nil, err
	}
	return &LocalSink{
		name:       name,
		ctx:        ctx,
		sampleRate: sampleRate,
		channels:   channels,
		poll:       20 * time.Millisecond,
	}, nil
}

func (s *LocalSink) Name() string { return s.name }

func (s *LocalSink) Play(res playback.Resource, onComplete func(error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.player != nil {
		return ErrBusy
	}

	pcm, err := loadPCM(res.Path, s.sampleRate, s.channels)
	if err != nil {
		return err
	}
	player := s.ctx.NewPlayer(bytes.NewReader(pcm))
	player.Play()
	s.player = player
	s.stopped = false

	go s.watch(player, onComplete)
	return nil
}

func (s *LocalSink) watch(player *oto.Player, onComplete func(error)) {
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()
	for range ticker.C {
		s.mu.Lock()
		stopped := s.stopped
		s.mu.Unlock()
		if stopped || !player.IsPlaying() {
			break
		}
	}

	err := player.Err()
	closeErr := player.Close()

	s.mu.Lock()
	stopped := s.stopped
	s.player = nil
	s.mu.Unlock()

	switch {
	case stopped:
		onComplete(ErrStopped)
	case err != nil:
		onComplete(fmt.Errorf("local playback: %w", err))
	default:
		onComplete(closeErr)
	}
}

func (s *LocalSink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.player == nil {
		return nil
	}
	s.stopped = true
	s.player.Pause()
	return nil
}

// loadPCM decodes a 16-bit WAV file into little-endian PCM and checks it
// matches the device format.
func loadPCM(path string, sampleRate, channels int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, errors.New("audio resource is not a valid wav file")
	}
	if dec.BitDepth != 16 {
		return nil, fmt.Errorf("unsupported wav bit depth %d", dec.BitDepth)
	}
	if int(dec.SampleRate) != sampleRate || int(dec.NumChans) != channels {
		return nil, fmt.Errorf("wav format %d Hz/%d ch does not match device %d Hz/%d ch",
			dec.SampleRate, dec.NumChans, sampleRate, channels)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}
	return pcmBytes(buf), nil
}

func pcmBytes(buf *audio.IntBuffer) []byte {
	out := make([]byte, len(buf.Data)*2)
	for i, sample := range buf.Data {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(sample)))
	}
	return out
}

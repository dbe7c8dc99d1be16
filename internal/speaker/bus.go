package speaker

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/loqalabs/loqa-voicechat/internal/bus"
	"github.com/loqalabs/loqa-voicechat/internal/playback"
	"github.com/loqalabs/loqa-voicechat/internal/protocol"
)

// BusSink streams resources to a remote speaker process over NATS. The
// remote side reports the end of each playback on its status subject.
type BusSink struct {
	speaker    string
	bus        *bus.Client
	online     func(string) bool
	chunkBytes int
	log        *slog.Logger
	sub        *nats.Subscription

	mu      sync.Mutex
	current string
	finish  func(error)
	closed  bool
}

// NewBusSink subscribes to the speaker's status subject. online may be nil;
// when set, Play refuses resources for speakers it reports offline.
func NewBusSink(speakerID string, client *bus.Client, online func(string) bool, chunkBytes int, log *slog.Logger) (*BusSink, error) {
	if chunkBytes <= 0 {
		chunkBytes = 256 * 1024
	}
	s := &BusSink{
		speaker:    speakerID,
		bus:        client,
		online:     online,
		chunkBytes: chunkBytes,
		log:        log.With(slog.String("component", "bus-speaker"), slog.String("speaker", speakerID)),
	}
	sub, err := bus.Subscribe(client, protocol.SpeakerStatusSubject(speakerID), s.handleStatus)
	if err != nil {
		return nil, fmt.Errorf("subscribe speaker status: %w", err)
	}
	s.sub = sub
	return s, nil
}

func (s *BusSink) Name() string { return "bus:" + s.speaker }

func (s *BusSink) Play(res playback.Resource, onComplete func(error)) error {
	if s.online != nil && !s.online(s.speaker) {
		return fmt.Errorf("%w: %s is offline", ErrNotConnected, s.speaker)
	}
	data, err := os.ReadFile(res.Path)
	if err != nil {
		return fmt.Errorf("read audio: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrNotConnected
	}
	if s.current != "" {
		return ErrBusy
	}

	playbackID := uuid.NewString()
	subject := protocol.SpeakerAudioSubject(s.speaker)
	for seq, start := 0, 0; start < len(data) || seq == 0; seq, start = seq+1, start+s.chunkBytes {
		end := min(start+s.chunkBytes, len(data))
		chunk := protocol.AudioChunk{
			PlaybackID: playbackID,
			Speaker:    s.speaker,
			Sequence:   seq,
			Data:       data[start:end],
			Final:      end >= len(data),
		}
		if err := s.bus.PublishJSON(subject, chunk); err != nil {
			return fmt.Errorf("publish audio chunk: %w", err)
		}
	}
	if err := s.bus.Flush(); err != nil {
		return fmt.Errorf("flush audio: %w", err)
	}
	s.current = playbackID
	s.finish = onComplete
	return nil
}

func (s *BusSink) Stop() error {
	s.mu.Lock()
	id := s.current
	s.mu.Unlock()
	if id == "" {
		return nil
	}
	return s.bus.PublishJSON(protocol.SpeakerStopSubject(s.speaker), protocol.PlaybackStatus{
		PlaybackID: id,
		Speaker:    s.speaker,
		Stopped:    true,
		Timestamp:  time.Now().UTC(),
	})
}

// Close unsubscribes and fails any playback still waiting on the remote.
func (s *BusSink) Close() error {
	var err error
	if s.sub != nil {
		err = s.sub.Unsubscribe()
	}
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.complete(s.pendingID(), ErrNotConnected)
	return err
}

func (s *BusSink) handleStatus(status protocol.PlaybackStatus) {
	var err error
	switch {
	case status.Stopped:
		err = ErrStopped
	case status.Error != "":
		err = errors.New(status.Error)
	case !status.Completed:
		return
	}
	if !s.complete(status.PlaybackID, err) {
		s.log.Debug("status for unknown playback", slog.String("playback_id", status.PlaybackID))
	}
}

func (s *BusSink) pendingID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *BusSink) complete(playbackID string, err error) bool {
	s.mu.Lock()
	if playbackID == "" || playbackID != s.current {
		s.mu.Unlock()
		return false
	}
	finish := s.finish
	s.current = ""
	s.finish = nil
	s.mu.Unlock()
	finish(err)
	return true
}

package speaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/loqalabs/loqa-voicechat/internal/bus"
	"github.com/loqalabs/loqa-voicechat/internal/playback"
	"github.com/loqalabs/loqa-voicechat/internal/protocol"
)

// Remote is the speaker-side counterpart of BusSink. It reassembles audio
// sent over the bus, plays it on a local sink and reports the outcome.
type Remote struct {
	id        string
	bus       *bus.Client
	sink      playback.Sink
	janitor   *playback.Janitor
	dir       string
	heartbeat time.Duration
	log       *slog.Logger

	mu      sync.Mutex
	partial map[string][]byte
	current string
	subs    []*nats.Subscription
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRemote builds a remote speaker that announces itself as id and plays
// received audio on sink. Files are staged in dir.
func NewRemote(id string, client *bus.Client, sink playback.Sink, dir string, heartbeat time.Duration, log *slog.Logger) *Remote {
	if dir == "" {
		dir = os.TempDir()
	}
	if heartbeat <= 0 {
		heartbeat = 2 * time.Second
	}
	log = log.With(slog.String("component", "remote-speaker"), slog.String("speaker", id))
	return &Remote{
		id:        id,
		bus:       client,
		sink:      sink,
		janitor:   playback.NewJanitor(log),
		dir:       dir,
		heartbeat: heartbeat,
		log:       log,
		partial:   make(map[string][]byte),
	}
}

func (r *Remote) Start(ctx context.Context) error {
	audioSub, err := bus.Subscribe(r.bus, protocol.SpeakerAudioSubject(r.id), r.handleAudio)
	if err != nil {
		return fmt.Errorf("subscribe audio: %w", err)
	}
	r.subs = append(r.subs, audioSub)
	stopSub, err := bus.Subscribe(r.bus, protocol.SpeakerStopSubject(r.id), r.handleStop)
	if err != nil {
		_ = audioSub.Unsubscribe()
		return fmt.Errorf("subscribe stop: %w", err)
	}
	r.subs = append(r.subs, stopSub)

	if err := r.bus.PublishJSON(protocol.SubjectSpeakerAnnounce, protocol.SpeakerAnnounce{Speaker: r.id, Timestamp: time.Now().UTC()}); err != nil {
		return fmt.Errorf("announce: %w", err)
	}
	if err := r.bus.Flush(); err != nil {
		return fmt.Errorf("flush announce: %w", err)
	}

	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go r.runHeartbeat(ctx)
	r.log.Info("remote speaker online")
	return nil
}

func (r *Remote) Close() {
	if r.cancel != nil {
		r.cancel()
	}
	for _, sub := range r.subs {
		_ = sub.Unsubscribe()
	}
	_ = r.sink.Stop()
	r.wg.Wait()
	r.janitor.Wait()
}

func (r *Remote) runHeartbeat(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			msg := protocol.SpeakerAnnounce{Speaker: r.id, Timestamp: time.Now().UTC()}
			if err := r.bus.PublishJSON(protocol.SpeakerHeartbeatSubject(r.id), msg); err != nil {
				r.log.Warn("failed to publish heartbeat", slogError(err))
			}
		}
	}
}

func (r *Remote) handleAudio(chunk protocol.AudioChunk) {
	if _, err := uuid.Parse(chunk.PlaybackID); err != nil {
		r.log.Warn("audio chunk with invalid playback id", slog.String("playback_id", chunk.PlaybackID))
		return
	}
	r.mu.Lock()
	data := append(r.partial[chunk.PlaybackID], chunk.Data...)
	if !chunk.Final {
		r.partial[chunk.PlaybackID] = data
		r.mu.Unlock()
		return
	}
	delete(r.partial, chunk.PlaybackID)
	r.mu.Unlock()

	path := filepath.Join(r.dir, chunk.PlaybackID+".wav")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		r.report(chunk.PlaybackID, fmt.Errorf("stage audio: %w", err))
		return
	}

	r.mu.Lock()
	r.current = chunk.PlaybackID
	r.mu.Unlock()

	res := playback.Resource{ID: chunk.PlaybackID, Path: path}
	err := r.sink.Play(res, func(err error) {
		r.janitor.Schedule(path, playback.DefaultCleanupDelay)
		r.mu.Lock()
		if r.current == chunk.PlaybackID {
			r.current = ""
		}
		r.mu.Unlock()
		r.report(chunk.PlaybackID, err)
	})
	if err != nil {
		r.janitor.Schedule(path, 0)
		r.mu.Lock()
		r.current = ""
		r.mu.Unlock()
		r.report(chunk.PlaybackID, err)
	}
}

func (r *Remote) handleStop(req protocol.PlaybackStatus) {
	r.mu.Lock()
	current := r.current
	r.mu.Unlock()
	if current == "" || (req.PlaybackID != "" && req.PlaybackID != current) {
		return
	}
	if err := r.sink.Stop(); err != nil {
		r.log.Warn("failed to stop playback", slogError(err))
	}
}

func (r *Remote) report(playbackID string, err error) {
	status := protocol.PlaybackStatus{
		PlaybackID: playbackID,
		Speaker:    r.id,
		Timestamp:  time.Now().UTC(),
	}
	switch {
	case err == nil:
		status.Completed = true
	case errors.Is(err, ErrStopped):
		status.Stopped = true
	default:
		status.Error = err.Error()
	}
	if pubErr := r.bus.PublishJSON(protocol.SpeakerStatusSubject(r.id), status); pubErr != nil {
		r.log.Warn("failed to publish playback status", slogError(pubErr))
	}
}

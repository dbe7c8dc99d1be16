package speaker

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/loqalabs/loqa-voicechat/internal/playback"
)

// Factory creates the sink for a channel when it joins.
type Factory func(channel string) (playback.Sink, error)

// Manager tracks the speaker connected to each channel.
type Manager struct {
	factory Factory
	log     *slog.Logger

	mu    sync.Mutex
	conns map[string]*connection
}

func NewManager(factory Factory, log *slog.Logger) *Manager {
	return &Manager{
		factory: factory,
		log:     log.With(slog.String("component", "speaker-manager")),
		conns:   make(map[string]*connection),
	}
}

// Join connects a speaker to channel.
func (m *Manager) Join(channel string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conns[channel]; ok {
		return ErrAlreadyConnected
	}
	sink, err := m.factory(channel)
	if err != nil {
		return fmt.Errorf("connect speaker: %w", err)
	}
	m.conns[channel] = &connection{sink: sink}
	m.log.Info("speaker joined", slog.String("channel", channel), slog.String("sink", sink.Name()))
	return nil
}

// Leave disconnects channel's speaker. Any resource still playing is
// stopped and jobs queued for the channel are refused when they come up.
func (m *Manager) Leave(channel string) error {
	m.mu.Lock()
	conn, ok := m.conns[channel]
	delete(m.conns, channel)
	m.mu.Unlock()
	if !ok {
		return ErrNotConnected
	}
	conn.disconnect(m.log)
	m.log.Info("speaker left", slog.String("channel", channel))
	return nil
}

// Sink returns the sink connected to channel.
func (m *Manager) Sink(channel string) (playback.Sink, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.conns[channel]
	if !ok {
		return nil, false
	}
	return conn, true
}

func (m *Manager) Connected(channel string) bool {
	_, ok := m.Sink(channel)
	return ok
}

func (m *Manager) Channels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.conns))
	for ch := range m.conns {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// Close disconnects every channel.
func (m *Manager) Close() {
	for _, ch := range m.Channels() {
		_ = m.Leave(ch)
	}
}

// connection outlives Leave inside already queued jobs, so it refuses
// playback once disconnected.
type connection struct {
	sink         playback.Sink
	disconnected atomic.Bool
}

func (c *connection) Name() string { return c.sink.Name() }

func (c *connection) Play(res playback.Resource, onComplete func(error)) error {
	if c.disconnected.Load() {
		return ErrNotConnected
	}
	return c.sink.Play(res, onComplete)
}

func (c *connection) Stop() error { return c.sink.Stop() }

func (c *connection) disconnect(log *slog.Logger) {
	c.disconnected.Store(true)
	if err := c.sink.Stop(); err != nil {
		log.Warn("failed to stop speaker", slogError(err))
	}
	if closer, ok := c.sink.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			log.Warn("failed to close speaker", slogError(err))
		}
	}
}

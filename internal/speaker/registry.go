package speaker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/loqalabs/loqa-voicechat/internal/bus"
	"github.com/loqalabs/loqa-voicechat/internal/protocol"
)

// RemoteSpeaker is a speaker process seen on the bus.
type RemoteSpeaker struct {
	ID       string    `json:"id"`
	LastSeen time.Time `json:"last_seen"`
	Healthy  bool      `json:"healthy"`
}

// Registry tracks remote speakers from their announce and heartbeat
// messages. A speaker is healthy while its last message is younger than
// the heartbeat timeout.
type Registry struct {
	log     *slog.Logger
	bus     *bus.Client
	timeout time.Duration
	now     func() time.Time

	mu       sync.RWMutex
	speakers map[string]*RemoteSpeaker

	cancel context.CancelFunc
	subs   []*nats.Subscription
	meter  metric.Meter
}

func NewRegistry(ctx context.Context, busClient *bus.Client, heartbeatTimeout time.Duration, log *slog.Logger) (*Registry, error) {
	ctx, cancel := context.WithCancel(ctx)
	r := &Registry{
		log:      log.With(slog.String("component", "speaker-registry")),
		bus:      busClient,
		timeout:  heartbeatTimeout,
		now:      time.Now,
		speakers: make(map[string]*RemoteSpeaker),
		cancel:   cancel,
		meter:    otel.Meter("github.com/loqalabs/loqa-voicechat/speaker"),
	}

	if err := r.initMetrics(); err != nil {
		r.log.Warn("failed to initialize metrics", slogError(err))
	}
	if err := r.subscribe(); err != nil {
		cancel()
		return nil, err
	}
	go r.monitorHealth(ctx)
	return r, nil
}

func (r *Registry) Close() {
	r.cancel()
	for _, sub := range r.subs {
		_ = sub.Drain()
	}
}

func (r *Registry) subscribe() error {
	announceSub, err := bus.Subscribe(r.bus, protocol.SubjectSpeakerAnnounce, r.handleAnnounce)
	if err != nil {
		return fmt.Errorf("subscribe announce: %w", err)
	}
	r.subs = append(r.subs, announceSub)

	heartbeatSub, err := bus.Subscribe(r.bus, protocol.SubjectSpeakerHeartbeatPrefix+".*", r.handleAnnounce)
	if err != nil {
		return fmt.Errorf("subscribe heartbeat: %w", err)
	}
	r.subs = append(r.subs, heartbeatSub)
	return nil
}

func (r *Registry) handleAnnounce(announcement protocol.SpeakerAnnounce) {
	if announcement.Speaker == "" {
		return
	}
	if announcement.Timestamp.IsZero() {
		announcement.Timestamp = r.now().UTC()
	}
	r.update(announcement.Speaker, announcement.Timestamp)
}

func (r *Registry) update(id string, seen time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sp, ok := r.speakers[id]
	if !ok {
		sp = &RemoteSpeaker{ID: id}
		r.speakers[id] = sp
		r.log.Info("speaker online", slog.String("speaker", id))
	}
	sp.LastSeen = seen
	sp.Healthy = true
}

func (r *Registry) monitorHealth(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.evaluateHealth()
		}
	}
}

func (r *Registry) evaluateHealth() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for _, sp := range r.speakers {
		if sp.Healthy && now.Sub(sp.LastSeen) > r.timeout {
			sp.Healthy = false
			r.log.Warn("speaker heartbeat lost", slog.String("speaker", sp.ID))
		}
	}
}

// Online reports whether id has been heard from recently.
func (r *Registry) Online(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sp, ok := r.speakers[id]
	return ok && sp.Healthy && r.now().Sub(sp.LastSeen) <= r.timeout
}

// Speakers returns every known speaker sorted by ID.
func (r *Registry) Speakers() []RemoteSpeaker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RemoteSpeaker, 0, len(r.speakers))
	for _, sp := range r.speakers {
		out = append(out, *sp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) Healthy() bool { return len(r.subs) == 2 }

func (r *Registry) initMetrics() error {
	known, err := r.meter.Int64ObservableGauge("voicechat.speakers.known", metric.WithDescription("Number of remote speakers seen"))
	if err != nil {
		return err
	}
	healthy, err := r.meter.Int64ObservableGauge("voicechat.speakers.healthy", metric.WithDescription("Number of remote speakers with a live heartbeat"))
	if err != nil {
		return err
	}
	_, err = r.meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		total, live := r.snapshotCounts()
		obs.ObserveInt64(known, total)
		obs.ObserveInt64(healthy, live)
		return nil
	}, known, healthy)
	return err
}

func (r *Registry) snapshotCounts() (int64, int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var total, live int64
	for _, sp := range r.speakers {
		total++
		if sp.Healthy {
			live++
		}
	}
	return total, live
}

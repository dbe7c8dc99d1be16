package speaker

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-voicechat/internal/bus"
	"github.com/loqalabs/loqa-voicechat/internal/config"
	"github.com/loqalabs/loqa-voicechat/internal/playback"
)

// FactoryOptions carries what the configured sink mode needs beyond its
// own config section.
type FactoryOptions struct {
	SampleRate int
	Channels   int
	Bus        *bus.Client
	Registry   *Registry
	Logger     *slog.Logger
}

// NewFactory returns a Factory for cfg.Mode.
func NewFactory(cfg config.SpeakerConfig, opts FactoryOptions) (Factory, error) {
	switch cfg.Mode {
	case "", "mock":
		duration := time.Duration(cfg.MockDurationMS) * time.Millisecond
		return func(channel string) (playback.Sink, error) {
			return NewMockSink("mock:"+channel, duration), nil
		}, nil
	case "exec":
		if _, err := NewExecSink("probe", cfg.Command); err != nil {
			return nil, err
		}
		return func(channel string) (playback.Sink, error) {
			return NewExecSink("exec:"+channel, cfg.Command)
		}, nil
	case "local":
		return func(channel string) (playback.Sink, error) {
			return NewLocalSink("local:"+channel, opts.SampleRate, opts.Channels)
		}, nil
	case "bus":
		if opts.Bus == nil {
			return nil, fmt.Errorf("bus speaker mode requires a bus connection")
		}
		var online func(string) bool
		if opts.Registry != nil {
			online = opts.Registry.Online
		}
		return func(channel string) (playback.Sink, error) {
			if online != nil && !online(channel) {
				return nil, fmt.Errorf("%w: no speaker online for %s", ErrNotConnected, channel)
			}
			return NewBusSink(channel, opts.Bus, online, cfg.ChunkBytes, opts.Logger)
		}, nil
	default:
		return nil, fmt.Errorf("unsupported speaker mode %q", cfg.Mode)
	}
}

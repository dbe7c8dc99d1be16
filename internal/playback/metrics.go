package playback

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	jobs     metric.Int64Counter
	duration metric.Float64Histogram
}

func newMetrics(meter metric.Meter, q *Queue) (*metrics, error) {
	if meter == nil {
		return nil, nil
	}
	jobs, err := meter.Int64Counter("voicechat.playback.jobs", metric.WithDescription("Playback jobs by final status"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("voicechat.playback.duration",
		metric.WithDescription("Time from play start to completion"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	depth, err := meter.Int64ObservableGauge("voicechat.playback.queue_depth", metric.WithDescription("Jobs waiting to play"))
	if err != nil {
		return nil, err
	}
	_, err = meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		obs.ObserveInt64(depth, int64(q.Len()))
		return nil
	}, depth)
	if err != nil {
		return nil, err
	}
	return &metrics{jobs: jobs, duration: duration}, nil
}

func (m *metrics) record(r Result) {
	if m == nil {
		return
	}
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("status", string(r.Status)))
	m.jobs.Add(ctx, 1, attrs)
	if r.Status != StatusDropped {
		m.duration.Record(ctx, r.Duration.Seconds(), attrs)
	}
}

package playback

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	// ErrNoSink is reported for jobs enqueued without a sink.
	ErrNoSink = errors.New("playback job has no sink")

	errAlreadyRunning = errors.New("playback coordinator already running")
)

// Coordinator is the sole consumer of a Queue. It keeps at most one job
// playing at any instant.
//
// A sink that never invokes its completion callback stalls the queue: there
// is deliberately no per-job timeout. Stop the sink to recover.
type Coordinator struct {
	queue        *Queue
	janitor      *Janitor
	cleanupDelay time.Duration
	logger       *slog.Logger
	onResult     func(Result)
	meter        metric.Meter
	metrics      *metrics

	running atomic.Bool
	mu      sync.Mutex
	current *Job
}

type Option func(*Coordinator)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// WithCleanupDelay sets the grace delay between completion and file removal.
func WithCleanupDelay(d time.Duration) Option {
	return func(c *Coordinator) { c.cleanupDelay = d }
}

// WithResultHook registers fn to observe every dequeued job's outcome. fn runs
// on the coordinator goroutine and must not block.
func WithResultHook(fn func(Result)) Option {
	return func(c *Coordinator) { c.onResult = fn }
}

func WithMeter(meter metric.Meter) Option {
	return func(c *Coordinator) { c.meter = meter }
}

func NewCoordinator(queue *Queue, janitor *Janitor, opts ...Option) *Coordinator {
	c := &Coordinator{
		queue:        queue,
		janitor:      janitor,
		cleanupDelay: DefaultCleanupDelay,
		meter:        otel.Meter("github.com/loqalabs/loqa-voicechat/playback"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}
	c.logger = c.logger.With(slog.String("component", "playback-coordinator"))
	if c.janitor == nil {
		c.janitor = NewJanitor(c.logger)
	}

	m, err := newMetrics(c.meter, queue)
	if err != nil {
		c.logger.Warn("failed to initialize playback metrics", slogError(err))
	}
	c.metrics = m
	return c
}

// Run plays queued jobs until ctx is done or the queue is closed and drained.
// It returns nil in the latter case.
func (c *Coordinator) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errAlreadyRunning
	}
	defer c.running.Store(false)

	c.logger.Info("playback coordinator started")
	for {
		job, err := c.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, ErrQueueClosed) {
				c.logger.Info("playback queue closed, coordinator exiting")
				return nil
			}
			return err
		}
		if err := c.play(ctx, job); err != nil {
			return err
		}
	}
}

// Current returns the job that is playing, if any.
func (c *Coordinator) Current() (Job, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return Job{}, false
	}
	return *c.current, true
}

// StopCurrent aborts the job in flight when it belongs to channel (any channel
// when channel is empty). It reports whether a job was stopped. The sink still
// invokes its completion callback, so the queue keeps moving.
func (c *Coordinator) StopCurrent(channel string) (bool, error) {
	c.mu.Lock()
	job := c.current
	c.mu.Unlock()
	if job == nil || (channel != "" && job.Channel != channel) {
		return false, nil
	}
	return true, job.Sink.Stop()
}

func (c *Coordinator) play(ctx context.Context, job Job) error {
	defer func() { _ = c.queue.Done() }()

	log := c.logger.With(slog.String("job_id", job.ID), slog.String("channel", job.Channel))
	res := job.Resource

	if job.Sink == nil {
		c.janitor.Schedule(res.Path, c.cleanupDelay)
		c.report(log, Result{Job: job, Status: StatusDropped, Err: ErrNoSink})
		return nil
	}

	c.setCurrent(&job)
	defer c.setCurrent(nil)

	sig := NewSignal()
	start := time.Now()
	err := job.Sink.Play(res, func(status error) {
		c.janitor.Schedule(res.Path, c.cleanupDelay)
		sig.Fire(status)
	})
	if err != nil {
		// Nothing holds the file after a refused start.
		c.janitor.Schedule(res.Path, c.cleanupDelay)
		c.report(log, Result{Job: job, Status: StatusDropped, Err: err})
		return nil
	}
	log.Debug("playback started", slog.String("sink", job.Sink.Name()), slog.String("path", res.Path))

	if err := sig.Wait(ctx); err != nil {
		if stopErr := job.Sink.Stop(); stopErr != nil {
			log.Warn("failed to stop sink on shutdown", slogError(stopErr))
		}
		return err
	}

	result := Result{Job: job, Status: StatusPlayed, Duration: time.Since(start)}
	if status := sig.Err(); status != nil {
		result.Status = StatusFailed
		result.Err = status
	}
	c.report(log, result)
	return nil
}

func (c *Coordinator) setCurrent(job *Job) {
	c.mu.Lock()
	c.current = job
	c.mu.Unlock()
}

func (c *Coordinator) report(log *slog.Logger, r Result) {
	switch r.Status {
	case StatusPlayed:
		log.Info("playback complete", slog.Duration("duration", r.Duration))
	case StatusFailed:
		log.Warn("playback failed", slogError(r.Err))
	case StatusDropped:
		log.Warn("playback job dropped", slogError(r.Err))
	}
	c.metrics.record(r)
	if c.onResult != nil {
		c.onResult(r)
	}
}

package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-voicechat/internal/bus"
	"github.com/loqalabs/loqa-voicechat/internal/chat"
	"github.com/loqalabs/loqa-voicechat/internal/config"
	"github.com/loqalabs/loqa-voicechat/internal/history"
	"github.com/loqalabs/loqa-voicechat/internal/natsserver"
	"github.com/loqalabs/loqa-voicechat/internal/playback"
	"github.com/loqalabs/loqa-voicechat/internal/speaker"
)

// drainTimeout bounds how long shutdown waits for the coordinator to finish
// the jobs left in the queue.
const drainTimeout = 5 * time.Second

type Runtime struct {
	cfg           config.Config
	logger        *slog.Logger
	httpServer    *http.Server
	metricsServer *http.Server
	tracerClose   func(context.Context) error
	ready         atomic.Bool
	wg            sync.WaitGroup

	nats        *natsserver.EmbeddedServer
	bus         *bus.Client
	history     *history.Store
	registry    *speaker.Registry
	speakers    *speaker.Manager
	queue       *playback.Queue
	janitor     *playback.Janitor
	coordinator *playback.Coordinator
	chat        *chat.Service
	coordDone   chan struct{}
	coordCancel context.CancelFunc
	onResult    func(playback.Result)
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	if err := r.startComponents(ctx); err != nil {
		r.stopComponents()
		r.closeTelemetry()
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		if bind := r.cfg.Telemetry.PrometheusBind; bind != "" {
			r.serveMetrics(bind, metricsHandler)
		} else {
			mux.Handle("/metrics", metricsHandler)
		}
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	if r.metricsServer != nil {
		if err := r.metricsServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("metrics shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	r.stopComponents()
	r.closeTelemetry()
	return nil
}

func (r *Runtime) startComponents(ctx context.Context) error {
	busCfg := r.cfg.Bus
	srv, err := natsserver.Start(busCfg, r.cfg.RuntimeName, r.logger)
	if err != nil {
		return fmt.Errorf("start embedded nats: %w", err)
	}
	r.nats = srv
	if srv != nil {
		busCfg.Servers = []string{srv.ClientURL()}
	}

	r.bus, err = bus.Connect(ctx, r.cfg.RuntimeName, busCfg, r.logger)
	if err != nil {
		return err
	}

	r.history, err = history.Open(ctx, r.cfg.History, r.logger)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}

	generator, err := newGenerator(r.cfg.LLM)
	if err != nil {
		return err
	}
	synth, err := newSynthesizer(r.cfg.TTS)
	if err != nil {
		return err
	}

	if r.cfg.Speaker.Mode == "bus" {
		timeout := time.Duration(r.cfg.Speaker.HeartbeatTimeoutMS) * time.Millisecond
		r.registry, err = speaker.NewRegistry(ctx, r.bus, timeout, r.logger)
		if err != nil {
			return err
		}
	}
	factory, err := speaker.NewFactory(r.cfg.Speaker, speaker.FactoryOptions{
		SampleRate: r.cfg.TTS.SampleRate,
		Channels:   r.cfg.TTS.Channels,
		Bus:        r.bus,
		Registry:   r.registry,
		Logger:     r.logger,
	})
	if err != nil {
		return err
	}
	r.speakers = speaker.NewManager(factory, r.logger)

	r.queue = playback.NewQueue()
	r.janitor = playback.NewJanitor(r.logger)
	r.coordinator = playback.NewCoordinator(r.queue, r.janitor,
		playback.WithLogger(r.logger),
		playback.WithCleanupDelay(time.Duration(r.cfg.Playback.CleanupDelayMS)*time.Millisecond),
		playback.WithResultHook(r.onPlaybackResult),
	)

	r.chat = chat.NewService(ctx, r.cfg, chat.Dependencies{
		Bus:       r.bus,
		Queue:     r.queue,
		Stopper:   r.coordinator,
		Speakers:  r.speakers,
		History:   r.history,
		Generator: generator,
		Synth:     synth,
	}, r.logger)
	if err := r.chat.Start(); err != nil {
		return err
	}

	// The coordinator outlives ctx so queued jobs can drain on shutdown.
	coordCtx, coordCancel := context.WithCancel(context.Background())
	r.coordCancel = coordCancel
	r.coordDone = make(chan struct{})
	go func() {
		defer close(r.coordDone)
		if err := r.coordinator.Run(coordCtx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("playback coordinator exited", slog.String("error", err.Error()))
		}
	}()
	return nil
}

func (r *Runtime) serveMetrics(bind string, handler http.Handler) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	r.metricsServer = &http.Server{
		Addr:              bind,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("metrics server failed", slog.String("error", err.Error()))
		}
	}()
}

func (r *Runtime) onPlaybackResult(res playback.Result) {
	if r.chat != nil {
		r.chat.HandlePlaybackResult(res)
	}
	if r.onResult != nil {
		r.onResult(res)
	}
}

// stopComponents tears down in reverse dependency order. It tolerates a
// partially started runtime.
func (r *Runtime) stopComponents() {
	if r.chat != nil {
		r.chat.Close()
	}
	if r.speakers != nil {
		r.speakers.Close()
	}
	if r.queue != nil {
		r.queue.Close()
	}
	if r.coordDone != nil {
		select {
		case <-r.coordDone:
		case <-time.After(drainTimeout):
			r.logger.Warn("playback queue did not drain in time", slog.Int("pending", r.queue.Len()))
			r.coordCancel()
			<-r.coordDone
		}
		r.coordCancel()
	}
	if r.janitor != nil {
		r.janitor.Wait()
	}
	if r.registry != nil {
		r.registry.Close()
	}
	if r.history != nil {
		if err := r.history.Close(); err != nil {
			r.logger.Warn("history close error", slog.String("error", err.Error()))
		}
	}
	if r.bus != nil {
		r.bus.Close()
	}
	r.nats.Shutdown()
}

func (r *Runtime) closeTelemetry() {
	if r.tracerClose == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.tracerClose(ctx); err != nil {
		r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, req *http.Request) {
	if r.ready.Load() && r.componentsHealthy(req.Context()) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) componentsHealthy(ctx context.Context) bool {
	if !r.nats.Healthy() {
		return false
	}
	if r.bus != nil && !r.bus.Healthy() {
		return false
	}
	if r.chat != nil && !r.chat.Healthy() {
		return false
	}
	if r.registry != nil && !r.registry.Healthy() {
		return false
	}
	if r.history != nil && !r.history.Healthy(ctx) {
		return false
	}
	return true
}

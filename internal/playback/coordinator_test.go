package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

var errStopped = errors.New("stopped")

// fakeSink completes playback from timer goroutines, like a real player.
type fakeSink struct {
	mu          sync.Mutex
	played      []string
	inflight    int
	maxInflight int
	completed   map[string]time.Time
	delays      map[string]time.Duration
	statuses    map[string]error
	refuse      map[string]error
	hang        map[string]bool
	stop        func(error)
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		completed: make(map[string]time.Time),
		delays:    make(map[string]time.Duration),
		statuses:  make(map[string]error),
		refuse:    make(map[string]error),
		hang:      make(map[string]bool),
	}
}

func (s *fakeSink) Name() string { return "fake" }

func (s *fakeSink) Play(res Resource, onComplete func(error)) error {
	s.mu.Lock()
	if err, ok := s.refuse[res.ID]; ok {
		s.mu.Unlock()
		return err
	}
	s.inflight++
	if s.inflight > s.maxInflight {
		s.maxInflight = s.inflight
	}
	s.played = append(s.played, res.ID)
	delay, status, hang := s.delays[res.ID], s.statuses[res.ID], s.hang[res.ID]

	var once sync.Once
	finish := func(err error) {
		once.Do(func() {
			s.mu.Lock()
			s.inflight--
			s.completed[res.ID] = time.Now()
			s.stop = nil
			s.mu.Unlock()
			onComplete(err)
		})
	}
	s.stop = finish
	s.mu.Unlock()

	if !hang {
		time.AfterFunc(delay, func() { finish(status) })
	}
	return nil
}

func (s *fakeSink) Stop() error {
	s.mu.Lock()
	stop := s.stop
	s.mu.Unlock()
	if stop != nil {
		stop(errStopped)
	}
	return nil
}

func (s *fakeSink) snapshot() ([]string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.played...), s.maxInflight
}

type removal struct {
	path string
	at   time.Time
}

type harness struct {
	queue   *Queue
	coord   *Coordinator
	janitor *Janitor
	results chan Result
	mu      sync.Mutex
	removed []removal
}

func newHarness(t *testing.T, delay time.Duration) *harness {
	t.Helper()
	h := &harness{queue: NewQueue(), results: make(chan Result, 64)}
	h.janitor = NewJanitor(newLogger(), WithRemoveFunc(func(path string) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.removed = append(h.removed, removal{path: path, at: time.Now()})
		return nil
	}))
	h.coord = NewCoordinator(h.queue, h.janitor,
		WithLogger(newLogger()),
		WithCleanupDelay(delay),
		WithResultHook(func(r Result) { h.results <- r }))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.coord.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		h.janitor.Wait()
	})
	return h
}

func (h *harness) enqueue(t *testing.T, sink Sink, ids ...string) {
	t.Helper()
	for _, id := range ids {
		job := Job{ID: id, Channel: "general", Resource: Resource{ID: id, Path: id + ".wav"}, Sink: sink}
		if err := h.queue.Enqueue(job); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}
}

func (h *harness) await(t *testing.T, n int) []Result {
	t.Helper()
	var out []Result
	for len(out) < n {
		select {
		case r := <-h.results:
			out = append(out, r)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d of %d results", len(out), n)
		}
	}
	return out
}

func (h *harness) removals() []removal {
	h.janitor.Wait()
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]removal(nil), h.removed...)
}

func TestCoordinatorPlaysInOrderWithoutOverlap(t *testing.T) {
	h := newHarness(t, 0)
	sink := newFakeSink()

	var ids []string
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("job-%02d", i)
		ids = append(ids, id)
		sink.delays[id] = time.Duration(i%3) * time.Millisecond
	}
	h.enqueue(t, sink, ids...)
	results := h.await(t, len(ids))

	played, maxInflight := sink.snapshot()
	if maxInflight != 1 {
		t.Fatalf("expected at most one playback in flight, saw %d", maxInflight)
	}
	for i, id := range ids {
		if played[i] != id {
			t.Fatalf("play order mismatch at %d: expected %s, got %s", i, id, played[i])
		}
		if results[i].Job.ID != id || results[i].Status != StatusPlayed {
			t.Fatalf("unexpected result %d: %+v", i, results[i])
		}
	}
	if err := h.queue.Wait(context.Background()); err != nil {
		t.Fatalf("queue drain: %v", err)
	}
}

func TestCoordinatorOrderIgnoresCompletionLatency(t *testing.T) {
	const grace = 15 * time.Millisecond
	h := newHarness(t, grace)
	sink := newFakeSink()
	sink.delays["a"] = 10 * time.Millisecond
	sink.delays["b"] = 5 * time.Millisecond
	sink.delays["c"] = 1 * time.Millisecond

	h.enqueue(t, sink, "a", "b", "c")
	h.await(t, 3)

	played, maxInflight := sink.snapshot()
	if fmt.Sprint(played) != "[a b c]" {
		t.Fatalf("expected [a b c], got %v", played)
	}
	if maxInflight != 1 {
		t.Fatalf("expected no overlap, saw %d in flight", maxInflight)
	}

	removed := h.removals()
	if len(removed) != 3 {
		t.Fatalf("expected 3 removals, got %d", len(removed))
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	for _, r := range removed {
		id := r.path[:len(r.path)-len(".wav")]
		done, ok := sink.completed[id]
		if !ok {
			t.Fatalf("resource %s removed for a job that never completed", r.path)
		}
		if r.at.Sub(done) < grace {
			t.Fatalf("resource %s removed %s after completion, want >= %s", r.path, r.at.Sub(done), grace)
		}
	}
}

func TestCoordinatorSignalsOnceForEveryOutcome(t *testing.T) {
	h := newHarness(t, 0)
	sink := newFakeSink()
	sink.statuses["broken"] = errors.New("decoder error")
	sink.hang["stopped"] = true

	h.enqueue(t, sink, "ok", "broken", "stopped", "after")

	results := h.await(t, 2)
	if results[0].Status != StatusPlayed {
		t.Fatalf("expected ok to play, got %+v", results[0])
	}
	if results[1].Status != StatusFailed || results[1].Err == nil {
		t.Fatalf("expected broken to fail, got %+v", results[1])
	}

	waitForCurrent(t, h.coord, "stopped")
	stopped, err := h.coord.StopCurrent("general")
	if err != nil || !stopped {
		t.Fatalf("expected stop of current job, got %v %v", stopped, err)
	}

	results = h.await(t, 2)
	if results[0].Job.ID != "stopped" || !errors.Is(results[0].Err, errStopped) {
		t.Fatalf("expected stopped job to complete with stop status, got %+v", results[0])
	}
	if results[1].Job.ID != "after" || results[1].Status != StatusPlayed {
		t.Fatalf("expected queue to continue after stop, got %+v", results[1])
	}

	select {
	case extra := <-h.results:
		t.Fatalf("unexpected extra result %+v", extra)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestCoordinatorStalledSinkBlocksQueue(t *testing.T) {
	h := newHarness(t, 0)
	sink := newFakeSink()
	sink.hang["stuck"] = true

	h.enqueue(t, sink, "stuck", "next")
	waitForCurrent(t, h.coord, "stuck")

	time.Sleep(30 * time.Millisecond)
	played, _ := sink.snapshot()
	if len(played) != 1 {
		t.Fatalf("next job started while previous was in flight: %v", played)
	}
	if h.queue.Len() != 1 {
		t.Fatalf("expected next job still queued, got %d", h.queue.Len())
	}

	if stopped, _ := h.coord.StopCurrent("other-channel"); stopped {
		t.Fatal("stop for another channel must not abort playback")
	}
	_ = sink.Stop()
	results := h.await(t, 2)
	if results[1].Job.ID != "next" || results[1].Status != StatusPlayed {
		t.Fatalf("expected next to play after recovery, got %+v", results[1])
	}
}

func TestCoordinatorDropsJobWhenPlayRefused(t *testing.T) {
	h := newHarness(t, 0)
	sink := newFakeSink()
	notConnected := errors.New("sink not connected")
	sink.refuse["a"] = notConnected

	h.enqueue(t, sink, "a", "b")
	results := h.await(t, 2)

	if results[0].Status != StatusDropped || !errors.Is(results[0].Err, notConnected) {
		t.Fatalf("expected a dropped, got %+v", results[0])
	}
	if results[1].Job.ID != "b" || results[1].Status != StatusPlayed {
		t.Fatalf("expected b to play normally, got %+v", results[1])
	}
	played, _ := sink.snapshot()
	if fmt.Sprint(played) != "[b]" {
		t.Fatalf("expected only b to reach the sink, got %v", played)
	}

	removed := h.removals()
	paths := map[string]bool{}
	for _, r := range removed {
		paths[r.path] = true
	}
	if !paths["a.wav"] || !paths["b.wav"] {
		t.Fatalf("expected both resources reclaimed, got %v", removed)
	}
}

func TestCoordinatorDropsJobWithoutSink(t *testing.T) {
	h := newHarness(t, 0)
	if err := h.queue.Enqueue(Job{ID: "orphan", Resource: Resource{Path: "orphan.wav"}}); err != nil {
		t.Fatal(err)
	}
	results := h.await(t, 1)
	if results[0].Status != StatusDropped || !errors.Is(results[0].Err, ErrNoSink) {
		t.Fatalf("expected drop with ErrNoSink, got %+v", results[0])
	}
}

func TestCoordinatorExitsWhenQueueClosed(t *testing.T) {
	q := NewQueue()
	c := NewCoordinator(q, NewJanitor(newLogger()), WithLogger(newLogger()))
	sink := newFakeSink()
	_ = q.Enqueue(Job{ID: "last", Resource: Resource{ID: "last"}, Sink: sink})
	q.Close()

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean exit, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("coordinator did not exit after queue close")
	}
	if played, _ := sink.snapshot(); len(played) != 1 {
		t.Fatalf("expected pending job to play before exit, got %v", played)
	}
}

func TestCoordinatorStopsSinkOnCancel(t *testing.T) {
	q := NewQueue()
	c := NewCoordinator(q, NewJanitor(newLogger()), WithLogger(newLogger()))
	sink := newFakeSink()
	sink.hang["forever"] = true
	_ = q.Enqueue(Job{ID: "forever", Resource: Resource{ID: "forever"}, Sink: sink})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	waitForCurrent(t, c, "forever")

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("coordinator ignored cancellation")
	}
	sink.mu.Lock()
	_, completed := sink.completed["forever"]
	sink.mu.Unlock()
	if !completed {
		t.Fatal("expected sink to be stopped on shutdown")
	}
}

func TestCoordinatorRejectsSecondRun(t *testing.T) {
	h := newHarness(t, 0)
	waitFor(t, func() bool { return h.coord.running.Load() })
	if err := h.coord.Run(context.Background()); !errors.Is(err, errAlreadyRunning) {
		t.Fatalf("expected errAlreadyRunning, got %v", err)
	}
}

func waitForCurrent(t *testing.T, c *Coordinator, id string) {
	t.Helper()
	waitFor(t, func() bool {
		job, ok := c.Current()
		return ok && job.ID == id
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

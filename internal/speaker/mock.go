package speaker

import (
	"sync"
	"time"

	"github.com/loqalabs/loqa-voicechat/internal/playback"
)

// MockSink pretends to play every resource for a fixed duration.
type MockSink struct {
	name     string
	duration time.Duration

	mu     sync.Mutex
	timer  *time.Timer
	finish func(error)
}

func NewMockSink(name string, duration time.Duration) *MockSink {
	return &MockSink{name: name, duration: duration}
}

func (s *MockSink) Name() string { return s.name }

func (s *MockSink) Play(res playback.Resource, onComplete func(error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finish != nil {
		return ErrBusy
	}
	s.finish = onComplete
	s.timer = time.AfterFunc(s.duration, func() { s.complete(nil) })
	return nil
}

func (s *MockSink) Stop() error {
	s.mu.Lock()
	timer := s.timer
	s.mu.Unlock()
	if timer != nil && timer.Stop() {
		s.complete(ErrStopped)
	}
	return nil
}

// Playing reports whether a resource is in progress.
func (s *MockSink) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finish != nil
}

func (s *MockSink) complete(err error) {
	s.mu.Lock()
	finish := s.finish
	s.finish = nil
	s.timer = nil
	s.mu.Unlock()
	if finish != nil {
		finish(err)
	}
}

package playback

import (
	"context"
	"sync"
)

// Signal is a one-shot completion notification for a single playback attempt.
// Fire may be called from any goroutine; only the first call has an effect.
type Signal struct {
	once sync.Once
	done chan struct{}
	err  error
}

func NewSignal() *Signal {
	return &Signal{done: make(chan struct{})}
}

// Fire records the playback status and wakes the waiter. It reports whether
// this call was the one that fired the signal.
func (s *Signal) Fire(status error) bool {
	fired := false
	s.once.Do(func() {
		s.err = status
		close(s.done)
		fired = true
	})
	return fired
}

// Wait blocks until the signal fires or ctx is done. It returns ctx.Err() in
// the latter case; the playback status is available from Err.
func (s *Signal) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the signal fires.
func (s *Signal) Done() <-chan struct{} {
	return s.done
}

// Fired reports whether Fire has been called.
func (s *Signal) Fired() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Err returns the status passed to the first Fire. Only meaningful after Done
// is closed.
func (s *Signal) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

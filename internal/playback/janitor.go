package playback

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultCleanupDelay leaves players time to release the file after they
// report completion.
const DefaultCleanupDelay = 500 * time.Millisecond

// Janitor removes played audio files after a grace delay. Removal is best
// effort: failures are logged at debug level and otherwise discarded.
type Janitor struct {
	remove func(string) error
	logger *slog.Logger
	wg     sync.WaitGroup
}

type JanitorOption func(*Janitor)

// WithRemoveFunc replaces os.Remove.
func WithRemoveFunc(fn func(string) error) JanitorOption {
	return func(j *Janitor) { j.remove = fn }
}

func NewJanitor(logger *slog.Logger, opts ...JanitorOption) *Janitor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}
	j := &Janitor{
		remove: os.Remove,
		logger: logger.With(slog.String("component", "playback-janitor")),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Schedule removes path once delay has elapsed. It never blocks the caller.
func (j *Janitor) Schedule(path string, delay time.Duration) {
	if path == "" {
		return
	}
	if delay < 0 {
		delay = 0
	}
	j.wg.Add(1)
	time.AfterFunc(delay, func() {
		defer j.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				j.logger.Debug("audio cleanup panicked", slog.String("path", path), slog.Any("panic", r))
			}
		}()
		err := j.remove(path)
		switch {
		case err == nil:
			j.logger.Debug("audio file removed", slog.String("path", path))
		case errors.Is(err, fs.ErrNotExist):
		default:
			j.logger.Debug("audio cleanup failed", slog.String("path", path), slogError(err))
		}
	})
}

// Wait blocks until every scheduled removal has run.
func (j *Janitor) Wait() {
	j.wg.Wait()
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}

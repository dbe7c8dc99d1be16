// Package playback serializes synthesized speech into audio sinks.
//
// A single Coordinator drains a Queue of jobs and plays them one at a time.
// Sinks report completion from goroutines they own; the Coordinator bridges
// that notification through a one-shot Signal and hands each played file to
// the Janitor for delayed removal.
package playback

import (
	"time"
)

// Resource is a synthesized audio file. It is owned by the job that
// references it until the Janitor reclaims it.
type Resource struct {
	ID   string
	Path string
}

// Sink plays one resource at a time.
//
// When Play returns nil, onComplete must be invoked exactly once, from any
// goroutine, once playback ends for whatever reason (success, error or Stop).
// When Play returns an error, onComplete must not be invoked.
type Sink interface {
	Name() string
	Play(res Resource, onComplete func(error)) error
	Stop() error
}

// Job pairs a resource with the sink it should be played on.
type Job struct {
	ID       string
	Channel  string
	Resource Resource
	Sink     Sink
	Enqueued time.Time
}

// Status describes how a job left the Playing state.
type Status string

const (
	StatusPlayed  Status = "played"
	StatusFailed  Status = "failed"
	StatusDropped Status = "dropped"
)

// Result is reported once per dequeued job.
type Result struct {
	Job      Job
	Status   Status
	Err      error
	Duration time.Duration
}

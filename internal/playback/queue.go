package playback

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrQueueClosed is returned by Enqueue after Close, and by Dequeue once a
	// closed queue has been drained.
	ErrQueueClosed = errors.New("playback queue closed")

	errTooManyDone = errors.New("playback queue: Done called more times than jobs enqueued")
)

// Queue is an unbounded FIFO of jobs. Any number of producers may enqueue
// concurrently; a single consumer is expected to dequeue.
type Queue struct {
	mu         sync.Mutex
	items      []Job
	notify     chan struct{}
	closed     bool
	closedCh   chan struct{}
	unfinished int
	drained    chan struct{}
}

func NewQueue() *Queue {
	return &Queue{
		notify:   make(chan struct{}, 1),
		closedCh: make(chan struct{}),
	}
}

// Enqueue appends job without blocking. Missing IDs and timestamps are filled in.
func (q *Queue) Enqueue(job Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Enqueued.IsZero() {
		job.Enqueued = time.Now()
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.items = append(q.items, job)
	q.unfinished++
	q.mu.Unlock()

	q.wake()
	return nil
}

// Dequeue blocks until a job is available, ctx is done, or the queue is
// closed with nothing left in it.
func (q *Queue) Dequeue(ctx context.Context) (Job, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			job := q.items[0]
			q.items[0] = Job{}
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				q.wake()
			}
			return job, nil
		}
		if q.closed {
			q.mu.Unlock()
			return Job{}, ErrQueueClosed
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Job{}, ctx.Err()
		case <-q.notify:
		case <-q.closedCh:
		}
	}
}

// Done marks one dequeued job as finished.
func (q *Queue) Done() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.unfinished == 0 {
		return errTooManyDone
	}
	q.unfinished--
	if q.unfinished == 0 && q.drained != nil {
		close(q.drained)
		q.drained = nil
	}
	return nil
}

// Wait blocks until every enqueued job has been marked Done.
func (q *Queue) Wait(ctx context.Context) error {
	q.mu.Lock()
	if q.unfinished == 0 {
		q.mu.Unlock()
		return nil
	}
	if q.drained == nil {
		q.drained = make(chan struct{})
	}
	ch := q.drained
	q.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
		return nil
	}
}

// Len reports the number of jobs waiting to be dequeued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close rejects further jobs. Jobs already queued can still be dequeued.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.closedCh)
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

package ingest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Handler transcribes one audio file.
type Handler func(ctx context.Context, path string) error

// QueueStats reports the current state of the file queue.
type QueueStats struct {
	Pending   int   `json:"pending"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Queue feeds files to a single worker so the pipeline only ever handles one
// file at a time. A path already waiting in the queue is not queued again.
type Queue struct {
	jobs    chan string
	handler Handler
	log     zerolog.Logger
	wg      sync.WaitGroup

	mu      sync.Mutex
	pending map[string]struct{}
	closed  bool

	completed atomic.Int64
	failed    atomic.Int64
}

func NewQueue(size int, handler Handler, log zerolog.Logger) *Queue {
	return &Queue{
		jobs:    make(chan string, size),
		handler: handler,
		log:     log,
		pending: make(map[string]struct{}),
	}
}

// Start launches the worker. It exits when Stop is called or ctx ends.
func (q *Queue) Start(ctx context.Context) {
	q.wg.Add(1)
	go q.worker(ctx)
	q.log.Info().Int("queue_size", cap(q.jobs)).Msg("file queue started")
}

// Stop closes the queue and waits for the in-flight file to finish.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()
	q.wg.Wait()
	q.log.Info().
		Int64("completed", q.completed.Load()).
		Int64("failed", q.failed.Load()).
		Msg("file queue stopped")
}

// Enqueue adds path without blocking. It returns false if the queue is full
// or stopped; a path that is already pending counts as queued.
func (q *Queue) Enqueue(path string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	if _, ok := q.pending[path]; ok {
		return true
	}
	select {
	case q.jobs <- path:
		q.pending[path] = struct{}{}
		return true
	default:
		return false
	}
}

// EnqueueWait retries Enqueue until it succeeds, the queue stops, or ctx
// ends. Used by backfill, which may hold more files than the queue.
func (q *Queue) EnqueueWait(ctx context.Context, path string) bool {
	for {
		if q.Enqueue(path) {
			return true
		}
		q.mu.Lock()
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (q *Queue) Stats() QueueStats {
	return QueueStats{
		Pending:   len(q.jobs),
		Completed: q.completed.Load(),
		Failed:    q.failed.Load(),
	}
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case path, ok := <-q.jobs:
			if !ok {
				return
			}
			q.mu.Lock()
			delete(q.pending, path)
			q.mu.Unlock()

			if err := q.handler(ctx, path); err != nil {
				q.failed.Add(1)
				q.log.Warn().Err(err).Str("path", path).Msg("transcription failed")
			} else {
				q.completed.Add(1)
			}
		}
	}
}

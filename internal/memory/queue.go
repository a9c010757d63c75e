package memory

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrClosed is returned when writing to a closed manager.
var ErrClosed = errors.New("memory manager closed")

// writeQueue runs jobs in FIFO order per namespace. A goroutine exists for a
// namespace only while it has pending jobs; namespaces never wait on each other.
type writeQueue struct {
	mu     sync.Mutex
	queues map[string]*nsQueue
	closed bool
	wg     sync.WaitGroup
	logger *slog.Logger
}

type nsQueue struct {
	jobs []*job
	last *job
}

type job struct {
	fn   func()
	done chan struct{}
}

func newWriteQueue(logger *slog.Logger) *writeQueue {
	return &writeQueue{queues: make(map[string]*nsQueue), logger: logger}
}

// Enqueue appends fn to the namespace's queue.
func (w *writeQueue) Enqueue(namespace string, fn func()) error {
	j := &job{fn: fn, done: make(chan struct{})}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}

	q, running := w.queues[namespace]
	if !running {
		q = &nsQueue{}
		w.queues[namespace] = q
	}
	q.jobs = append(q.jobs, j)
	q.last = j

	if !running {
		w.wg.Add(1)
		go w.run(namespace, q)
	}
	return nil
}

func (w *writeQueue) run(namespace string, q *nsQueue) {
	defer w.wg.Done()
	for {
		w.mu.Lock()
		if len(q.jobs) == 0 {
			delete(w.queues, namespace)
			w.mu.Unlock()
			return
		}
		j := q.jobs[0]
		q.jobs = q.jobs[1:]
		w.mu.Unlock()

		w.exec(namespace, j)
	}
}

func (w *writeQueue) exec(namespace string, j *job) {
	defer close(j.done)
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("memory write panicked", "namespace", namespace, "panic", r)
		}
	}()
	j.fn()
}

// Wait blocks until every job enqueued for namespace before the call has run.
func (w *writeQueue) Wait(ctx context.Context, namespace string) error {
	w.mu.Lock()
	q := w.queues[namespace]
	var last *job
	if q != nil {
		last = q.last
	}
	w.mu.Unlock()

	if last == nil {
		return nil
	}
	select {
	case <-last.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close rejects new jobs and waits for queued ones to finish.
func (w *writeQueue) Close(ctx context.Context) error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the number of namespaces with queued or running writes.
func (w *writeQueue) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queues)
}

package mqueue

import (
	"context"
	"errors"
	"sync"
)

// LocalQueue runs the handler in-process, one goroutine per task. It
// keeps single-binary deployments and tests free of an external queue.
//
// Bind must be called before the first Enqueue; the handler usually
// belongs to a service that is constructed after the queue.
type LocalQueue struct {
	handler Handler
	wg      sync.WaitGroup
}

// NewLocalQueue creates a LocalQueue with no handler bound.
func NewLocalQueue() *LocalQueue {
	return &LocalQueue{}
}

// Bind sets the handler that receives enqueued tasks.
func (q *LocalQueue) Bind(h Handler) {
	q.handler = h
}

// Enqueue hands the task to the handler on a detached context: the
// submission phase must outlive the accept request that spawned it.
func (q *LocalQueue) Enqueue(ctx context.Context, body []byte) error {
	if q.handler == nil {
		return errors.New("mqueue: no handler bound")
	}

	detached := context.WithoutCancel(ctx)
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		// The handler reports its own failures
		_ = q.handler(detached, body)
	}()
	return nil
}

// Wait blocks until every handed-off task has finished.
func (q *LocalQueue) Wait() {
	q.wg.Wait()
}

// Ensure LocalQueue implements Queue.
var _ Queue = (*LocalQueue)(nil)

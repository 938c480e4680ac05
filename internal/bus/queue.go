package bus

import (
	"context"
	"sync"

	"poscheck/internal/schema"
	"poscheck/pkg/exception"
)

// Queue hands payloads from any number of goroutines to the single pipeline producer.
// Publish blocks until the producer takes the payload, so ring backpressure reaches the caller.
type Queue struct {
	ch        chan schema.Payload
	done      chan struct{}
	closeOnce sync.Once
}

// NewQueue allocates a queue. A capacity <= 0 makes every Publish a direct hand-off.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		ch:   make(chan schema.Payload, capacity),
		done: make(chan struct{}),
	}
}

// Publish enqueues a payload, waiting for room until the queue is closed or ctx is done.
func (q *Queue) Publish(ctx context.Context, p schema.Payload) error {
	select {
	case <-q.done:
		return exception.ErrQueueClosed
	default:
	}

	select {
	case q.ch <- p:
		return nil
	case <-q.done:
		return exception.ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryPublish enqueues a payload without blocking and reports whether it was accepted.
func (q *Queue) TryPublish(p schema.Payload) bool {
	select {
	case <-q.done:
		return false
	default:
	}

	select {
	case q.ch <- p:
		return true
	default:
		return false
	}
}

// Close stops the queue from accepting new payloads. Payloads already buffered are still
// delivered by Run.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
	})
}

// Closed is closed once Close was called.
func (q *Queue) Closed() <-chan struct{} {
	return q.done
}

// Run consumes payloads until the queue is closed and drained, ctx is done or handler fails.
func (q *Queue) Run(ctx context.Context, handler func(schema.Payload) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case p := <-q.ch:
			if err := handler(p); err != nil {
				return err
			}
		case <-q.done:
			for {
				select {
				case p := <-q.ch:
					if err := handler(p); err != nil {
						return err
					}
				default:
					return nil
				}
			}
		}
	}
}

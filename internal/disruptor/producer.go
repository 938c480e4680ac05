package disruptor

import (
	"sync/atomic"

	"poscheck/pkg/exception"
)

// Producer claims, fills and publishes slots. It is the only writer of its ring buffer:
// overlapping calls are rejected with ErrConcurrentProducer instead of corrupting the order.
type Producer[T any] struct {
	rb    *RingBuffer[T]
	owner atomic.Bool
}

// Publish claims the next slot, lets translate overwrite it in place and publishes it.
// It blocks while the slowest terminal stage is a full ring behind.
func (p *Producer[T]) Publish(translate func(slot *T, seq int64)) error {
	return PublishEvent(p, func(slot *T, seq int64, fn func(*T, int64)) {
		fn(slot, seq)
	}, translate)
}

// PublishEvent is Publish with an explicit argument so callers can avoid a closure per event.
func PublishEvent[T, A any](p *Producer[T], translate func(slot *T, seq int64, arg A), arg A) error {
	if !p.owner.CompareAndSwap(false, true) {
		return exception.ErrConcurrentProducer
	}
	defer p.owner.Store(false)

	seq, err := p.rb.Next()
	if err != nil {
		return err
	}
	translate(p.rb.Get(seq), seq, arg)
	p.rb.Publish(seq)
	return nil
}

package disruptor

import "fmt"

// Handler consumes events of a stage. endOfBatch is true for the last event of the
// currently available run, which is the point to flush buffered work.
// A non-nil error is a fault: the stage stops and the owning Disruptor halts.
type Handler[T any] interface {
	OnEvent(event *T, seq int64, endOfBatch bool) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc[T any] func(event *T, seq int64, endOfBatch bool) error

// OnEvent calls f.
func (f HandlerFunc[T]) OnEvent(event *T, seq int64, endOfBatch bool) error {
	return f(event, seq, endOfBatch)
}

// Named handlers report a stage name used in logs and metrics.
type Named interface {
	Name() string
}

// LifecycleAware handlers are notified on the stage goroutine when it starts and exits.
type LifecycleAware interface {
	OnStart()
	OnShutdown()
}

type barrier struct {
	cursor   *Sequence
	deps     []*Sequence
	strategy WaitStrategy
	alert    Alert
}

func (b *barrier) waitFor(seq int64) (int64, bool) {
	return b.strategy.WaitFor(seq, b.cursor, b.deps, &b.alert)
}

func (b *barrier) halt() {
	b.alert.set()
	b.strategy.SignalAll()
}

type processor[T any] struct {
	name          string
	handler       Handler[T]
	rb            *RingBuffer[T]
	barrier       *barrier
	sequence      *Sequence
	hasDependents bool
	done          chan struct{}
	onFault       func(name string, seq int64, err error)
}

func newProcessor[T any](index int, h Handler[T], rb *RingBuffer[T], deps []*Sequence) *processor[T] {
	name := fmt.Sprintf("stage-%d", index)
	if n, ok := h.(Named); ok && n.Name() != "" {
		name = n.Name()
	}
	return &processor[T]{
		name:    name,
		handler: h,
		rb:      rb,
		barrier: &barrier{
			cursor:   rb.cursor,
			deps:     deps,
			strategy: rb.strategy,
		},
		sequence: NewSequence(InitialSequence),
		done:     make(chan struct{}),
	}
}

// run processes [next..available] strictly in order and returns once halted with nothing
// left below the barrier.
func (p *processor[T]) run() {
	defer close(p.done)
	if la, ok := p.handler.(LifecycleAware); ok {
		la.OnStart()
		defer la.OnShutdown()
	}

	next := p.sequence.Get() + 1
	for {
		available, halted := p.barrier.waitFor(next)
		if available < next {
			if halted {
				return
			}
			continue
		}
		for ; next <= available; next++ {
			if err := p.handler.OnEvent(p.rb.Get(next), next, next == available); err != nil {
				p.onFault(p.name, next, err)
				return
			}
			p.sequence.Set(next)
		}
	}
}

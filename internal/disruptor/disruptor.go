package disruptor

import (
	"sync"
	"sync/atomic"

	"github.com/yanun0323/logs"

	"poscheck/pkg/exception"
)

// Config describes one ring buffer and its wait policy.
type Config struct {
	Name         string
	BufferSize   int
	WaitStrategy WaitStrategy
}

// Disruptor owns a ring buffer, its producer and a directed acyclic graph of handler stages.
// Every stage sees every published event in sequence order. A stage with dependencies only
// processes sequence N once all of its upstream stages have processed N.
type Disruptor[T any] struct {
	name     string
	rb       *RingBuffer[T]
	producer *Producer[T]

	mu       sync.Mutex
	stages   []*processor[T]
	buildErr error

	started  atomic.Bool
	haltOnce sync.Once
	halted   chan struct{}
	err      atomic.Pointer[error]
}

// New allocates the ring buffer. No goroutine runs until Start.
func New[T any](cfg Config) (*Disruptor[T], error) {
	rb, err := NewRingBuffer[T](cfg.BufferSize, cfg.WaitStrategy)
	if err != nil {
		return nil, err
	}
	return &Disruptor[T]{
		name:     cfg.Name,
		rb:       rb,
		producer: &Producer[T]{rb: rb},
		halted:   make(chan struct{}),
	}, nil
}

// Group is a set of stages that can be followed by dependent stages.
type Group[T any] struct {
	d      *Disruptor[T]
	stages []*processor[T]
}

// HandleEventsWith adds independent root stages consuming the stream in parallel.
func (d *Disruptor[T]) HandleEventsWith(handlers ...Handler[T]) *Group[T] {
	return d.createStages(nil, handlers)
}

// After returns the union of groups so that Then joins all of them.
func (d *Disruptor[T]) After(groups ...*Group[T]) *Group[T] {
	g := &Group[T]{d: d}
	for _, other := range groups {
		if other == nil {
			continue
		}
		g.stages = append(g.stages, other.stages...)
	}
	return g
}

// Then adds stages that process sequence N only after every stage of g processed N.
func (g *Group[T]) Then(handlers ...Handler[T]) *Group[T] {
	return g.d.createStages(g.stages, handlers)
}

// And merges two groups.
func (g *Group[T]) And(other *Group[T]) *Group[T] {
	return g.d.After(g, other)
}

func (d *Disruptor[T]) createStages(deps []*processor[T], handlers []Handler[T]) *Group[T] {
	d.mu.Lock()
	defer d.mu.Unlock()

	g := &Group[T]{d: d}
	if d.started.Load() {
		d.buildErr = exception.ErrAlreadyStarted
		return g
	}

	depSeqs := make([]*Sequence, 0, len(deps))
	for _, dep := range deps {
		dep.hasDependents = true
		depSeqs = append(depSeqs, dep.sequence)
	}
	for _, h := range handlers {
		if h == nil {
			d.buildErr = exception.ErrNilInstance
			continue
		}
		p := newProcessor(len(d.stages), h, d.rb, depSeqs)
		p.onFault = d.fault
		d.stages = append(d.stages, p)
		g.stages = append(g.stages, p)
	}
	return g
}

// Start gates the producer on the terminal stages and launches one goroutine per stage.
func (d *Disruptor[T]) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.buildErr != nil {
		return d.buildErr
	}
	if !d.started.CompareAndSwap(false, true) {
		return exception.ErrAlreadyStarted
	}

	var terminal []*Sequence
	for _, p := range d.stages {
		if !p.hasDependents {
			terminal = append(terminal, p.sequence)
		}
	}
	d.rb.AddGatingSequences(terminal...)

	for _, p := range d.stages {
		go p.run()
	}
	logs.Infof("disruptor %s started: stages=%d terminal=%d size=%d", d.name, len(d.stages), len(terminal), d.rb.Size())
	return nil
}

// Halt stops further claims, then halts stages in registration order. Stages are registered
// after their dependencies, so every stage drains up to the final published cursor before it
// exits. Halt is idempotent and blocks until all stages have exited.
func (d *Disruptor[T]) Halt() {
	d.haltOnce.Do(func() {
		d.rb.halt()
		if d.started.Load() {
			for _, p := range d.stages {
				p.barrier.halt()
				<-p.done
			}
		}
		close(d.halted)
		logs.Infof("disruptor %s halted at cursor=%d", d.name, d.rb.Cursor())
	})
}

// Shutdown halts and releases the slots.
func (d *Disruptor[T]) Shutdown() {
	d.Halt()
	d.rb.release()
	logs.Infof("disruptor %s shutdown", d.name)
}

// Done is closed once the disruptor has halted.
func (d *Disruptor[T]) Done() <-chan struct{} {
	return d.halted
}

// Err returns the first stage fault, if any.
func (d *Disruptor[T]) Err() error {
	if p := d.err.Load(); p != nil {
		return *p
	}
	return nil
}

// Producer returns the single-writer producer of the ring buffer.
func (d *Disruptor[T]) Producer() *Producer[T] {
	return d.producer
}

// RingBuffer exposes the underlying ring buffer.
func (d *Disruptor[T]) RingBuffer() *RingBuffer[T] {
	return d.rb
}

// Cursor returns the highest published sequence.
func (d *Disruptor[T]) Cursor() int64 {
	return d.rb.Cursor()
}

func (d *Disruptor[T]) fault(name string, seq int64, err error) {
	if d.err.CompareAndSwap(nil, &err) {
		logs.Errorf("disruptor %s stage %s failed at seq=%d, halting, err: %+v", d.name, name, seq, err)
	}
	go d.Halt()
}

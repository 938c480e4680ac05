package disruptor

import (
	"sync/atomic"

	"poscheck/pkg/exception"
)

// RingBuffer is a pre-allocated array of reusable slots coordinated by a single-producer
// sequencer. The slot for sequence s lives at index s & (size-1).
type RingBuffer[T any] struct {
	entries  []T
	mask     int64
	size     int64
	cursor   *Sequence
	strategy WaitStrategy
	gating   atomic.Pointer[[]*Sequence]
	halted   atomic.Bool
	stalls   atomic.Uint64

	// owned by the producer
	next         int64
	cachedGating int64
}

// NewRingBuffer allocates size slots. size must be a positive power of two.
func NewRingBuffer[T any](size int, strategy WaitStrategy) (*RingBuffer[T], error) {
	if size <= 0 || size&(size-1) != 0 {
		return nil, exception.ErrInvalidBufferSize
	}
	if strategy == nil {
		strategy = Blocking()
	}
	return &RingBuffer[T]{
		entries:      make([]T, size),
		mask:         int64(size - 1),
		size:         int64(size),
		cursor:       NewSequence(InitialSequence),
		strategy:     strategy,
		next:         InitialSequence,
		cachedGating: InitialSequence,
	}, nil
}

// Size returns the slot capacity.
func (r *RingBuffer[T]) Size() int {
	return int(r.size)
}

// Cursor returns the highest published sequence.
func (r *RingBuffer[T]) Cursor() int64 {
	return r.cursor.Get()
}

// Get returns the slot mapped to seq.
func (r *RingBuffer[T]) Get(seq int64) *T {
	return &r.entries[seq&r.mask]
}

// AddGatingSequences registers consumer sequences the producer must never lap.
func (r *RingBuffer[T]) AddGatingSequences(seqs ...*Sequence) {
	for {
		current := r.gating.Load()
		var merged []*Sequence
		if current != nil {
			merged = append(merged, (*current)...)
		}
		merged = append(merged, seqs...)
		if r.gating.CompareAndSwap(current, &merged) {
			return
		}
	}
}

// Next claims the next sequence. It blocks while the slot still holds an event not yet seen by
// the slowest gating consumer. Only the single producer may call it.
func (r *RingBuffer[T]) Next() (int64, error) {
	if r.halted.Load() {
		return 0, exception.ErrHalted
	}

	next := r.next + 1
	wrapPoint := next - r.size
	if wrapPoint > r.cachedGating {
		stalled := false
		for spins := 0; ; spins++ {
			min := r.minimumGating()
			if wrapPoint <= min {
				r.cachedGating = min
				break
			}
			if r.halted.Load() {
				return 0, exception.ErrHalted
			}
			if !stalled {
				stalled = true
				r.stalls.Add(1)
			}
			backoff(spins)
		}
	}

	r.next = next
	return next, nil
}

// Publish makes the slot at seq visible to consumers and wakes blocked waiters.
func (r *RingBuffer[T]) Publish(seq int64) {
	r.cursor.Set(seq)
	r.strategy.SignalAll()
}

// RemainingCapacity returns how many slots can be claimed without blocking.
func (r *RingBuffer[T]) RemainingCapacity() int64 {
	produced := r.cursor.Get()
	return r.size - (produced - r.minimumGating())
}

// Stalls returns how many claims had to wait for a gating consumer.
func (r *RingBuffer[T]) Stalls() uint64 {
	return r.stalls.Load()
}

func (r *RingBuffer[T]) minimumGating() int64 {
	cursor := r.cursor.Get()
	gating := r.gating.Load()
	if gating == nil {
		return cursor
	}
	return minimumSequence(*gating, cursor)
}

func (r *RingBuffer[T]) halt() {
	r.halted.Store(true)
	r.strategy.SignalAll()
}

func (r *RingBuffer[T]) release() {
	r.entries = nil
}

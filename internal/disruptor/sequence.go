package disruptor

import (
	"math"
	"sync/atomic"
)

// InitialSequence is the value of a sequence before anything was claimed or consumed.
const InitialSequence int64 = -1

const cacheLinePadding = 64

// Sequence is a cache-line padded counter owned by exactly one writer.
type Sequence struct {
	_     [cacheLinePadding]byte
	value atomic.Int64
	_     [cacheLinePadding - 8]byte
}

// NewSequence returns a sequence set to v.
func NewSequence(v int64) *Sequence {
	s := &Sequence{}
	s.value.Store(v)
	return s
}

// Get loads the sequence with acquire semantics.
func (s *Sequence) Get() int64 {
	return s.value.Load()
}

// Set stores the sequence with release semantics.
func (s *Sequence) Set(v int64) {
	s.value.Store(v)
}

func minimumSequence(seqs []*Sequence, fallback int64) int64 {
	min := fallback
	for _, s := range seqs {
		if v := s.Get(); v < min {
			min = v
		}
	}
	return min
}

func availableSequence(cursor *Sequence, deps []*Sequence) int64 {
	if len(deps) == 0 {
		return cursor.Get()
	}
	return minimumSequence(deps, math.MaxInt64)
}

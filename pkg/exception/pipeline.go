package exception

import "errors"

// Pipeline errors
var (
	// ErrInvalidBufferSize is returned when a ring buffer size is not a positive power of two.
	ErrInvalidBufferSize = errors.New("pipeline: buffer size must be a positive power of two")

	// ErrConcurrentProducer is returned when a second caller enters a single-writer producer.
	ErrConcurrentProducer = errors.New("pipeline: concurrent producer access")

	// ErrHalted is returned when claiming a slot on a halted ring buffer.
	ErrHalted = errors.New("pipeline: halted")

	// ErrQueueClosed is returned when publishing into a closed ingress queue.
	ErrQueueClosed = errors.New("pipeline: ingress queue closed")

	// ErrUnknownWaitStrategy is returned for an unsupported wait strategy name.
	ErrUnknownWaitStrategy = errors.New("pipeline: unknown wait strategy")
)

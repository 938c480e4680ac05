package transport

import (
	"context"
	"sync"

	"poscheck/internal/schema"
)

// MemoryWriter keeps every emitted payload.
type MemoryWriter struct {
	toggler
	mu       sync.Mutex
	payloads []schema.Payload
}

func (w *MemoryWriter) Initialize(cfg Config) error {
	w.fc = cfg.Failover
	return nil
}

func (w *MemoryWriter) Emit(_ context.Context, p schema.Payload) error {
	w.mu.Lock()
	w.payloads = append(w.payloads, p)
	w.mu.Unlock()
	return nil
}

// Payloads returns a copy of everything emitted so far.
func (w *MemoryWriter) Payloads() []schema.Payload {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]schema.Payload(nil), w.payloads...)
}

func (w *MemoryWriter) Close() error { return nil }

package store

import (
	"context"
	"sync"

	"poscheck/internal/schema"
)

// Memory keeps the persisted image in process memory. It survives ledger restarts within the
// same process, which is what tests and the replay tool need.
type Memory struct {
	mu      sync.Mutex
	records map[string]schema.InventoryRecord
	lastSeq uint64
}

func NewMemory() *Memory {
	return &Memory{records: make(map[string]schema.InventoryRecord)}
}

func (m *Memory) Load(context.Context) (map[string]schema.InventoryRecord, uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]schema.InventoryRecord, len(m.records))
	for k, v := range m.records {
		out[k] = v
	}
	return out, m.lastSeq, nil
}

func (m *Memory) Save(_ context.Context, records []schema.InventoryRecord, lastSeq uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		m.records[r.Key] = r
	}
	if lastSeq > m.lastSeq {
		m.lastSeq = lastSeq
	}
	return nil
}

func (m *Memory) Delete(_ context.Context, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.records, k)
	}
	return nil
}

func (m *Memory) Replace(_ context.Context, records []schema.InventoryRecord, lastSeq uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[string]schema.InventoryRecord, len(records))
	for _, r := range records {
		m.records[r.Key] = r
	}
	m.lastSeq = lastSeq
	return nil
}

func (m *Memory) Close() error { return nil }

package ledger

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"poscheck/internal/obs"
	"poscheck/internal/schema"
	"poscheck/internal/store"
	"poscheck/pkg/exception"
)

// Forwarder receives result payloads, normally the outbound pipeline.
type Forwarder interface {
	Push(ctx context.Context, p schema.Payload) error
}

// Options tunes persistence and instrumentation.
type Options struct {
	// PersistBatch persists dirty records at end of batch instead of after every event.
	PersistBatch bool
	Metrics      *obs.Metrics
}

// Ledger is the inventory position-check stage of the inbound pipeline.
//
// Pipeline events and administrative calls both go through mu, so an admin change is ordered
// strictly between two pipeline events. Every admin change first persists the pending pipeline
// mutations, which keeps the persisted sequence exact for journal replay.
type Ledger struct {
	st      store.Store
	opt     Options
	running atomic.Bool

	mu           sync.RWMutex
	records      map[string]schema.InventoryRecord
	dirty        map[string]struct{}
	lastSeq      uint64
	persistedSeq uint64
	forward      Forwarder
	processed    uint64
}

// New creates an empty ledger backed by st. Call Open before use.
func New(st store.Store, opt Options) *Ledger {
	return &Ledger{
		st:      st,
		opt:     opt,
		records: make(map[string]schema.InventoryRecord),
		dirty:   make(map[string]struct{}),
	}
}

func (l *Ledger) Name() string { return "ledger" }

// Open loads the persisted state.
func (l *Ledger) Open(ctx context.Context) error {
	records, lastSeq, err := l.st.Load(ctx)
	if err != nil {
		return errors.Wrap(err, "load ledger store")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = records
	l.dirty = make(map[string]struct{})
	l.lastSeq = lastSeq
	l.persistedSeq = lastSeq
	logs.Infof("ledger opened: records=%d last_seq=%d", len(records), lastSeq)
	return nil
}

// Start binds the result forwarder and marks the ledger as running.
func (l *Ledger) Start(forward Forwarder) error {
	if !l.running.CompareAndSwap(false, true) {
		return exception.ErrAlreadyStarted
	}
	l.mu.Lock()
	l.forward = forward
	l.mu.Unlock()
	return nil
}

// Stop persists pending mutations and unbinds the forwarder.
func (l *Ledger) Stop(ctx context.Context) error {
	if !l.running.CompareAndSwap(true, false) {
		return exception.ErrNotStarted
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.forward = nil
	return l.flushLocked(ctx)
}

// Running reports whether the ledger is attached to a started pipeline.
func (l *Ledger) Running() bool {
	return l.running.Load()
}

// LastSeq returns the sequence of the last applied request.
func (l *Ledger) LastSeq() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastSeq
}

// PersistedSeq returns the sequence the store reflects.
func (l *Ledger) PersistedSeq() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.persistedSeq
}

// Processed returns how many requests this ledger applied or rejected.
func (l *Ledger) Processed() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.processed
}

// OnEvent checks and applies one request and forwards its result.
// Store failures are logged and retried on the next persist, since the journal stays the
// source of truth.
func (l *Ledger) OnEvent(ev *schema.Event, _ int64, endOfBatch bool) error {
	l.mu.Lock()
	res, changed := apply(l.records, ev.Seq, ev.Payload)
	if changed {
		l.dirty[res.Key] = struct{}{}
	}
	if ev.Seq > l.lastSeq {
		l.lastSeq = ev.Seq
	}
	l.processed++
	if !l.opt.PersistBatch || endOfBatch {
		if err := l.flushLocked(context.Background()); err != nil {
			logs.Errorf("ledger persist failed at seq=%d, pending=%d, err: %+v", ev.Seq, len(l.dirty), err)
		}
	}
	forward := l.forward
	l.mu.Unlock()

	l.opt.Metrics.IncResult(res.Operation, string(res.Status))
	if ev.CreatedTime > 0 {
		l.opt.Metrics.ObserveResult(time.Duration(schema.Nanotime() - ev.CreatedTime))
	}

	if forward == nil {
		return nil
	}
	p, err := res.Payload(ev.CreatedTime)
	if err != nil {
		return err
	}
	if err := forward.Push(context.Background(), p); err != nil {
		logs.Errorf("ledger forward result failed, seq: %d, uid: %s, err: %+v", ev.Seq, ev.UID, err)
	}
	return nil
}

// replay applies a journaled request without forwarding. Requests already reflected in the
// store are skipped.
func (l *Ledger) replay(seq uint64, p schema.Payload) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if seq <= l.persistedSeq {
		return
	}
	res, changed := apply(l.records, seq, p)
	if changed {
		l.dirty[res.Key] = struct{}{}
	}
	if seq > l.lastSeq {
		l.lastSeq = seq
	}
}

// Flush persists pending mutations.
func (l *Ledger) Flush(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.flushLocked(ctx)
}

func (l *Ledger) flushLocked(ctx context.Context) error {
	if len(l.dirty) == 0 && l.persistedSeq == l.lastSeq {
		return nil
	}
	records := make([]schema.InventoryRecord, 0, len(l.dirty))
	var deleted []string
	for key := range l.dirty {
		if rec, ok := l.records[key]; ok {
			records = append(records, rec)
		} else {
			deleted = append(deleted, key)
		}
	}
	if len(deleted) != 0 {
		if err := l.st.Delete(ctx, deleted); err != nil {
			return errors.Wrap(err, "delete inventory").With("count", len(deleted))
		}
	}
	if err := l.st.Save(ctx, records, l.lastSeq); err != nil {
		return errors.Wrap(err, "save inventory").With("count", len(records)).With("seq", l.lastSeq)
	}
	clear(l.dirty)
	l.persistedSeq = l.lastSeq
	return nil
}

// Inventory returns every record sorted by key.
func (l *Ledger) Inventory() []schema.InventoryRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sortedLocked()
}

// Get returns one record.
func (l *Ledger) Get(key string) (schema.InventoryRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.records[key]
	return rec, ok
}

func (l *Ledger) sortedLocked() []schema.InventoryRecord {
	out := make([]schema.InventoryRecord, 0, len(l.records))
	for _, rec := range l.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// UpdateInventory creates or overwrites the quantity of one record.
func (l *Ledger) UpdateInventory(ctx context.Context, rec schema.InventoryRecord) (schema.InventoryRecord, error) {
	if rec.Key == "" {
		return schema.InventoryRecord{}, exception.ErrEmptyKey
	}
	if rec.Quantity < 0 {
		return schema.InventoryRecord{}, exception.ErrNegativeQuantity
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.flushLocked(ctx); err != nil {
		return schema.InventoryRecord{}, err
	}

	current := l.records[rec.Key]
	updated := schema.InventoryRecord{
		Key:       rec.Key,
		Quantity:  rec.Quantity,
		Version:   current.Version + 1,
		UpdatedAt: schema.Nanotime(),
	}
	if err := l.st.Save(ctx, []schema.InventoryRecord{updated}, l.lastSeq); err != nil {
		return schema.InventoryRecord{}, errors.Wrap(err, "save inventory").With("key", rec.Key)
	}
	l.records[rec.Key] = updated
	logs.Infof("ledger inventory updated: key=%s quantity=%d version=%d", updated.Key, updated.Quantity, updated.Version)
	return updated, nil
}

// DeleteInventory removes one record.
func (l *Ledger) DeleteInventory(ctx context.Context, key string) error {
	if key == "" {
		return exception.ErrEmptyKey
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.records[key]; !ok {
		return exception.ErrInventoryNotFound
	}
	if err := l.flushLocked(ctx); err != nil {
		return err
	}
	if err := l.st.Delete(ctx, []string{key}); err != nil {
		return errors.Wrap(err, "delete inventory").With("key", key)
	}
	delete(l.records, key)
	logs.Infof("ledger inventory deleted: key=%s", key)
	return nil
}

// ClearInventory removes every record.
func (l *Ledger) ClearInventory(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.st.Replace(ctx, nil, l.lastSeq); err != nil {
		return errors.Wrap(err, "clear inventory")
	}
	cleared := len(l.records)
	l.records = make(map[string]schema.InventoryRecord)
	clear(l.dirty)
	l.persistedSeq = l.lastSeq
	logs.Infof("ledger inventory cleared: removed=%d", cleared)
	return nil
}

// Close persists pending mutations and closes the store.
func (l *Ledger) Close(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	err := l.flushLocked(ctx)
	if cerr := l.st.Close(); err == nil {
		err = cerr
	}
	return err
}

package ledger

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"poscheck/internal/schema"
	"poscheck/pkg/exception"
)

// Snapshot captures ledger records at a point in time. Start-of-day files use the same shape.
type Snapshot struct {
	Timestamp int64                    `json:"timestamp"`
	LastSeq   uint64                   `json:"lastSeq"`
	Inventory []schema.InventoryRecord `json:"inventory"`
}

// Snapshot builds a snapshot of the current records.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Snapshot{
		Timestamp: time.Now().UTC().UnixNano(),
		LastSeq:   l.lastSeq,
		Inventory: l.sortedLocked(),
	}
}

// LoadStartOfDay replaces the whole ledger with the snapshot at path. It is refused while the
// ledger is running, and the file is fully validated before anything is replaced.
func (l *Ledger) LoadStartOfDay(ctx context.Context, path string) error {
	if l.Running() {
		return exception.ErrNotAllowed
	}

	snap, err := ReadSnapshot(path)
	if err != nil {
		return errors.Wrap(err, "read start of day file").With("path", path)
	}

	records := make(map[string]schema.InventoryRecord, len(snap.Inventory))
	list := make([]schema.InventoryRecord, 0, len(snap.Inventory))
	for _, entry := range snap.Inventory {
		if entry.Key == "" {
			return errors.Wrap(exception.ErrEmptyKey, "validate start of day file").With("path", path)
		}
		if entry.Quantity < 0 {
			return errors.Wrap(exception.ErrNegativeQuantity, "validate start of day file").With("key", entry.Key)
		}
		if _, dup := records[entry.Key]; dup {
			return errors.Errorf("duplicate key %q in start of day file %s", entry.Key, path)
		}
		if entry.Version == 0 {
			entry.Version = 1
		}
		if entry.UpdatedAt == 0 {
			entry.UpdatedAt = snap.Timestamp
		}
		records[entry.Key] = entry
		list = append(list, entry)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.st.Replace(ctx, list, l.lastSeq); err != nil {
		return errors.Wrap(err, "persist start of day").With("path", path)
	}
	l.records = records
	clear(l.dirty)
	l.persistedSeq = l.lastSeq
	logs.Infof("ledger start of day loaded: path=%s records=%d", path, len(records))
	return nil
}

// WriteSnapshot writes a snapshot to disk as JSON.
func WriteSnapshot(path string, snapshot Snapshot) error {
	data, err := sonic.ConfigStd.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadSnapshot loads a snapshot from disk.
func ReadSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := sonic.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// CompareSnapshots checks that two snapshots hold the same quantities per key.
func CompareSnapshots(expected, actual Snapshot) error {
	if len(expected.Inventory) != len(actual.Inventory) {
		return errors.Errorf("snapshot length mismatch: expected=%d actual=%d", len(expected.Inventory), len(actual.Inventory))
	}
	expectedMap := make(map[string]schema.Quantity, len(expected.Inventory))
	for _, entry := range expected.Inventory {
		expectedMap[entry.Key] = entry.Quantity
	}
	for _, entry := range actual.Inventory {
		want, ok := expectedMap[entry.Key]
		if !ok {
			return errors.Errorf("snapshot missing key: %s", entry.Key)
		}
		if want != entry.Quantity {
			return errors.Errorf("snapshot quantity mismatch: key=%s expected=%d actual=%d", entry.Key, want, entry.Quantity)
		}
	}
	return nil
}

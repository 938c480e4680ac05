package store

import (
	"context"
	"encoding/binary"

	"github.com/bytedance/sonic"
	"github.com/dgraph-io/badger/v3"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"poscheck/internal/schema"
)

var (
	inventoryPrefix = []byte("inv/")
	lastSeqKey      = []byte("meta/last_seq")
)

// Badger is the on-disk keyed store. Each record lives under inv/<key> as JSON; the persisted
// sequence lives under meta/last_seq.
type Badger struct {
	db *badger.DB
}

// OpenBadger opens (or creates) a badger directory.
func OpenBadger(path string) (*Badger, error) {
	if path == "" {
		return nil, errors.New("badger store path is empty")
	}
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "open badger").With("path", path)
	}
	logs.Infof("ledger store badger opened at %s", path)
	return &Badger{db: db}, nil
}

// OpenBadgerInMemory opens a badger instance without a directory.
func OpenBadgerInMemory() (*Badger, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "open in-memory badger")
	}
	return &Badger{db: db}, nil
}

func inventoryKey(key string) []byte {
	return append(append([]byte(nil), inventoryPrefix...), key...)
}

func (b *Badger) Load(context.Context) (map[string]schema.InventoryRecord, uint64, error) {
	records := make(map[string]schema.InventoryRecord)
	var lastSeq uint64
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(inventoryPrefix); it.ValidForPrefix(inventoryPrefix); it.Next() {
			var rec schema.InventoryRecord
			if err := it.Item().Value(func(v []byte) error {
				return sonic.Unmarshal(v, &rec)
			}); err != nil {
				return errors.Wrap(err, "decode inventory record").With("key", string(it.Item().Key()))
			}
			records[rec.Key] = rec
		}

		item, err := txn.Get(lastSeqKey)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			if len(v) == 8 {
				lastSeq = binary.BigEndian.Uint64(v)
			}
			return nil
		})
	})
	if err != nil {
		return nil, 0, errors.Wrap(err, "load badger store")
	}
	return records, lastSeq, nil
}

func (b *Badger) Save(_ context.Context, records []schema.InventoryRecord, lastSeq uint64) error {
	return b.db.Update(func(txn *badger.Txn) error {
		for _, r := range records {
			v, err := sonic.Marshal(r)
			if err != nil {
				return err
			}
			if err := txn.Set(inventoryKey(r.Key), v); err != nil {
				return err
			}
		}
		return setLastSeq(txn, lastSeq)
	})
}

func (b *Badger) Delete(_ context.Context, keys []string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		for _, k := range keys {
			if err := txn.Delete(inventoryKey(k)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *Badger) Replace(_ context.Context, records []schema.InventoryRecord, lastSeq uint64) error {
	if err := b.db.DropPrefix(inventoryPrefix); err != nil {
		return errors.Wrap(err, "drop inventory prefix")
	}

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for _, r := range records {
		v, err := sonic.Marshal(r)
		if err != nil {
			return err
		}
		if err := wb.Set(inventoryKey(r.Key), v); err != nil {
			return err
		}
	}
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], lastSeq)
	if err := wb.Set(lastSeqKey, seq[:]); err != nil {
		return err
	}
	return wb.Flush()
}

func (b *Badger) Close() error {
	return b.db.Close()
}

// setLastSeq never moves the persisted sequence backwards.
func setLastSeq(txn *badger.Txn, lastSeq uint64) error {
	item, err := txn.Get(lastSeqKey)
	switch {
	case err == badger.ErrKeyNotFound:
	case err != nil:
		return err
	default:
		var current uint64
		if err := item.Value(func(v []byte) error {
			if len(v) == 8 {
				current = binary.BigEndian.Uint64(v)
			}
			return nil
		}); err != nil {
			return err
		}
		if current >= lastSeq {
			return nil
		}
	}
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], lastSeq)
	return txn.Set(lastSeqKey, seq[:])
}

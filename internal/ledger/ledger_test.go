package ledger

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poscheck/internal/journal"
	"poscheck/internal/schema"
	"poscheck/internal/store"
	"poscheck/pkg/exception"
)

type collectingForwarder struct {
	mu       sync.Mutex
	payloads []schema.Payload
}

func (f *collectingForwarder) Push(_ context.Context, p schema.Payload) error {
	f.mu.Lock()
	f.payloads = append(f.payloads, p)
	f.mu.Unlock()
	return nil
}

func (f *collectingForwarder) results(t *testing.T) []Result {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Result, 0, len(f.payloads))
	for _, p := range f.payloads {
		r, err := ParseResult(p)
		require.NoError(t, err)
		out = append(out, r)
	}
	return out
}

func request(seq uint64, opType, body string) *schema.Event {
	ev := &schema.Event{}
	ev.Set(seq, schema.Payload{
		PayloadType: opType,
		Payload:     body,
		UID:         fmt.Sprintf("req-%d", seq),
		CreatedTime: int64(1_000 + seq),
	})
	return ev
}

func openLedger(t *testing.T, st store.Store, opt Options) *Ledger {
	t.Helper()
	l := New(st, opt)
	require.NoError(t, l.Open(context.Background()))
	return l
}

func writeSOD(t *testing.T, records ...schema.InventoryRecord) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sod.json")
	require.NoError(t, WriteSnapshot(path, Snapshot{Timestamp: 42, Inventory: records}))
	return path
}

// operations is a fixed stream mixing accepted and rejected requests.
func operations() []*schema.Event {
	bodies := []struct{ t, b string }{
		{TypeCheck, "AAPL:10"},
		{TypeUpdate, "MSFT:25"},
		{TypeCheck, "MSFT:30"},
		{TypeCheck, "MSFT:25"},
		{"SELL", "AAPL:1"},
		{TypeUpdate, "AAPL:-95"},
		{TypeCheck, "AAPL:0"},
		{TypeCheck, "nokey"},
		{TypeUpdate, "GOOG:7"},
		{TypeCheck, "AAPL:90"},
		{TypeUpdate, "AAPL:-1"},
		{TypeCheck, "GOOG:3"},
	}
	out := make([]*schema.Event, len(bodies))
	for i, b := range bodies {
		out[i] = request(uint64(i+1), b.t, b.b)
	}
	return out
}

func TestApplySemantics(t *testing.T) {
	l := openLedger(t, store.NewMemory(), Options{})
	require.NoError(t, l.LoadStartOfDay(context.Background(), writeSOD(t, schema.InventoryRecord{Key: "AAPL", Quantity: 100})))
	fwd := &collectingForwarder{}
	require.NoError(t, l.Start(fwd))

	for _, ev := range operations() {
		require.NoError(t, l.OnEvent(ev, int64(ev.Seq-1), true))
	}

	results := fwd.results(t)
	require.Len(t, results, 12)

	type outcome struct {
		status   Status
		reason   string
		quantity schema.Quantity
	}
	want := []outcome{
		{StatusAccepted, "", 90},
		{StatusAccepted, "", 25},
		{StatusRejected, ReasonInsufficient, 25},
		{StatusAccepted, "", 0},
		{StatusRejected, ReasonUnknownOperation, 0},
		{StatusRejected, ReasonNegativeResult, 90},
		{StatusRejected, ReasonNonPositive, 90},
		{StatusRejected, ReasonMalformed, 0},
		{StatusAccepted, "", 7},
		{StatusAccepted, "", 0},
		{StatusRejected, ReasonNegativeResult, 0},
		{StatusAccepted, "", 4},
	}
	for i, w := range want {
		r := results[i]
		assert.Equal(t, uint64(i+1), r.Seq, "result %d", i)
		assert.Equal(t, fmt.Sprintf("req-%d", i+1), r.RequestUID)
		assert.Equal(t, w.status, r.Status, "result %d", i)
		assert.Equal(t, w.reason, r.Reason, "result %d", i)
		assert.Equal(t, w.quantity, r.Quantity, "result %d", i)
	}

	aapl, ok := l.Get("AAPL")
	require.True(t, ok)
	assert.Equal(t, schema.Quantity(0), aapl.Quantity)
	assert.Equal(t, uint64(3), aapl.Version)
	assert.Equal(t, int64(1_010), aapl.UpdatedAt)
	assert.Equal(t, uint64(12), l.LastSeq())
	assert.Equal(t, uint64(12), l.Processed())
}

func TestResultPayloadIsDeterministic(t *testing.T) {
	res := Result{RequestUID: "req-1", Seq: 1, Operation: TypeCheck, Key: "AAPL", Amount: 1, Status: StatusAccepted}
	a, err := res.Payload(5)
	require.NoError(t, err)
	b, err := res.Payload(5)
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.Equal(t, TypeResult, a.PayloadType)
	require.NotEqual(t, "req-1", a.UID)

	_, err = ParseResult(schema.Payload{PayloadType: TypeCheck})
	require.Error(t, err)
}

func TestLedgerDeterminism(t *testing.T) {
	sod := writeSOD(t,
		schema.InventoryRecord{Key: "AAPL", Quantity: 100},
		schema.InventoryRecord{Key: "TSLA", Quantity: 3},
	)
	run := func() []schema.InventoryRecord {
		l := openLedger(t, store.NewMemory(), Options{PersistBatch: true})
		require.NoError(t, l.LoadStartOfDay(context.Background(), sod))
		require.NoError(t, l.Start(&collectingForwarder{}))
		for _, ev := range operations() {
			require.NoError(t, l.OnEvent(ev, int64(ev.Seq-1), ev.Seq%4 == 0))
		}
		require.NoError(t, l.Stop(context.Background()))
		return l.Inventory()
	}

	first := run()
	second := run()
	require.Equal(t, first, second)
	require.NotEmpty(t, first)
}

func TestLoadStartOfDayRefusedWhileRunning(t *testing.T) {
	l := openLedger(t, store.NewMemory(), Options{})
	require.NoError(t, l.LoadStartOfDay(context.Background(), writeSOD(t, schema.InventoryRecord{Key: "AAPL", Quantity: 5})))
	require.NoError(t, l.Start(nil))

	err := l.LoadStartOfDay(context.Background(), writeSOD(t, schema.InventoryRecord{Key: "MSFT", Quantity: 1}))
	require.ErrorIs(t, err, exception.ErrNotAllowed)
	require.Len(t, l.Inventory(), 1)
	require.Equal(t, "AAPL", l.Inventory()[0].Key)

	require.NoError(t, l.Stop(context.Background()))
	require.ErrorIs(t, l.Stop(context.Background()), exception.ErrNotStarted)
}

func TestLoadStartOfDayInvalidFileLeavesStateUntouched(t *testing.T) {
	st := store.NewMemory()
	l := openLedger(t, st, Options{})
	require.NoError(t, l.LoadStartOfDay(context.Background(), writeSOD(t, schema.InventoryRecord{Key: "AAPL", Quantity: 5})))

	bad := []string{
		writeSOD(t, schema.InventoryRecord{Key: "MSFT", Quantity: 1}, schema.InventoryRecord{Key: "", Quantity: 1}),
		writeSOD(t, schema.InventoryRecord{Key: "MSFT", Quantity: 1}, schema.InventoryRecord{Key: "GOOG", Quantity: -1}),
		writeSOD(t, schema.InventoryRecord{Key: "MSFT", Quantity: 1}, schema.InventoryRecord{Key: "MSFT", Quantity: 2}),
		filepath.Join(t.TempDir(), "missing.json"),
	}
	for _, path := range bad {
		require.Error(t, l.LoadStartOfDay(context.Background(), path), path)
		inv := l.Inventory()
		require.Len(t, inv, 1)
		require.Equal(t, "AAPL", inv[0].Key)
	}

	persisted, _, err := st.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, persisted, 1)
}

func TestCrashRecoveryMatchesUninterruptedRun(t *testing.T) {
	for _, batch := range []bool{false, true} {
		t.Run(fmt.Sprintf("batch=%t", batch), func(t *testing.T) {
			ctx := context.Background()
			sod := writeSOD(t, schema.InventoryRecord{Key: "AAPL", Quantity: 100})
			events := operations()
			const k = 6

			j, err := journal.Open(journal.Config{Dir: t.TempDir(), FilePrefix: "inbound"})
			require.NoError(t, err)

			st := store.NewMemory()
			crashed := openLedger(t, st, Options{PersistBatch: batch})
			require.NoError(t, crashed.LoadStartOfDay(ctx, sod))
			require.NoError(t, crashed.Start(&collectingForwarder{}))
			for _, ev := range events[:k] {
				require.NoError(t, j.Append(schema.EventRequest, ev))
				require.NoError(t, crashed.OnEvent(ev, int64(ev.Seq-1), true))
			}
			for _, ev := range events[k : k+5] {
				require.NoError(t, j.Append(schema.EventRequest, ev))
				if batch {
					// applied in memory, never reached the store
					require.NoError(t, crashed.OnEvent(ev, int64(ev.Seq-1), false))
				}
			}
			require.NoError(t, j.Commit())
			_, persistedSeq, err := st.Load(ctx)
			require.NoError(t, err)
			require.Equal(t, uint64(k), persistedSeq)

			restarted := openLedger(t, st, Options{PersistBatch: batch})
			replayed, err := restarted.Recover(ctx, journal.PlaybackOf(j))
			require.NoError(t, err)
			require.Equal(t, 5, replayed)
			require.Equal(t, uint64(k+5), restarted.LastSeq())
			require.Equal(t, uint64(k+5), restarted.PersistedSeq())

			reference := openLedger(t, store.NewMemory(), Options{})
			require.NoError(t, reference.LoadStartOfDay(ctx, sod))
			require.NoError(t, reference.Start(nil))
			for _, ev := range events[:k+5] {
				require.NoError(t, reference.OnEvent(ev, int64(ev.Seq-1), true))
			}
			require.Equal(t, reference.Inventory(), restarted.Inventory())

			again := openLedger(t, st, Options{})
			require.Equal(t, reference.Inventory(), again.Inventory())
			require.NoError(t, j.Close())
		})
	}
}

func TestAdminCRUD(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	l := openLedger(t, st, Options{})

	_, err := l.UpdateInventory(ctx, schema.InventoryRecord{Key: ""})
	require.ErrorIs(t, err, exception.ErrEmptyKey)
	_, err = l.UpdateInventory(ctx, schema.InventoryRecord{Key: "AAPL", Quantity: -1})
	require.ErrorIs(t, err, exception.ErrNegativeQuantity)

	rec, err := l.UpdateInventory(ctx, schema.InventoryRecord{Key: "AAPL", Quantity: 10})
	require.NoError(t, err)
	require.Equal(t, uint64(1), rec.Version)
	rec, err = l.UpdateInventory(ctx, schema.InventoryRecord{Key: "AAPL", Quantity: 12})
	require.NoError(t, err)
	require.Equal(t, uint64(2), rec.Version)
	_, err = l.UpdateInventory(ctx, schema.InventoryRecord{Key: "MSFT", Quantity: 1})
	require.NoError(t, err)

	require.ErrorIs(t, l.DeleteInventory(ctx, "GOOG"), exception.ErrInventoryNotFound)
	require.NoError(t, l.DeleteInventory(ctx, "MSFT"))
	persisted, _, err := st.Load(ctx)
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	require.Equal(t, schema.Quantity(12), persisted["AAPL"].Quantity)

	require.NoError(t, l.ClearInventory(ctx))
	require.Empty(t, l.Inventory())
	persisted, _, err = st.Load(ctx)
	require.NoError(t, err)
	require.Empty(t, persisted)
}

func TestAdminCRUDConcurrentWithPipeline(t *testing.T) {
	ctx := context.Background()
	l := openLedger(t, store.NewMemory(), Options{PersistBatch: true})
	require.NoError(t, l.Start(nil))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for seq := uint64(1); seq <= 500; seq++ {
			assert.NoError(t, l.OnEvent(request(seq, TypeUpdate, "AAPL:1"), int64(seq-1), seq%16 == 0))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			_, err := l.UpdateInventory(ctx, schema.InventoryRecord{Key: "MSFT", Quantity: schema.Quantity(i)})
			assert.NoError(t, err)
			_ = l.Inventory()
		}
	}()
	wg.Wait()

	aapl, ok := l.Get("AAPL")
	require.True(t, ok)
	require.Equal(t, schema.Quantity(500), aapl.Quantity)
	msft, ok := l.Get("MSFT")
	require.True(t, ok)
	require.Equal(t, uint64(100), msft.Version)
}

func TestSnapshotRoundTrip(t *testing.T) {
	l := openLedger(t, store.NewMemory(), Options{})
	_, err := l.UpdateInventory(context.Background(), schema.InventoryRecord{Key: "AAPL", Quantity: 3})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "nested", "snap.json")
	snap := l.Snapshot()
	require.NoError(t, WriteSnapshot(path, snap))
	loaded, err := ReadSnapshot(path)
	require.NoError(t, err)
	require.NoError(t, CompareSnapshots(snap, loaded))

	loaded.Inventory[0].Quantity = 4
	require.Error(t, CompareSnapshots(snap, loaded))
	require.Error(t, CompareSnapshots(snap, Snapshot{}))
}

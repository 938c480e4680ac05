package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poscheck/internal/disruptor"
	"poscheck/internal/obs"
	"poscheck/internal/schema"
	"poscheck/pkg/exception"
)

type recordingStage struct {
	name string

	mu   sync.Mutex
	seqs []uint64
	uids []string
}

func (r *recordingStage) Name() string { return r.name }

func (r *recordingStage) OnEvent(ev *schema.Event, _ int64, _ bool) error {
	r.mu.Lock()
	r.seqs = append(r.seqs, ev.Seq)
	r.uids = append(r.uids, ev.UID)
	r.mu.Unlock()
	return nil
}

func (r *recordingStage) snapshot() ([]uint64, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.seqs...), append([]string(nil), r.uids...)
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{Name: "inbound", BufferSize: 12}, nil)
	require.ErrorIs(t, err, exception.ErrInvalidBufferSize)
	_, err = New(Config{Name: "inbound", BufferSize: 16, WaitStrategy: "yield"}, nil)
	require.ErrorIs(t, err, exception.ErrUnknownWaitStrategy)
}

func TestPipelineDeliversEveryPayloadToEveryStage(t *testing.T) {
	p, err := New(Config{Name: "inbound", BufferSize: 8, WaitStrategy: disruptor.WaitBusySpin}, obs.NewMetrics())
	require.NoError(t, err)

	journal := &recordingStage{name: "journal"}
	ledger := &recordingStage{name: "ledger"}
	joined := &recordingStage{name: "joined"}
	p.Then(p.Handle(journal, ledger), joined)
	require.NoError(t, p.Start(100))

	const writers, perWriter = 4, 50
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				payload := schema.NewPayload("UPDATE", fmt.Sprintf("w%d:%d", w, i))
				assert.NoError(t, p.Push(context.Background(), payload))
			}
		}(w)
	}
	wg.Wait()
	p.Stop()
	p.Stop()

	require.NoError(t, p.Err())
	require.Equal(t, uint64(writers*perWriter), p.Published())
	require.Equal(t, uint64(100+writers*perWriter), p.LastSeq())

	refSeqs, refUIDs := journal.snapshot()
	require.Len(t, refSeqs, writers*perWriter)
	for i, seq := range refSeqs {
		require.Equal(t, uint64(101+i), seq)
	}
	for _, stage := range []*recordingStage{ledger, joined} {
		seqs, uids := stage.snapshot()
		require.Equal(t, refSeqs, seqs, stage.name)
		require.Equal(t, refUIDs, uids, stage.name)
	}

	err = p.Push(context.Background(), schema.NewPayload("UPDATE", "late:1"))
	require.ErrorIs(t, err, exception.ErrQueueClosed)
}

func TestPushBeforeStart(t *testing.T) {
	p, err := New(Config{Name: "outbound", BufferSize: 8}, nil)
	require.NoError(t, err)
	err = p.Push(context.Background(), schema.NewPayload("RESULT", "{}"))
	require.ErrorIs(t, err, exception.ErrNotStarted)
	p.Stop()
}

func TestStageFaultClosesIngress(t *testing.T) {
	p, err := New(Config{Name: "inbound", BufferSize: 8, WaitStrategy: disruptor.WaitBlocking}, obs.NewMetrics())
	require.NoError(t, err)

	boom := errors.New("journal disk full")
	failing := disruptor.HandlerFunc[schema.Event](func(ev *schema.Event, _ int64, _ bool) error {
		if ev.Seq == 3 {
			return boom
		}
		return nil
	})
	p.Handle(failing)
	require.NoError(t, p.Start(0))

	for i := 0; i < 3; i++ {
		require.NoError(t, p.Push(context.Background(), schema.NewPayload("CHECK", "a:1")))
	}

	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline did not halt after a stage fault")
	}
	require.ErrorIs(t, p.Err(), boom)

	require.Eventually(t, func() bool {
		err := p.Push(context.Background(), schema.NewPayload("CHECK", "a:1"))
		return errors.Is(err, exception.ErrQueueClosed)
	}, 2*time.Second, 10*time.Millisecond)
	p.Stop()
}

func TestPushBlocksUnderBackpressure(t *testing.T) {
	p, err := New(Config{Name: "outbound", BufferSize: 8, WaitStrategy: disruptor.WaitBlocking}, nil)
	require.NoError(t, err)
	gate := make(chan struct{})
	slow := disruptor.HandlerFunc[schema.Event](func(*schema.Event, int64, bool) error {
		<-gate
		return nil
	})
	p.Handle(slow)
	require.NoError(t, p.Start(0))

	// 8 slots plus the one held by the blocked producer
	for i := 0; i < 9; i++ {
		require.NoError(t, p.Push(context.Background(), schema.NewPayload("RESULT", "{}")))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = p.Push(ctx, schema.NewPayload("RESULT", "{}"))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(gate)
	require.NoError(t, p.Push(context.Background(), schema.NewPayload("RESULT", "{}")))
	p.Stop()
	require.Equal(t, uint64(10), p.Published())
}

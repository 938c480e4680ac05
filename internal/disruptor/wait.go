package disruptor

import (
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"poscheck/pkg/exception"
)

const (
	spinYieldMask   = 1<<10 - 1
	maxBackoffSpins = 100
	backoffPause    = 20 * time.Microsecond
	WaitBusySpin    = "busy-spin"
	WaitBlocking    = "blocking"
)

// Alert is the halt flag of a consumer barrier.
type Alert struct {
	v atomic.Bool
}

// IsAlerted reports whether the owning stage was asked to halt.
func (a *Alert) IsAlerted() bool {
	return a.v.Load()
}

func (a *Alert) set() {
	a.v.Store(true)
}

// WaitStrategy decides how a consumer waits for sequences to become available.
//
// WaitFor returns once the available sequence is >= seq or the alert is raised. The available
// sequence is the cursor when deps is empty and the minimum of deps otherwise. The halt flag is
// sampled before the available sequence so a halted caller always sees the final value.
type WaitStrategy interface {
	WaitFor(seq int64, cursor *Sequence, deps []*Sequence, alert *Alert) (available int64, halted bool)
	SignalAll()
}

// ParseWaitStrategy resolves a configured strategy name.
func ParseWaitStrategy(name string) (WaitStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case WaitBusySpin, "busyspin", "busy_spin":
		return BusySpin(), nil
	case WaitBlocking, "":
		return Blocking(), nil
	default:
		return nil, exception.ErrUnknownWaitStrategy
	}
}

type busySpin struct{}

// BusySpin re-reads the cursor in a tight loop. Lowest latency, one core per waiting stage.
func BusySpin() WaitStrategy {
	return busySpin{}
}

func (busySpin) WaitFor(seq int64, cursor *Sequence, deps []*Sequence, alert *Alert) (int64, bool) {
	for spins := 0; ; spins++ {
		halted := alert.IsAlerted()
		available := availableSequence(cursor, deps)
		if available >= seq || halted {
			return available, halted
		}
		if spins&spinYieldMask == spinYieldMask {
			runtime.Gosched()
		}
	}
}

func (busySpin) SignalAll() {}

type blocking struct {
	mu   sync.Mutex
	cond *sync.Cond
}

// Blocking parks waiting stages on a condition variable signalled by every publish.
func Blocking() WaitStrategy {
	b := &blocking{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *blocking) WaitFor(seq int64, cursor *Sequence, deps []*Sequence, alert *Alert) (int64, bool) {
	if cursor.Get() < seq {
		b.mu.Lock()
		for cursor.Get() < seq && !alert.IsAlerted() {
			b.cond.Wait()
		}
		b.mu.Unlock()
	}

	// upstream stages do not signal, so dependencies are polled
	for spins := 0; ; spins++ {
		halted := alert.IsAlerted()
		available := availableSequence(cursor, deps)
		if available >= seq || halted {
			return available, halted
		}
		backoff(spins)
	}
}

func (b *blocking) SignalAll() {
	b.mu.Lock()
	b.cond.Broadcast()
	b.mu.Unlock()
}

func backoff(spins int) {
	if spins < maxBackoffSpins {
		runtime.Gosched()
		return
	}
	time.Sleep(backoffPause)
}

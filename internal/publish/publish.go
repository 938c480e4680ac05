// Package publish holds the outbound stage that hands results to the external writer.
package publish

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/yanun0323/logs"

	"poscheck/internal/failover"
	"poscheck/internal/obs"
	"poscheck/internal/schema"
	"poscheck/internal/transport"
)

const (
	OutcomeEmitted    = "emitted"
	OutcomeSuppressed = "suppressed"
	OutcomeFailed     = "failed"
)

const emitTimeout = 5 * time.Second

// Handler emits every outbound event while the process is primary. A secondary consumes the
// same events and drops them. Writer failures are logged and counted, never returned.
type Handler struct {
	writer   transport.Writer
	failover *failover.Controller
	metrics  *obs.Metrics

	emitted    atomic.Uint64
	suppressed atomic.Uint64
	failed     atomic.Uint64
}

func NewHandler(writer transport.Writer, fc *failover.Controller, metrics *obs.Metrics) *Handler {
	return &Handler{writer: writer, failover: fc, metrics: metrics}
}

func (h *Handler) Name() string { return "publish" }

func (h *Handler) OnEvent(ev *schema.Event, _ int64, _ bool) error {
	if h.failover != nil && !h.failover.IsPrimary() {
		h.suppressed.Add(1)
		h.metrics.IncEmission(OutcomeSuppressed)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
	defer cancel()
	if err := h.writer.Emit(ctx, ev.Payload); err != nil {
		h.failed.Add(1)
		h.metrics.IncEmission(OutcomeFailed)
		logs.Errorf("emit failed, seq=%d, uid=%s, err: %+v", ev.Seq, ev.UID, err)
		return nil
	}
	h.emitted.Add(1)
	h.metrics.IncEmission(OutcomeEmitted)
	return nil
}

func (h *Handler) OnStart() {}

func (h *Handler) OnShutdown() {
	logs.Infof("publish stage stopped, emitted=%d, suppressed=%d, failed=%d",
		h.emitted.Load(), h.suppressed.Load(), h.failed.Load())
}

func (h *Handler) Emitted() uint64    { return h.emitted.Load() }
func (h *Handler) Suppressed() uint64 { return h.suppressed.Load() }
func (h *Handler) Failed() uint64     { return h.failed.Load() }

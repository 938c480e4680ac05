// Package replication writes a second durable copy of the inbound stream beside the journal.
package replication

import (
	"context"
	"strings"

	"github.com/yanun0323/errors"

	"poscheck/internal/schema"
)

const (
	ModeNone  = "none"
	ModeFile  = "file"
	ModeRedis = "redis"
)

// Sink receives every inbound event in sequence order.
type Sink interface {
	Write(ctx context.Context, ev *schema.Event) error
	// Commit makes every written event durable.
	Commit(ctx context.Context) error
	Close() error
}

// Handler is the pipeline stage that forwards events to a Sink. Sink failures are returned to
// the stage and halt the owning pipeline like a journal failure.
type Handler struct {
	sink Sink
}

func NewHandler(sink Sink) *Handler {
	return &Handler{sink: sink}
}

func (h *Handler) Name() string { return "replication" }

func (h *Handler) OnEvent(ev *schema.Event, _ int64, endOfBatch bool) error {
	ctx := context.Background()
	if err := h.sink.Write(ctx, ev); err != nil {
		return errors.Wrap(err, "replicate event").With("seq", ev.Seq)
	}
	if endOfBatch {
		if err := h.sink.Commit(ctx); err != nil {
			return errors.Wrap(err, "commit replica").With("seq", ev.Seq)
		}
	}
	return nil
}

// ValidMode reports whether mode names a supported replication mode.
func ValidMode(mode string) bool {
	switch strings.ToLower(mode) {
	case "", ModeNone, ModeFile, ModeRedis:
		return true
	default:
		return false
	}
}

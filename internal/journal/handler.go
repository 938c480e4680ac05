package journal

import (
	"github.com/yanun0323/errors"

	"poscheck/internal/schema"
)

// Handler is the pipeline stage that journals every event.
// A write failure is returned to the stage, which halts the owning pipeline.
type Handler struct {
	name      string
	journal   *Journal
	eventType schema.EventType
}

// NewHandler builds a journaling stage recording events of the given type.
func NewHandler(name string, j *Journal, eventType schema.EventType) *Handler {
	return &Handler{name: name, journal: j, eventType: eventType}
}

func (h *Handler) Name() string { return h.name }

func (h *Handler) OnEvent(ev *schema.Event, _ int64, endOfBatch bool) error {
	if err := h.journal.Append(h.eventType, ev); err != nil {
		return errors.Wrap(err, "append journal").With("stage", h.name).With("seq", ev.Seq)
	}
	if endOfBatch {
		if err := h.journal.Commit(); err != nil {
			return errors.Wrap(err, "commit journal").With("stage", h.name).With("seq", ev.Seq)
		}
	}
	return nil
}

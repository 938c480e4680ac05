package ledger

import (
	"context"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"poscheck/internal/journal"
	"poscheck/internal/schema"
	"poscheck/pkg/exception"
)

// Recover replays inbound journal requests newer than the persisted sequence, then persists
// the result. Results are not forwarded again.
func (l *Ledger) Recover(ctx context.Context, pb *journal.Playback) (int, error) {
	if l.Running() {
		return 0, exception.ErrNotAllowed
	}

	from := l.PersistedSeq()
	replayed := 0
	err := pb.Run(ctx, from, func(r journal.Record) error {
		if r.Header.Type != schema.EventRequest {
			return nil
		}
		l.replay(r.Header.Seq, r.Payload)
		replayed++
		return nil
	})
	if err != nil {
		return replayed, errors.Wrap(err, "replay inbound journal").With("from", from)
	}
	if err := l.Flush(ctx); err != nil {
		return replayed, err
	}
	logs.Infof("ledger recovered: from_seq=%d replayed=%d last_seq=%d", from, replayed, l.LastSeq())
	return replayed, nil
}

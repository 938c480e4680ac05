package replication

import (
	"context"

	"poscheck/internal/journal"
	"poscheck/internal/schema"
)

// FileSink keeps the replica as a journal in a separate directory.
type FileSink struct {
	j *journal.Journal
}

// NewFileSink opens (or continues) a replica journal under dir.
func NewFileSink(dir string, sync bool) (*FileSink, error) {
	cfg := journal.DefaultConfig(dir)
	cfg.FilePrefix = "replica"
	cfg.Sync = sync
	j, err := journal.Open(cfg)
	if err != nil {
		return nil, err
	}
	return &FileSink{j: j}, nil
}

func (s *FileSink) Write(_ context.Context, ev *schema.Event) error {
	return s.j.Append(schema.EventRequest, ev)
}

func (s *FileSink) Commit(context.Context) error {
	return s.j.Commit()
}

func (s *FileSink) Close() error {
	return s.j.Close()
}

// Journal exposes the replica journal for playback.
func (s *FileSink) Journal() *journal.Journal {
	return s.j
}

package journal

import (
	"context"
	"os"

	"github.com/yanun0323/errors"

	"poscheck/internal/codec"
	"poscheck/internal/schema"
)

// PlaybackConfig controls journal playback behavior.
type PlaybackConfig struct {
	Dir             string
	FilePrefix      string
	DisableChecksum bool
	MaxPayloadSize  int
}

// Record is one decoded journal entry.
type Record struct {
	Header  schema.EventHeader
	Payload schema.Payload
}

// Playback replays journal records in file order.
type Playback struct {
	cfg PlaybackConfig
}

// NewPlayback validates the config and creates a playback engine.
func NewPlayback(cfg PlaybackConfig) (*Playback, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Playback{cfg: cfg}, nil
}

// PlaybackOf replays the journal written by j.
func PlaybackOf(j *Journal) *Playback {
	return &Playback{cfg: PlaybackConfig{Dir: j.Dir(), FilePrefix: j.Prefix()}}
}

func (c PlaybackConfig) withDefaults() PlaybackConfig {
	if c.FilePrefix == "" {
		c.FilePrefix = defaultFilePrefix
	}
	return c
}

// Validate checks if the config is usable.
func (c PlaybackConfig) Validate() error {
	if c.Dir == "" {
		return errors.New("invalid playback config: Dir is empty")
	}
	if c.MaxPayloadSize < 0 {
		return errors.New("invalid playback config: MaxPayloadSize must be >= 0")
	}
	return nil
}

// Run calls handler for every record with a sequence above fromSeq, in journal order.
// A torn record at the end of the newest segment ends playback without error.
func (p *Playback) Run(ctx context.Context, fromSeq uint64, handler func(Record) error) error {
	if handler == nil {
		return errors.New("playback handler is nil")
	}
	files, err := segmentFiles(p.cfg.Dir, p.cfg.FilePrefix)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "list journal segments").With("dir", p.cfg.Dir)
	}

	for i, path := range files {
		if err := p.playFile(ctx, path, i == len(files)-1, fromSeq, handler); err != nil {
			return err
		}
	}
	return nil
}

func (p *Playback) playFile(ctx context.Context, path string, newest bool, fromSeq uint64, handler func(Record) error) error {
	file, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open journal segment").With("path", path)
	}
	defer file.Close()

	var stopped error
	sc := newSegmentScanner(file, !p.cfg.DisableChecksum, p.cfg.MaxPayloadSize)
	_, err = sc.walk(newest, func(header schema.EventHeader, raw []byte) error {
		if stopped = ctx.Err(); stopped != nil {
			return stopped
		}
		if header.Seq <= fromSeq {
			return nil
		}
		payload, ok := codec.DecodePayload(raw)
		if !ok {
			stopped = errors.Errorf("decode journal payload, path: %s, seq: %d", path, header.Seq)
			return stopped
		}
		stopped = handler(Record{Header: header, Payload: payload})
		return stopped
	})
	if err != nil && stopped == nil {
		return errors.Wrap(err, "read journal record").With("path", path).With("offset", sc.offset)
	}
	return err
}

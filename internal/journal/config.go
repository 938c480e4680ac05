package journal

import (
	"github.com/yanun0323/errors"
)

const (
	defaultSegmentMaxBytes int64 = 256 << 20
	defaultBufferSize            = 256 * 1024
	defaultFilePrefix            = "journal"
	fileSuffix                   = ".jnl"
)

// Config controls journal writer behavior.
type Config struct {
	Dir             string
	FilePrefix      string
	SegmentMaxBytes int64
	BufferSize      int

	// Sync fsyncs the segment at every end of batch instead of only flushing to the OS.
	Sync bool
}

// DefaultConfig returns a baseline configuration for a journal directory.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:             dir,
		FilePrefix:      defaultFilePrefix,
		SegmentMaxBytes: defaultSegmentMaxBytes,
		BufferSize:      defaultBufferSize,
	}
}

func (c Config) withDefaults() Config {
	if c.SegmentMaxBytes == 0 {
		c.SegmentMaxBytes = defaultSegmentMaxBytes
	}
	if c.BufferSize == 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.FilePrefix == "" {
		c.FilePrefix = defaultFilePrefix
	}
	return c
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	if c.Dir == "" {
		return errors.New("invalid journal config: Dir is empty")
	}
	if c.SegmentMaxBytes <= 0 {
		return errors.New("invalid journal config: SegmentMaxBytes must be > 0")
	}
	if c.BufferSize <= 0 {
		return errors.New("invalid journal config: BufferSize must be > 0")
	}
	if c.FilePrefix == "" {
		return errors.New("invalid journal config: FilePrefix is empty")
	}
	return nil
}

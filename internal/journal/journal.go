package journal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"poscheck/internal/codec"
	"poscheck/internal/schema"
	"poscheck/pkg/exception"
)

// Journal appends events to size-rotated segment files in strict sequence order.
// Append, Commit and Close may be called from different goroutines.
type Journal struct {
	cfg Config

	mu          sync.Mutex
	seg         *segmentWriter
	segID       uint64
	headerBuf   []byte
	payloadBuf  []byte
	checksumBuf [recordChecksumSize]byte
	lastSeq     uint64
	appended    uint64
	closed      bool
}

// Open creates the journal directory, trims a record torn by a previous crash and recovers the
// last journaled sequence. Segments are opened lazily on the first Append.
func Open(cfg Config) (*Journal, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create journal dir").With("dir", cfg.Dir)
	}

	files, err := segmentFiles(cfg.Dir, cfg.FilePrefix)
	if err != nil {
		return nil, errors.Wrap(err, "list journal segments").With("dir", cfg.Dir)
	}

	j := &Journal{
		cfg:       cfg,
		segID:     uint64(len(files)),
		headerBuf: make([]byte, recordHeaderSize),
	}

	for i := len(files) - 1; i >= 0; i-- {
		lastSeq, found, err := scanSegment(files[i], i == len(files)-1)
		if err != nil {
			return nil, errors.Wrap(err, "scan journal segment").With("file", files[i])
		}
		if found {
			j.lastSeq = lastSeq
			break
		}
	}

	logs.Infof("journal %s opened: dir=%s segments=%d last_seq=%d", cfg.FilePrefix, cfg.Dir, len(files), j.lastSeq)
	return j, nil
}

// LastSeq returns the highest sequence written to the journal.
func (j *Journal) LastSeq() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastSeq
}

// Appended returns how many records this journal instance has written.
func (j *Journal) Appended() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.appended
}

// Dir returns the journal directory.
func (j *Journal) Dir() string {
	return j.cfg.Dir
}

// Prefix returns the segment file prefix.
func (j *Journal) Prefix() string {
	return j.cfg.FilePrefix
}

// Append buffers one record. It is durable once Commit returns.
func (j *Journal) Append(eventType schema.EventType, ev *schema.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return exception.ErrJournalClosed
	}

	j.payloadBuf = codec.EncodePayload(j.payloadBuf, ev.Payload)
	if uint64(len(j.payloadBuf)) > maxPayloadLen {
		return exception.ErrPayloadTooLarge
	}

	recordSize := int64(recordHeaderSize + len(j.payloadBuf) + recordChecksumSize)
	if j.shouldRotate(recordSize) {
		if err := j.closeSegment(); err != nil {
			return err
		}
		if err := j.openSegment(time.Now().UTC()); err != nil {
			return err
		}
	}

	header := schema.NewHeader(eventType, ev.Seq, ev.CreatedTime, schema.Nanotime())
	encodeHeader(j.headerBuf, header, len(j.payloadBuf))
	binary.LittleEndian.PutUint32(j.checksumBuf[:], checksum(j.headerBuf, j.payloadBuf))

	if _, err := j.seg.buf.Write(j.headerBuf); err != nil {
		return err
	}
	if _, err := j.seg.buf.Write(j.payloadBuf); err != nil {
		return err
	}
	if _, err := j.seg.buf.Write(j.checksumBuf[:]); err != nil {
		return err
	}

	j.seg.size += recordSize
	j.lastSeq = ev.Seq
	j.appended++
	return nil
}

// Commit pushes buffered records to the OS, and to stable storage when Sync is configured.
func (j *Journal) Commit() error {
	if j.cfg.Sync {
		return j.Sync()
	}
	return j.Flush()
}

// Flush writes buffered records to the segment file.
func (j *Journal) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.seg == nil {
		return nil
	}
	return j.seg.buf.Flush()
}

// Sync flushes and fsyncs the current segment.
func (j *Journal) Sync() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.seg == nil {
		return nil
	}
	if err := j.seg.buf.Flush(); err != nil {
		return err
	}
	return j.seg.file.Sync()
}

// Close flushes, fsyncs and closes the current segment.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	err := j.closeSegment()
	logs.Infof("journal %s closed: last_seq=%d appended=%d", j.cfg.FilePrefix, j.lastSeq, j.appended)
	return err
}

func (j *Journal) shouldRotate(nextSize int64) bool {
	if j.seg == nil {
		return true
	}
	return j.seg.size > 0 && j.seg.size+nextSize > j.cfg.SegmentMaxBytes
}

func (j *Journal) closeSegment() error {
	seg := j.seg
	if seg == nil {
		return nil
	}
	j.seg = nil
	if err := seg.buf.Flush(); err != nil {
		_ = seg.file.Close()
		return err
	}
	if err := seg.file.Sync(); err != nil {
		_ = seg.file.Close()
		return err
	}
	return seg.file.Close()
}

func (j *Journal) openSegment(now time.Time) error {
	ts := now.Format("20060102-150405")
	for {
		j.segID++
		name := fmt.Sprintf("%s-%s-%06d%s", j.cfg.FilePrefix, ts, j.segID, fileSuffix)
		path := filepath.Join(j.cfg.Dir, name)
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
		if err != nil {
			if os.IsExist(err) {
				continue
			}
			return errors.Wrap(err, "open journal segment").With("path", path)
		}
		j.seg = &segmentWriter{
			file: file,
			buf:  bufio.NewWriterSize(file, j.cfg.BufferSize),
		}
		return nil
	}
}

type segmentWriter struct {
	file *os.File
	buf  *bufio.Writer
	size int64
}

func segmentFiles(dir, prefix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	prefix += "-"
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	sort.Strings(files)
	return files, nil
}

// scanSegment returns the last sequence in a segment. A torn record at the end of the newest
// segment is truncated away.
func scanSegment(path string, newest bool) (uint64, bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, false, err
	}

	var (
		lastSeq uint64
		found   bool
	)
	sc := newSegmentScanner(file, true, 0)
	torn, err := sc.walk(newest, func(header schema.EventHeader, _ []byte) error {
		lastSeq, found = header.Seq, true
		return nil
	})
	_ = file.Close()
	if err != nil {
		return 0, false, err
	}
	if torn {
		logs.Errorf("journal segment %s has a torn record at offset %d, truncating", path, sc.offset)
		if err := os.Truncate(path, sc.offset); err != nil {
			return 0, false, err
		}
	}
	return lastSeq, found, nil
}

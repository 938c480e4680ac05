package transport

import (
	"bufio"
	"context"
	"os"
	"strings"
	"sync"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"poscheck/internal/schema"
	"poscheck/pkg/exception"
)

// FileReader streams "type=value" lines from a file and ends at EOF.
type FileReader struct {
	stream
	cfg  Config
	file *os.File
}

func (r *FileReader) Initialize(cfg Config) error {
	if cfg.ReaderFilePath == "" {
		return errors.New("reader file path is empty")
	}
	file, err := os.Open(cfg.ReaderFilePath)
	if err != nil {
		return errors.Wrap(err, "open reader file").With("path", cfg.ReaderFilePath)
	}
	r.cfg, r.file = cfg, file
	return nil
}

func (r *FileReader) ReadAll(ctx context.Context) (<-chan schema.Payload, error) {
	if r.file == nil {
		return nil, exception.ErrNotInitialized
	}
	if err := r.claim(); err != nil {
		return nil, err
	}

	out := make(chan schema.Payload)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(r.file)
		lines := 0
		for scanner.Scan() {
			text := strings.TrimSpace(scanner.Text())
			if text == "" || strings.HasPrefix(text, "#") {
				continue
			}
			lines++
			p, ok := parseInbound(r.cfg, text)
			if !ok {
				continue
			}
			if !deliver(ctx, out, p) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			logs.Errorf("file reader %s stopped, err: %+v", r.cfg.ReaderFilePath, err)
			return
		}
		logs.Infof("file reader %s reached end of file, lines=%d", r.cfg.ReaderFilePath, lines)
	}()
	return out, nil
}

func (r *FileReader) Close() error {
	if r.file == nil {
		return nil
	}
	return r.file.Close()
}

// FileWriter appends one JSON payload per line.
type FileWriter struct {
	toggler
	mu   sync.Mutex
	file *os.File
}

func (w *FileWriter) Initialize(cfg Config) error {
	if cfg.WriterFilePath == "" {
		return errors.New("writer file path is empty")
	}
	file, err := os.OpenFile(cfg.WriterFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Wrap(err, "open writer file").With("path", cfg.WriterFilePath)
	}
	w.fc, w.file = cfg.Failover, file
	return nil
}

func (w *FileWriter) Emit(_ context.Context, p schema.Payload) error {
	if w.file == nil {
		return exception.ErrNotInitialized
	}
	line, err := encodeOutbound(p)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	_, err = w.file.Write(line)
	return err
}

func (w *FileWriter) Close() error {
	if w.file == nil {
		return nil
	}
	return w.file.Close()
}

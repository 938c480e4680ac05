package transport

import (
	"context"
	"sync"

	"poscheck/internal/schema"
	"poscheck/pkg/exception"
)

// ChannelReader is an in-process source fed through Send.
type ChannelReader struct {
	stream
	cfg       Config
	texts     chan string
	done      chan struct{}
	closeOnce sync.Once
}

func NewChannelReader() *ChannelReader {
	return &ChannelReader{
		texts: make(chan string),
		done:  make(chan struct{}),
	}
}

func (r *ChannelReader) Initialize(cfg Config) error {
	r.cfg = cfg
	return nil
}

// Send offers external text to the stream. It blocks until the text is consumed.
func (r *ChannelReader) Send(ctx context.Context, text string) error {
	select {
	case r.texts <- text:
		return nil
	case <-r.done:
		return exception.ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *ChannelReader) ReadAll(ctx context.Context) (<-chan schema.Payload, error) {
	if err := r.claim(); err != nil {
		return nil, err
	}
	out := make(chan schema.Payload)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.done:
				return
			case text := <-r.texts:
				p, ok := parseInbound(r.cfg, text)
				if !ok {
					continue
				}
				if !deliver(ctx, out, p) {
					return
				}
			}
		}
	}()
	return out, nil
}

func (r *ChannelReader) Close() error {
	r.closeOnce.Do(func() { close(r.done) })
	return nil
}

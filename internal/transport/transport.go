// Package transport binds the pipelines to external message sources and sinks.
package transport

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/logs"

	"poscheck/internal/failover"
	"poscheck/internal/schema"
	"poscheck/pkg/exception"
)

// Reader produces inbound payloads.
type Reader interface {
	Initialize(cfg Config) error
	// ReadAll starts the single consumption stream. A second call fails with ErrAlreadyConsumed.
	// Sends block until the receiver takes the payload, so a slow pipeline pauses the source.
	ReadAll(ctx context.Context) (<-chan schema.Payload, error)
	Close() error
}

// Writer emits outbound payloads.
type Writer interface {
	Initialize(cfg Config) error
	Emit(ctx context.Context, p schema.Payload) error
	// TogglePrimary flips the process failover role and returns the new value.
	TogglePrimary() bool
	Close() error
}

// Config carries the settings of every built-in reader and writer.
type Config struct {
	ReaderFilePath string
	WriterFilePath string
	RabbitMQ       RabbitMQConfig
	Kafka          KafkaConfig

	Failover *failover.Controller
	// OnMalformed is called for inbound text that is not of the form "type=value".
	OnMalformed func(text string, err error)
}

type RabbitMQConfig struct {
	URL           string
	Exchange      string
	RequestTopic  string
	ResponseTopic string
	Queue         string
}

type KafkaConfig struct {
	Brokers       []string
	GroupID       string
	RequestTopic  string
	ResponseTopic string
}

// ReaderFactory creates an uninitialized reader.
type ReaderFactory func() Reader

// WriterFactory creates an uninitialized writer.
type WriterFactory func() Writer

// Registry resolves configured class names to reader and writer factories.
type Registry struct {
	mu      sync.RWMutex
	readers map[string]ReaderFactory
	writers map[string]WriterFactory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		readers: make(map[string]ReaderFactory),
		writers: make(map[string]WriterFactory),
	}
}

// DefaultRegistry returns a registry with every built-in reader and writer.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.RegisterReader("file", func() Reader { return &FileReader{} })
	r.RegisterReader("channel", func() Reader { return NewChannelReader() })
	r.RegisterReader("rabbitmq", func() Reader { return &RabbitMQReader{} })
	r.RegisterReader("kafka", func() Reader { return &KafkaReader{} })
	r.RegisterWriter("log", func() Writer { return &LogWriter{} })
	r.RegisterWriter("file", func() Writer { return &FileWriter{} })
	r.RegisterWriter("memory", func() Writer { return &MemoryWriter{} })
	r.RegisterWriter("rabbitmq", func() Writer { return &RabbitMQWriter{} })
	r.RegisterWriter("kafka", func() Writer { return &KafkaWriter{} })
	return r
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (r *Registry) RegisterReader(name string, f ReaderFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readers[normalize(name)] = f
}

func (r *Registry) RegisterWriter(name string, f WriterFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writers[normalize(name)] = f
}

// NewReader creates the reader registered under name.
func (r *Registry) NewReader(name string) (Reader, error) {
	r.mu.RLock()
	f, ok := r.readers[normalize(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, exception.ErrUnknownReader
	}
	return f(), nil
}

// NewWriter creates the writer registered under name.
func (r *Registry) NewWriter(name string) (Writer, error) {
	r.mu.RLock()
	f, ok := r.writers[normalize(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, exception.ErrUnknownWriter
	}
	return f(), nil
}

// Readers lists registered reader names.
func (r *Registry) Readers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.readers))
	for name := range r.readers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Writers lists registered writer names.
func (r *Registry) Writers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.writers))
	for name := range r.writers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// stream enforces the single consumption of a reader.
type stream struct {
	consumed atomic.Bool
}

func (s *stream) claim() error {
	if !s.consumed.CompareAndSwap(false, true) {
		return exception.ErrAlreadyConsumed
	}
	return nil
}

// toggler gives writers the failover toggle.
type toggler struct {
	fc *failover.Controller
}

func (t *toggler) TogglePrimary() bool {
	if t.fc == nil {
		return false
	}
	return t.fc.Toggle()
}

// parseInbound converts external text, reporting malformed text instead of returning it.
func parseInbound(cfg Config, text string) (schema.Payload, bool) {
	p, err := schema.ParseText(text)
	if err != nil {
		if cfg.OnMalformed != nil {
			cfg.OnMalformed(text, err)
		} else {
			logs.Errorf("drop malformed inbound message %q, err: %+v", text, err)
		}
		return schema.Payload{}, false
	}
	return p, true
}

// deliver sends p unless ctx is done first.
func deliver(ctx context.Context, out chan<- schema.Payload, p schema.Payload) bool {
	select {
	case out <- p:
		return true
	case <-ctx.Done():
		return false
	}
}

// encodeOutbound renders the payload wire shape.
func encodeOutbound(p schema.Payload) ([]byte, error) {
	return sonic.ConfigFastest.Marshal(p)
}

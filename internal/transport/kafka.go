package transport

import (
	"context"
	"io"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"poscheck/internal/schema"
	"poscheck/pkg/exception"
)

const (
	defaultKafkaGroup    = "poscheck"
	defaultKafkaRequest  = "poscheck-request"
	defaultKafkaResponse = "poscheck-response"
	kafkaRetryBackoff    = 500 * time.Millisecond
)

func (c KafkaConfig) withDefaults() KafkaConfig {
	if c.GroupID == "" {
		c.GroupID = defaultKafkaGroup
	}
	if c.RequestTopic == "" {
		c.RequestTopic = defaultKafkaRequest
	}
	if c.ResponseTopic == "" {
		c.ResponseTopic = defaultKafkaResponse
	}
	return c
}

// KafkaReader consumes "type=value" message values from the request topic.
type KafkaReader struct {
	stream
	cfg    Config
	reader *kafka.Reader
}

func (r *KafkaReader) Initialize(cfg Config) error {
	kc := cfg.Kafka.withDefaults()
	if len(kc.Brokers) == 0 {
		return errors.New("kafka brokers are empty")
	}
	cfg.Kafka = kc
	r.cfg = cfg
	r.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:     kc.Brokers,
		Topic:       kc.RequestTopic,
		GroupID:     kc.GroupID,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.LastOffset,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logs.Errorf("kafka reader: "+msg, args...)
		}),
	})
	return nil
}

func (r *KafkaReader) ReadAll(ctx context.Context) (<-chan schema.Payload, error) {
	if r.reader == nil {
		return nil, exception.ErrNotInitialized
	}
	if err := r.claim(); err != nil {
		return nil, err
	}

	out := make(chan schema.Payload)
	go func() {
		defer close(out)
		for {
			msg, err := r.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil || err == io.EOF {
					return
				}
				logs.Errorf("kafka read failed, topic=%s, err: %+v", r.cfg.Kafka.RequestTopic, err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(kafkaRetryBackoff):
				}
				continue
			}
			p, ok := parseInbound(r.cfg, string(msg.Value))
			if !ok {
				continue
			}
			if !deliver(ctx, out, p) {
				return
			}
		}
	}()
	return out, nil
}

func (r *KafkaReader) Close() error {
	if r.reader == nil {
		return nil
	}
	return r.reader.Close()
}

// KafkaWriter produces JSON payloads keyed by uid to the response topic.
type KafkaWriter struct {
	toggler
	writer *kafka.Writer
}

func (w *KafkaWriter) Initialize(cfg Config) error {
	kc := cfg.Kafka.withDefaults()
	if len(kc.Brokers) == 0 {
		return errors.New("kafka brokers are empty")
	}
	w.fc = cfg.Failover
	w.writer = &kafka.Writer{
		Addr:         kafka.TCP(kc.Brokers...),
		Topic:        kc.ResponseTopic,
		Balancer:     &kafka.CRC32Balancer{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
	}
	return nil
}

func (w *KafkaWriter) Emit(ctx context.Context, p schema.Payload) error {
	if w.writer == nil {
		return exception.ErrNotInitialized
	}
	value, err := encodeOutbound(p)
	if err != nil {
		return err
	}
	err = w.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(p.UID),
		Value: value,
		Time:  time.Unix(0, p.CreatedTime),
	})
	if err != nil {
		return errors.Wrap(err, "write kafka").With("uid", p.UID)
	}
	return nil
}

func (w *KafkaWriter) Close() error {
	if w.writer == nil {
		return nil
	}
	return w.writer.Close()
}

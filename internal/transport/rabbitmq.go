package transport

import (
	"context"
	"strings"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"poscheck/internal/schema"
	"poscheck/pkg/exception"
)

const (
	defaultRabbitExchange = "poscheck"
	defaultRabbitRequest  = "poscheck.request"
	defaultRabbitResponse = "poscheck.response"
	defaultRabbitQueue    = "poscheck.request"
	rabbitConsumerTag     = "poscheck-reader"
	rabbitPrefetch        = 64
)

func (c RabbitMQConfig) withDefaults() RabbitMQConfig {
	if c.Exchange == "" {
		c.Exchange = defaultRabbitExchange
	}
	if c.RequestTopic == "" {
		c.RequestTopic = defaultRabbitRequest
	}
	if c.ResponseTopic == "" {
		c.ResponseTopic = defaultRabbitResponse
	}
	if c.Queue == "" {
		c.Queue = defaultRabbitQueue
	}
	return c
}

// dialRabbitMQ opens a channel on a durable topic exchange.
func dialRabbitMQ(c RabbitMQConfig) (*amqp091.Connection, *amqp091.Channel, error) {
	url := strings.TrimSpace(c.URL)
	if url == "" {
		return nil, nil, errors.New("rabbitmq url is empty")
	}
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, nil, errors.Wrap(err, "dial rabbitmq")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, errors.Wrap(err, "open rabbitmq channel")
	}
	if err := ch.ExchangeDeclare(c.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, errors.Wrap(err, "declare exchange").With("exchange", c.Exchange)
	}
	return conn, ch, nil
}

// RabbitMQReader consumes "type=value" messages from a queue bound to the request topic.
type RabbitMQReader struct {
	stream
	cfg  Config
	conn *amqp091.Connection
	ch   *amqp091.Channel
}

func (r *RabbitMQReader) Initialize(cfg Config) error {
	cfg.RabbitMQ = cfg.RabbitMQ.withDefaults()
	conn, ch, err := dialRabbitMQ(cfg.RabbitMQ)
	if err != nil {
		return err
	}
	rc := cfg.RabbitMQ
	if err := ch.Qos(rabbitPrefetch, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return errors.Wrap(err, "set prefetch")
	}
	if _, err := ch.QueueDeclare(rc.Queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return errors.Wrap(err, "declare queue").With("queue", rc.Queue)
	}
	if err := ch.QueueBind(rc.Queue, rc.RequestTopic, rc.Exchange, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return errors.Wrap(err, "bind queue").With("queue", rc.Queue).With("key", rc.RequestTopic)
	}
	r.cfg, r.conn, r.ch = cfg, conn, ch
	return nil
}

func (r *RabbitMQReader) ReadAll(ctx context.Context) (<-chan schema.Payload, error) {
	if r.ch == nil {
		return nil, exception.ErrNotInitialized
	}
	if err := r.claim(); err != nil {
		return nil, err
	}
	deliveries, err := r.ch.Consume(r.cfg.RabbitMQ.Queue, rabbitConsumerTag, false, false, false, false, nil)
	if err != nil {
		return nil, errors.Wrap(err, "consume queue").With("queue", r.cfg.RabbitMQ.Queue)
	}

	out := make(chan schema.Payload)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					logs.Infof("rabbitmq reader %s delivery channel closed", r.cfg.RabbitMQ.Queue)
					return
				}
				p, valid := parseInbound(r.cfg, string(d.Body))
				if valid && !deliver(ctx, out, p) {
					_ = d.Nack(false, true)
					return
				}
				if err := d.Ack(false); err != nil {
					logs.Errorf("rabbitmq ack failed, tag=%d, err: %+v", d.DeliveryTag, err)
				}
			}
		}
	}()
	return out, nil
}

func (r *RabbitMQReader) Close() error {
	return closeRabbitMQ(r.conn, r.ch)
}

// RabbitMQWriter publishes JSON payloads to the response topic.
type RabbitMQWriter struct {
	toggler
	cfg  RabbitMQConfig
	conn *amqp091.Connection
	ch   *amqp091.Channel
}

func (w *RabbitMQWriter) Initialize(cfg Config) error {
	rc := cfg.RabbitMQ.withDefaults()
	conn, ch, err := dialRabbitMQ(rc)
	if err != nil {
		return err
	}
	w.fc, w.cfg, w.conn, w.ch = cfg.Failover, rc, conn, ch
	return nil
}

func (w *RabbitMQWriter) Emit(ctx context.Context, p schema.Payload) error {
	if w.ch == nil {
		return exception.ErrNotInitialized
	}
	body, err := encodeOutbound(p)
	if err != nil {
		return err
	}
	err = w.ch.PublishWithContext(ctx, w.cfg.Exchange, w.cfg.ResponseTopic, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    p.UID,
		Type:         p.PayloadType,
		Timestamp:    time.Unix(0, p.CreatedTime),
		Body:         body,
	})
	if err != nil {
		return errors.Wrap(err, "publish rabbitmq").With("uid", p.UID)
	}
	return nil
}

func (w *RabbitMQWriter) Close() error {
	return closeRabbitMQ(w.conn, w.ch)
}

func closeRabbitMQ(conn *amqp091.Connection, ch *amqp091.Channel) error {
	if ch != nil {
		_ = ch.Close()
	}
	if conn != nil && !conn.IsClosed() {
		return conn.Close()
	}
	return nil
}

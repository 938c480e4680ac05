package replication

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"poscheck/internal/schema"
)

const defaultStream = "poscheck:inbound"

// RedisSink appends events to a redis stream. Writes are pipelined and sent on Commit.
type RedisSink struct {
	client *redis.Client
	stream string
	pipe   redis.Pipeliner
}

// NewRedisSink connects to addr and verifies the server is reachable.
func NewRedisSink(ctx context.Context, addr, stream string) (*RedisSink, error) {
	if stream == "" {
		stream = defaultStream
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "ping redis").With("addr", addr)
	}
	logs.Infof("replication redis stream %s on %s", stream, addr)
	return &RedisSink{
		client: client,
		stream: stream,
		pipe:   client.Pipeline(),
	}, nil
}

func (s *RedisSink) Write(ctx context.Context, ev *schema.Event) error {
	s.pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: streamValues(ev),
	})
	return nil
}

func (s *RedisSink) Commit(ctx context.Context) error {
	if s.pipe.Len() == 0 {
		return nil
	}
	_, err := s.pipe.Exec(ctx)
	return err
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}

func streamValues(ev *schema.Event) map[string]any {
	return map[string]any{
		"seq":         strconv.FormatUint(ev.Seq, 10),
		"payloadType": ev.PayloadType,
		"payload":     ev.Payload.Payload,
		"uid":         ev.UID,
		"createdTime": strconv.FormatInt(ev.CreatedTime, 10),
	}
}

package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisSink publishes events as JSON on a per-principal channel
// ("<prefix>:<principal_id>") for realtime fan-out.
type RedisSink struct {
	rdb    redis.Cmdable
	prefix string
}

func NewRedisSink(rdb redis.Cmdable, prefix string) *RedisSink {
	if prefix == "" {
		prefix = "notifications"
	}
	return &RedisSink{rdb: rdb, prefix: prefix}
}

func (s *RedisSink) Channel(e Event) string {
	return s.prefix + ":" + e.PrincipalID.String()
}

func (s *RedisSink) Send(ctx context.Context, e Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := s.rdb.Publish(ctx, s.Channel(e), b).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

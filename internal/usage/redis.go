package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultStream = "feature_usage"

var ErrRedisNotReady = errors.New("redis is not ready")

// RedisStreamSink appends usage events to a capped Redis stream so other
// services can consume them.
type RedisStreamSink struct {
	client redis.Cmdable
	stream string
	maxLen int64
}

func NewRedisStreamSink(client redis.Cmdable, stream string, maxLen int64) *RedisStreamSink {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisStreamSink{client: client, stream: stream, maxLen: maxLen}
}

func (s *RedisStreamSink) RecordUsage(ctx context.Context, event Event) error {
	values := map[string]any{
		"id":          event.ID,
		"feature":     event.FeatureName,
		"user_id":     event.UserID,
		"environment": event.Environment,
		"timestamp":   event.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if len(event.AdditionalData) > 0 {
		payload, err := json.Marshal(event.AdditionalData)
		if err != nil {
			return fmt.Errorf("marshal usage data: %w", err)
		}
		values["data"] = string(payload)
	}

	err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Values: values,
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", s.stream, err)
	}
	return nil
}

// ConnectRedis parses url and pings the server, retrying until attempts run
// out or ctx ends.
func ConnectRedis(ctx context.Context, url string, attempts int, interval time.Duration) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := range attempts {
		client := redis.NewClient(opts)
		if lastErr = client.Ping(ctx).Err(); lastErr == nil {
			return client, nil
		}
		_ = client.Close()

		if attempt == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrRedisNotReady, ctx.Err())
		case <-time.After(interval):
		}
	}

	return nil, errors.Join(ErrRedisNotReady, lastErr)
}

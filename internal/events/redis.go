package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ayo6706/transfer-orchestrator/internal/domain"
	"github.com/ayo6706/transfer-orchestrator/internal/observability"
	"github.com/redis/go-redis/v9"
)

// RedisStreamPublisher appends settlement events to a Redis stream named after the topic.
type RedisStreamPublisher struct {
	client redis.Cmdable
	maxLen int64
}

// NewRedisStreamPublisher trims the stream to roughly maxLen entries when maxLen > 0.
func NewRedisStreamPublisher(client redis.Cmdable, maxLen int64) *RedisStreamPublisher {
	return &RedisStreamPublisher{client: client, maxLen: maxLen}
}

func (p *RedisStreamPublisher) Publish(ctx context.Context, topic, key string, event domain.TransferEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal transfer event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: topic,
		Values: map[string]any{
			"key":        key,
			"message_id": MessageID(event),
			"status":     event.Status,
			"payload":    string(payload),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}

	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		observability.IncrementEventPublish("redis", "failed")
		return fmt.Errorf("xadd %s: %w", topic, err)
	}
	observability.IncrementEventPublish("redis", "ok")
	return nil
}

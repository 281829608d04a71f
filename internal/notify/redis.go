package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"studysync/internal/events"
	"studysync/internal/models"

	"github.com/redis/go-redis/v9"
)

// RedisNotifier publishes summaries as JSON on a Redis pub/sub channel.
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

func NewRedisNotifier(client *redis.Client, channel string) *RedisNotifier {
	return &RedisNotifier{client: client, channel: channel}
}

func (n *RedisNotifier) Summarize(ctx context.Context, s models.SyncSummary) error {
	raw, err := json.Marshal(events.SyncSummaryPayload{Synced: s.Synced, Failed: s.Failed, At: s.At})
	if err != nil {
		return err
	}
	if err := n.client.Publish(ctx, n.channel, raw).Err(); err != nil {
		return fmt.Errorf("publish summary to %s: %w", n.channel, err)
	}
	return nil
}

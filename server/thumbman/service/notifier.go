package service

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"assethub/server/thumbman/domain"
)

const assetEventsChannel = "asset:events"

// RedisNotifier publishes derivative outcomes for the assetman websocket
// feed. Delivery is fire-and-forget.
type RedisNotifier struct {
	client *redis.Client
}

func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client}
}

func (n *RedisNotifier) Publish(ctx context.Context, outcome domain.IngressOutcome) error {
	payload, err := json.Marshal(outcome)
	if err != nil {
		return err
	}
	return n.client.Publish(ctx, assetEventsChannel, payload).Err()
}

package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"relaychat-backend/pkg/resilience"
)

// Publisher fans events out over Redis Pub/Sub. Subscribing hub
// instances relay them to their local sockets, so an event published
// here reaches every connected client across all service replicas.
// Publishes go through a circuit breaker so a dead broker fails fast
// instead of stalling every mutation with connection timeouts.
type Publisher struct {
	client  *redis.Client
	breaker *resilience.PublishResilience
}

// NewPublisher creates a new publisher
func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{
		client:  client,
		breaker: resilience.NewPublishResilience(),
	}
}

// Publish marshals the payload and publishes it on the given channel
func (p *Publisher) Publish(ctx context.Context, channel string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	return p.breaker.Execute("publish", func() error {
		if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
			return fmt.Errorf("failed to publish event: %w", err)
		}
		return nil
	})
}

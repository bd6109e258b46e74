package redis

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// Subscriber bridges Redis Pub/Sub channels to raw payload streams.
// Each Subscribe call owns one PubSub connection; the returned cancel
// closes it and ends the stream.
type Subscriber struct {
	client *redis.Client
}

// NewSubscriber creates a new subscriber
func NewSubscriber(client *redis.Client) *Subscriber {
	return &Subscriber{client: client}
}

// Subscribe starts consuming a channel. The returned channel closes
// when the subscription is cancelled or the connection drops.
func (s *Subscriber) Subscribe(ctx context.Context, channel string) (<-chan []byte, func()) {
	pubsub := s.client.Subscribe(ctx, channel)
	out := make(chan []byte, 64)

	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			out <- []byte(msg.Payload)
		}
	}()

	cancel := func() {
		pubsub.Close()
	}

	return out, cancel
}

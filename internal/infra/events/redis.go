package events

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Publisher sends progress events over Redis pub/sub
type Publisher struct {
	client *redis.Client
}

// NewPublisher wraps an existing client
func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// Connect opens a client for addr and pings it
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

func (p *Publisher) Publish(ctx context.Context, channel string, payload []byte) error {
	return p.client.Publish(ctx, channel, payload).Err()
}

// Ping is used by the readiness check
func (p *Publisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

package pubsub

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	channelPrefix = "relay:room:"
	pingTimeout   = 5 * time.Second
)

// Channel returns the redis channel room events are mirrored to.
func Channel(room string) string {
	return channelPrefix + room
}

// RedisPublisher mirrors room events onto redis pub/sub channels.
type RedisPublisher struct {
	client *redis.Client
}

func New(addr, password string, db int) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}

	return NewFromClient(client), nil
}

func NewFromClient(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, room string, payload []byte) error {
	if err := p.client.Publish(ctx, Channel(room), payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", Channel(room), err)
	}
	return nil
}

// Subscribe follows the mirrored events of the given rooms.
func (p *RedisPublisher) Subscribe(ctx context.Context, rooms ...string) *redis.PubSub {
	channels := make([]string, len(rooms))
	for i, r := range rooms {
		channels[i] = Channel(r)
	}
	return p.client.Subscribe(ctx, channels...)
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

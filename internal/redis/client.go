package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	*redis.Client
}

func NewClient(ctx context.Context, redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Client{client}, nil
}

func (c *Client) Close() error {
	return c.Client.Close()
}

// SessionKey is the hash holding one browser session's fields.
func SessionKey(keyHash string) string {
	return fmt.Sprintf("session:%s", keyHash)
}

// CallbackRateKey is the sliding window of hub callbacks for one connection.
func CallbackRateKey(connectionID string) string {
	return fmt.Sprintf("ratelimit:callback:%s", connectionID)
}

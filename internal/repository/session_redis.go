package repository

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/streamrelay/relay-server-go/internal/redis"
)

type redisSessionRepo struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSessionRepository keeps each session as one hash whose key TTL is the session expiry.
// Redis evicts expired sessions itself, so no cleanup job is needed.
func NewRedisSessionRepository(client *redis.Client, ttl time.Duration) SessionRepository {
	return &redisSessionRepo{client: client, ttl: ttl}
}

func (r *redisSessionRepo) Get(ctx context.Context, keyHash, field string) (string, bool, error) {
	value, err := r.client.HGet(ctx, redis.SessionKey(keyHash), field).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (r *redisSessionRepo) Set(ctx context.Context, keyHash, field, value string) error {
	key := redis.SessionKey(keyHash)
	_, err := r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, key, field, value)
		pipe.Expire(ctx, key, r.ttl)
		return nil
	})
	return err
}

func (r *redisSessionRepo) TakeField(ctx context.Context, keyHash, field string) (string, bool, error) {
	key := redis.SessionKey(keyHash)
	var get *goredis.StringCmd
	_, err := r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		get = pipe.HGet(ctx, key, field)
		pipe.HDel(ctx, key, field)
		return nil
	})
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return get.Val(), true, nil
}

func (r *redisSessionRepo) Delete(ctx context.Context, keyHash string) error {
	return r.client.Del(ctx, redis.SessionKey(keyHash)).Err()
}

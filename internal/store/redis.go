package store

import (
	"context"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
)

// Redis stores values in a redis server, optionally under a key prefix
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis connects to the server described by conf
func NewRedis(ctx context.Context, conf RedisConfig) (*Redis, error) {
	if conf.Addr == "" {
		return nil, errors.New("'redis.addr' is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     conf.Addr,
		Password: conf.Password,
		DB:       conf.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrapf(err, "failed to connect to redis at %s", conf.Addr)
	}
	return &Redis{client: client, prefix: conf.Prefix}, nil
}

func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, r.prefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", errors.Wrapf(err, "failed to get %s", key)
	}
	return v, nil
}

func (r *Redis) Set(ctx context.Context, key, value string) error {
	return errors.Wrapf(r.client.Set(ctx, r.prefix+key, value, 0).Err(), "failed to set %s", key)
}

func (r *Redis) Remove(ctx context.Context, key string) error {
	return errors.Wrapf(r.client.Del(ctx, r.prefix+key).Err(), "failed to remove %s", key)
}

func (r *Redis) Close() error {
	return r.client.Close()
}

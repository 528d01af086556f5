package services

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
)

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(address string) (Store, error) {
	client := redis.NewClient(&redis.Options{Addr: address})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "connecting to redis")
	}
	return &RedisStore{client: client}, nil
}

func (r *RedisStore) Set(key string, value string) error {
	return r.client.Set(context.Background(), key, value, 0).Err()
}

func (r *RedisStore) SetWithTTL(key string, value string, ttl uint64) error {
	return r.client.Set(context.Background(), key, value, time.Duration(ttl)*time.Second).Err()
}

func (r *RedisStore) Get(key string) (string, error) {
	str, err := r.client.Get(context.Background(), key).Result()
	if err == redis.Nil {
		return "", errors.Errorf("key missing: %s", key)
	}
	return str, err
}

func (r *RedisStore) GetRecursive(prefix string) ([]Node, error) {
	ctx := context.Background()
	keys, err := r.client.Keys(ctx, prefix+"*").Result()
	if err != nil {
		return nil, err
	}
	nodes := make([]Node, 0, len(keys))
	for _, key := range keys {
		value, err := r.client.Get(ctx, key).Result()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, Node{Key: key, Value: value})
	}
	return nodes, nil
}

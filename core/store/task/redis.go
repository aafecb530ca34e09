package taskstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisKV struct {
	rdb redis.Cmdable
	ttl time.Duration
}

// NewRedisKV keeps entries for ttl; zero keeps them forever.
func NewRedisKV(rdb redis.Cmdable, ttl time.Duration) *redisKV {
	return &redisKV{rdb: rdb, ttl: ttl}
}

func (kv *redisKV) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := kv.rdb.Get(ctx, redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (kv *redisKV) Put(ctx context.Context, key string, value []byte) error {
	return kv.rdb.Set(ctx, redisKey(key), value, kv.ttl).Err()
}

func redisKey(key string) string {
	return "snapchef:" + key
}

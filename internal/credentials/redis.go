package credentials

import (
	"context"

	"github.com/snapncook/snapclient/internal/infrastructure/redis"
)

// RedisKV shares one session between processes through Redis.
type RedisKV struct {
	redisService *redis.Service
}

func NewRedisKV(redisService *redis.Service) *RedisKV {
	return &RedisKV{redisService: redisService}
}

func (r *RedisKV) MGet(ctx context.Context, keys ...string) (map[string]string, error) {
	return r.redisService.MGet(ctx, keys...)
}

func (r *RedisKV) SetMany(ctx context.Context, values map[string]string) error {
	return r.redisService.SetMany(ctx, values, 0)
}

func (r *RedisKV) Delete(ctx context.Context, keys ...string) error {
	return r.redisService.Delete(ctx, keys...)
}

func (r *RedisKV) Close() error {
	return r.redisService.Close()
}

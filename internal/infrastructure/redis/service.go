package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/snapncook/snapclient/internal/config"
)

type Service struct {
	client *redis.Client
	prefix string
}

// NewService connects to Redis. It returns nil when no URL is configured or
// the server does not answer a ping.
func NewService(ctx context.Context, cfg config.RedisConfig) *Service {
	if cfg.URL == "" {
		log.Warn().Msg("Redis URL not configured - service will be unavailable")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.URL,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Error().
			Err(err).
			Str("addr", cfg.URL).
			Msg("Failed to establish Redis connection")
		_ = client.Close()
		return nil
	}

	return NewServiceWithClient(client, cfg.Prefix)
}

// NewServiceWithClient wraps an existing client.
func NewServiceWithClient(client *redis.Client, prefix string) *Service {
	return &Service{client: client, prefix: prefix}
}

func (s *Service) key(k string) string {
	return s.prefix + k
}

// MGet fetches several keys in one round trip. Missing keys are absent from
// the result.
func (s *Service) MGet(ctx context.Context, keys ...string) (map[string]string, error) {
	if len(keys) == 0 {
		return map[string]string{}, nil
	}

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}

	vals, err := s.client.MGet(ctx, full...).Result()
	if err != nil {
		log.Error().
			Err(err).
			Strs("keys", keys).
			Msg("Critical Redis MGET operation failed")
		return nil, err
	}

	out := make(map[string]string, len(keys))
	for i, v := range vals {
		if str, ok := v.(string); ok {
			out[keys[i]] = str
		}
	}
	return out, nil
}

// SetMany writes every pair inside one MULTI/EXEC transaction.
func (s *Service) SetMany(ctx context.Context, values map[string]string, expiration time.Duration) error {
	if len(values) == 0 {
		return nil
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for k, v := range values {
			pipe.Set(ctx, s.key(k), v, expiration)
		}
		return nil
	})
	if err != nil {
		log.Error().
			Err(err).
			Int("keys", len(values)).
			Dur("expiration", expiration).
			Msg("Critical Redis transactional SET failed")
		return err
	}
	return nil
}

// Delete removes every key with a single DEL.
func (s *Service) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}
	return s.client.Del(ctx, full...).Err()
}

// Close closes the Redis connection
func (s *Service) Close() error {
	return s.client.Close()
}

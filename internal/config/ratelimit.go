package config

import (
	"time"

	"github.com/snapncook/snapclient/pkg/logger"
)

type RateLimitConfig struct {
	Enabled bool
	MaxHits int
	Window  time.Duration
}

// GetRateLimitConfig returns the limit for one bridge endpoint group.
// Limits are on unless RATELIMIT_ENABLED is "false".
func GetRateLimitConfig(key string) RateLimitConfig {
	enabled := GetEnvOrDefault("RATELIMIT_ENABLED", "true") == "true"

	configs := map[string]RateLimitConfig{
		"session_login": {
			Enabled: enabled,
			MaxHits: GetIntOrDefault("RATELIMIT_SESSION_LOGIN", 10), // 10 attempts per minute
			Window:  time.Minute,
		},
		"oauth_callback": {
			Enabled: enabled,
			MaxHits: GetIntOrDefault("RATELIMIT_OAUTH_CALLBACK", 30),
			Window:  time.Minute,
		},
		"recommend": {
			Enabled: enabled,
			MaxHits: GetIntOrDefault("RATELIMIT_RECOMMEND", 120),
			Window:  time.Minute,
		},
	}

	if config, exists := configs[key]; exists {
		return config
	}

	logger.Warn(logger.CONFIG, "No rate limit config found for key: %s", key)
	return RateLimitConfig{Enabled: false}
}

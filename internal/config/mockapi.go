package config

import (
	"time"

	"github.com/snapncook/snapclient/pkg/logger"
)

// MockAPIConfig drives the local reference backend (cmd/mockapi).
type MockAPIConfig struct {
	Addr          string
	SigningSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	LoginWindow   time.Duration
	LoginMaxHits  int
}

func GetMockAPIConfig() MockAPIConfig {
	logger.Debug(logger.CONFIG, "Loading mock API configuration from environment")

	secret := GetEnvOrDefault("MOCKAPI_SIGNING_SECRET", "")
	if secret == "" {
		logger.Warn(logger.CONFIG, "MOCKAPI_SIGNING_SECRET not set - using an insecure development secret")
		secret = "snapclient-dev-secret"
	}

	return MockAPIConfig{
		Addr:          GetEnvOrDefault("MOCKAPI_ADDR", "127.0.0.1:8000"),
		SigningSecret: secret,
		AccessTTL:     GetDurationOrDefault("MOCKAPI_ACCESS_TTL", 15*time.Minute),
		RefreshTTL:    GetDurationOrDefault("MOCKAPI_REFRESH_TTL", 14*24*time.Hour),
		LoginWindow:   GetDurationOrDefault("MOCKAPI_LOGIN_WINDOW", time.Minute),
		LoginMaxHits:  GetIntOrDefault("MOCKAPI_LOGIN_MAX_HITS", 10),
	}
}

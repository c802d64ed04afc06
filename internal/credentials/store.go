package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/snapncook/snapclient/internal/auth"
	"github.com/snapncook/snapclient/internal/config"
	"github.com/snapncook/snapclient/internal/infrastructure/redis"
	"github.com/snapncook/snapclient/pkg/logger"
)

const (
	KeyAccessToken     = "access_token"
	KeyRefreshToken    = "refresh_token"
	KeyIssuedAt        = "issued_at"
	KeyIsAuthenticated = "is_authenticated"
	KeyUser            = "user"
	KeyUsername        = "username"
)

// AuxKey names session-scoped auxiliary data that must not outlive the
// session.
type AuxKey string

const (
	AuxImageHistory   AuxKey = "image_history"
	AuxCurrentImage   AuxKey = "current_image"
	AuxSelectedFood   AuxKey = "selected_food"
	AuxSelectedFoodID AuxKey = "selected_food_id"
)

var auxKeys = []AuxKey{AuxImageHistory, AuxCurrentImage, AuxSelectedFood, AuxSelectedFoodID}

// AllKeys lists every key a Store may write.
func AllKeys() []string {
	keys := []string{KeyAccessToken, KeyRefreshToken, KeyIssuedAt, KeyIsAuthenticated, KeyUser, KeyUsername}
	for _, k := range auxKeys {
		keys = append(keys, string(k))
	}
	return keys
}

// Store owns the persisted credential pair, the cached profile and the
// auxiliary session data.
type Store struct {
	kv  KV
	now func() time.Time
}

func NewStore(kv KV) *Store {
	return &Store{kv: kv, now: time.Now}
}

// Open builds a Store on the backend selected by cfg. An unreachable Redis
// falls back to the file backend.
func Open(ctx context.Context, cfg *config.Config) (*Store, error) {
	switch cfg.Store.Backend {
	case config.StoreMemory:
		logger.Info(logger.STORE, "Using in-memory credential store")
		return NewStore(NewMemoryKV()), nil
	case config.StoreRedis:
		if svc := redis.NewService(ctx, cfg.Redis); svc != nil {
			logger.Info(logger.STORE, "Using Redis credential store")
			return NewStore(NewRedisKV(svc)), nil
		}
		logger.Warn(logger.STORE, "Redis unavailable - falling back to file credential store")
	}

	path, err := cfg.StorePath()
	if err != nil {
		return nil, err
	}
	kv, err := NewFileKV(path)
	if err != nil {
		return nil, err
	}
	logger.Info(logger.STORE, "Using file credential store at %s", path)
	return NewStore(kv), nil
}

func (s *Store) pairValues(pair auth.Credentials) map[string]string {
	issued := pair.IssuedAt
	if issued.IsZero() {
		issued = s.now()
	}
	// An empty refresh token is written as "" so a new pair always
	// replaces the previous one in full.
	return map[string]string{
		KeyAccessToken:     pair.AccessToken,
		KeyRefreshToken:    pair.RefreshToken,
		KeyIssuedAt:        issued.UTC().Format(time.RFC3339Nano),
		KeyIsAuthenticated: "true",
	}
}

func profileValues(user auth.User) (map[string]string, error) {
	data, err := json.Marshal(user)
	if err != nil {
		return nil, fmt.Errorf("failed to encode profile: %w", err)
	}
	return map[string]string{
		KeyUser:     string(data),
		KeyUsername: user.Username,
	}, nil
}

func (s *Store) Save(ctx context.Context, pair auth.Credentials) error {
	if err := s.kv.SetMany(ctx, s.pairValues(pair)); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}
	return nil
}

// SaveSession commits a pair and its profile in one write.
func (s *Store) SaveSession(ctx context.Context, pair auth.Credentials, user auth.User) error {
	values, err := profileValues(user)
	if err != nil {
		return err
	}
	for k, v := range s.pairValues(pair) {
		values[k] = v
	}
	if err := s.kv.SetMany(ctx, values); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Load returns the stored pair, or nil when none exists.
func (s *Store) Load(ctx context.Context) (*auth.Credentials, error) {
	values, err := s.kv.MGet(ctx, KeyAccessToken, KeyRefreshToken, KeyIssuedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}

	access := values[KeyAccessToken]
	if access == "" {
		return nil, nil
	}

	pair := &auth.Credentials{
		AccessToken:  access,
		RefreshToken: values[KeyRefreshToken],
	}
	if raw := values[KeyIssuedAt]; raw != "" {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			pair.IssuedAt = t
		}
	}
	return pair, nil
}

// Clear removes credentials, profile, flag and auxiliary data in one
// delete.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.kv.Delete(ctx, AllKeys()...); err != nil {
		return fmt.Errorf("failed to clear credentials: %w", err)
	}
	return nil
}

func (s *Store) SaveProfile(ctx context.Context, user auth.User) error {
	values, err := profileValues(user)
	if err != nil {
		return err
	}
	if err := s.kv.SetMany(ctx, values); err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

// LoadProfile returns the cached profile, or nil when none exists. An
// undecodable profile is treated as absent.
func (s *Store) LoadProfile(ctx context.Context) (*auth.User, error) {
	values, err := s.kv.MGet(ctx, KeyUser)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	raw, ok := values[KeyUser]
	if !ok || raw == "" {
		return nil, nil
	}

	var user auth.User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		logger.Warn(logger.STORE, "Cached profile is corrupt, ignoring: %v", err)
		return nil, nil
	}
	return &user, nil
}

func (s *Store) ClearProfile(ctx context.Context) error {
	if err := s.kv.Delete(ctx, KeyUser, KeyUsername); err != nil {
		return fmt.Errorf("failed to clear profile: %w", err)
	}
	return nil
}

func (s *Store) SaveAux(ctx context.Context, key AuxKey, value string) error {
	if err := s.kv.SetMany(ctx, map[string]string{string(key): value}); err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}
	return nil
}

// LoadAux returns ("", false, nil) when key is absent.
func (s *Store) LoadAux(ctx context.Context, key AuxKey) (string, bool, error) {
	values, err := s.kv.MGet(ctx, string(key))
	if err != nil {
		return "", false, fmt.Errorf("failed to load %s: %w", key, err)
	}
	v, ok := values[string(key)]
	return v, ok, nil
}

// Close releases the backend connection, if the backend holds one.
func (s *Store) Close() error {
	if c, ok := s.kv.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

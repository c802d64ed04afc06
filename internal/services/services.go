package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/snapncook/snapclient/internal/config"
	"github.com/snapncook/snapclient/internal/credentials"
	"github.com/snapncook/snapclient/internal/infrastructure/snapapi"
	"github.com/snapncook/snapclient/internal/metrics"
	"github.com/snapncook/snapclient/internal/services/gateway"
	"github.com/snapncook/snapclient/internal/services/recommend"
	"github.com/snapncook/snapclient/internal/services/refresh"
	"github.com/snapncook/snapclient/internal/services/session"
)

var (
	// Mutex for thread-safe initialization
	servicesMu sync.RWMutex
)

type Services struct {
	store            *credentials.Store
	apiService       *snapapi.Service
	metrics          *metrics.Metrics
	coordinator      *refresh.Coordinator
	gatewayService   *gateway.Service
	sessionService   *session.Service
	guard            *session.Guard
	recommendService *recommend.Service
}

// InitializeServices wires the client. reg may be nil to skip metric
// registration.
func InitializeServices(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*Services, error) {
	servicesMu.Lock()
	defer servicesMu.Unlock()

	log.Info().Msg("Initializing core services")

	store, err := credentials.Open(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to open credential store")
		return nil, fmt.Errorf("failed to open credential store: %w", err)
	}
	log.Info().Str("backend", cfg.Store.Backend).Msg("Initializing credential store")

	return NewServices(store, snapapi.NewService(cfg.API), cfg.Session, metrics.New(reg)), nil
}

// NewServices wires already-built infrastructure. Used by InitializeServices
// and by tests.
func NewServices(store *credentials.Store, api *snapapi.Service, cfg config.SessionConfig, m *metrics.Metrics) *Services {
	coordinator := refresh.NewCoordinator(store, api, cfg.RefreshTimeout, m)
	gatewayService := gateway.NewService(api, store, coordinator, m)
	log.Info().Str("base_url", api.BaseURL()).Msg("Initializing request gateway")

	sessionService := session.NewService(gatewayService, store, session.Options{
		LogoutTimeout: cfg.LogoutTimeout,
		LoginPath:     cfg.LoginPath,
		Metrics:       m,
	})
	coordinator.OnFailure(sessionService.HandleRefreshFailure)
	log.Info().Msg("Initializing session service")

	recommendService := recommend.NewService(gatewayService, sessionService, m)
	log.Info().Msg("Initializing recommendation service")

	log.Info().Msg("All services initialized successfully")

	return &Services{
		store:            store,
		apiService:       api,
		metrics:          m,
		coordinator:      coordinator,
		gatewayService:   gatewayService,
		sessionService:   sessionService,
		guard:            session.NewGuard(sessionService),
		recommendService: recommendService,
	}
}

func (s *Services) GetStore() *credentials.Store {
	return s.store
}

func (s *Services) GetSessionService() *session.Service {
	return s.sessionService
}

func (s *Services) GetGuard() *session.Guard {
	return s.guard
}

func (s *Services) GetRecommendService() *recommend.Service {
	return s.recommendService
}

func (s *Services) GetCoordinator() *refresh.Coordinator {
	return s.coordinator
}

// Close releases the credential store backend.
func (s *Services) Close() error {
	return s.store.Close()
}

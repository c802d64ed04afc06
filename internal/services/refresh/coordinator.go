// Package refresh serializes credential refresh exchanges so that any
// number of concurrent 401s produce a single call to /auth/refresh.
package refresh

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/snapncook/snapclient/internal/apierr"
	"github.com/snapncook/snapclient/internal/auth"
	"github.com/snapncook/snapclient/internal/credentials"
	"github.com/snapncook/snapclient/internal/infrastructure/snapapi"
	"github.com/snapncook/snapclient/internal/metrics"
	"github.com/snapncook/snapclient/pkg/httpext"
	"github.com/snapncook/snapclient/pkg/logger"
)

type State int32

const (
	StateIdle State = iota
	StateRefreshing
)

func (s State) String() string {
	if s == StateRefreshing {
		return "refreshing"
	}
	return "idle"
}

const (
	exchangeKey    = "refresh"
	DefaultTimeout = 10 * time.Second
)

// Transport performs the raw refresh call. It must not go through the
// gateway, which would recurse on a 401.
type Transport interface {
	MakeRequest(ctx context.Context, req snapapi.Request) (*snapapi.Response, error)
}

// FailureHook runs inside a failed exchange, after the store is cleared and
// before any waiter is released.
type FailureHook func(ctx context.Context, err error)

type Coordinator struct {
	store   *credentials.Store
	api     Transport
	timeout time.Duration
	metrics *metrics.Metrics
	now     func() time.Time

	group singleflight.Group
	state atomic.Int32

	mu    sync.RWMutex
	hooks []FailureHook
}

func NewCoordinator(store *credentials.Store, api Transport, timeout time.Duration, m *metrics.Metrics) *Coordinator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Coordinator{
		store:   store,
		api:     api,
		timeout: timeout,
		metrics: m,
		now:     time.Now,
	}
}

// OnFailure registers a hook invoked once per failed exchange.
func (c *Coordinator) OnFailure(hook FailureHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, hook)
}

func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// Refresh returns a credential newer than staleAccess. Concurrent callers
// share one exchange and receive the same outcome. A caller whose ctx ends
// while waiting gets a transport error; the exchange itself keeps running.
func (c *Coordinator) Refresh(ctx context.Context, staleAccess string) (auth.Credentials, error) {
	current, err := c.store.Load(ctx)
	if err != nil {
		return auth.Credentials{}, apierr.RefreshRejected(0, "", err)
	}
	if current == nil {
		// Already torn down by a failed exchange or a logout.
		return auth.Credentials{}, apierr.RefreshRejected(0, "no stored credentials", nil)
	}
	if current.AccessToken != staleAccess {
		logger.Debug(logger.REFRESH, "Credential already rotated, skipping exchange")
		c.metrics.RefreshJoined()
		return *current, nil
	}

	ch := c.group.DoChan(exchangeKey, func() (interface{}, error) {
		return c.exchange(ctx, staleAccess)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return auth.Credentials{}, res.Err
		}
		return res.Val.(auth.Credentials), nil
	case <-ctx.Done():
		return auth.Credentials{}, apierr.Transport(ctx.Err())
	}
}

// exchange re-reads the store inside the flight: a caller that loaded the
// stale token just before an earlier flight finished must not spend the
// rotated refresh token a second time.
func (c *Coordinator) exchange(parent context.Context, staleAccess string) (auth.Credentials, error) {
	c.state.Store(int32(StateRefreshing))
	defer c.state.Store(int32(StateIdle))

	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), c.timeout)
	defer cancel()

	pair, err := c.store.Load(ctx)
	if err != nil {
		return auth.Credentials{}, c.fail(ctx, "store_error", apierr.RefreshRejected(0, "", err))
	}
	if pair == nil {
		// Cleared since Refresh loaded it.
		return auth.Credentials{}, apierr.RefreshRejected(0, "no stored credentials", nil)
	}
	if pair.AccessToken != staleAccess {
		logger.Debug(logger.REFRESH, "Credential rotated by an earlier exchange, skipping")
		c.metrics.RefreshJoined()
		return *pair, nil
	}
	if pair.RefreshToken == "" {
		return auth.Credentials{}, c.fail(ctx, "missing_refresh_token", apierr.RefreshRejected(0, "no refresh token", nil))
	}

	logger.Info(logger.REFRESH, "Refreshing access token %s", auth.Redact(pair.AccessToken))

	resp, err := c.api.MakeRequest(ctx, snapapi.Request{
		Method: http.MethodPost,
		Path:   snapapi.AuthRefresh,
		Body:   auth.RefreshRequest{RefreshToken: pair.RefreshToken},
	})
	if err != nil {
		return auth.Credentials{}, c.fail(ctx, "transport", apierr.RefreshRejected(0, "", apierr.Transport(err)))
	}
	if !resp.OK() {
		return auth.Credentials{}, c.fail(ctx, "rejected", apierr.RefreshRejected(resp.StatusCode, httpext.DecodeDetail(resp.Body), nil))
	}

	var tokens auth.TokenResponse
	if err := resp.Decode(&tokens); err != nil || tokens.AccessToken == "" {
		return auth.Credentials{}, c.fail(ctx, "malformed", apierr.RefreshRejected(resp.StatusCode, "refresh response has no access token", err))
	}

	next := pair.Rotate(tokens, c.now())
	if err := c.store.Save(ctx, next); err != nil {
		return auth.Credentials{}, c.fail(ctx, "store_error", apierr.RefreshRejected(0, "", err))
	}

	c.metrics.RefreshExchange("success")
	logger.Info(logger.REFRESH, "Access token refreshed, refresh token rotated: %t", tokens.RefreshToken != "")
	return next, nil
}

func (c *Coordinator) fail(ctx context.Context, outcome string, err error) error {
	logger.Warn(logger.REFRESH, "Refresh failed (%s): %v", outcome, err)
	c.metrics.RefreshExchange(outcome)

	if clearErr := c.store.Clear(ctx); clearErr != nil {
		logger.Error(logger.REFRESH, "Failed to clear credentials after refresh failure: %v", clearErr)
	}

	c.mu.RLock()
	hooks := append([]FailureHook(nil), c.hooks...)
	c.mu.RUnlock()
	for _, hook := range hooks {
		hook(ctx, err)
	}
	return err
}

// Package session owns the client's single authoritative session state and
// every operation that moves it between Unknown, Authenticated and
// Anonymous.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/snapncook/snapclient/internal/apierr"
	"github.com/snapncook/snapclient/internal/auth"
	"github.com/snapncook/snapclient/internal/credentials"
	"github.com/snapncook/snapclient/internal/infrastructure/snapapi"
	"github.com/snapncook/snapclient/internal/metrics"
	"github.com/snapncook/snapclient/internal/services/gateway"
	"github.com/snapncook/snapclient/pkg/logger"
)

var (
	ErrNotAuthenticated  = errors.New("not authenticated")
	ErrUnknownProvider   = errors.New("unsupported oauth provider")
	ErrMissingCode       = errors.New("missing oauth authorization code")
	ErrPasswordMismatch  = errors.New("new password and confirmation do not match")
	ErrNoAuthorizeURL    = errors.New("oauth login response has no authorization url")
	ErrMissingCredential = errors.New("login response has no access token")
)

const (
	DefaultLogoutTimeout = 3 * time.Second
	DefaultLoginPath     = "/login"
)

// API is the part of the gateway the session needs.
type API interface {
	Send(ctx context.Context, req *gateway.Request) (*gateway.Response, error)
	Do(ctx context.Context, req *gateway.Request, out interface{}) error
}

type Options struct {
	LogoutTimeout time.Duration
	LoginPath     string
	Metrics       *metrics.Metrics
}

type Service struct {
	api           API
	store         *credentials.Store
	metrics       *metrics.Metrics
	logoutTimeout time.Duration
	loginPath     string
	now           func() time.Time

	// mu is never held across a gateway call, since a refresh failure
	// re-enters through HandleRefreshFailure.
	mu       sync.Mutex
	snap     Snapshot
	epoch    uint64
	resolved chan struct{}
	subs     subscribers
}

func NewService(api API, store *credentials.Store, opts Options) *Service {
	if opts.LogoutTimeout <= 0 {
		opts.LogoutTimeout = DefaultLogoutTimeout
	}
	if opts.LoginPath == "" {
		opts.LoginPath = DefaultLoginPath
	}
	return &Service{
		api:           api,
		store:         store,
		metrics:       opts.Metrics,
		logoutTimeout: opts.LogoutTimeout,
		loginPath:     opts.LoginPath,
		now:           time.Now,
		snap:          Snapshot{State: StateUnknown, Loading: true},
		resolved:      make(chan struct{}),
	}
}

// Snapshot returns the current session tuple.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

func (s *Service) IsAuthenticated() bool {
	return s.Snapshot().State == StateAuthenticated
}

// Subscribe delivers the current snapshot immediately and then every
// change. Slow readers only ever see the latest value.
func (s *Service) Subscribe() (<-chan Snapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ch := s.subs.add(s.snap)

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.subs.remove(id)
		})
	}
}

// WaitResolved blocks until the state is no longer Unknown.
func (s *Service) WaitResolved(ctx context.Context) (Snapshot, error) {
	select {
	case <-s.resolved:
		return s.Snapshot(), nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// AckRedirect clears a pending redirect signal once the UI has acted on it.
func (s *Service) AckRedirect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap.RedirectTo == "" {
		return
	}
	s.snap.RedirectTo = ""
	s.subs.publish(s.snap)
}

// setLocked commits a state change and starts a new epoch. Callers hold mu.
func (s *Service) setLocked(state State, user *auth.User, loading bool, redirect string) uint64 {
	prev := s.snap.State
	s.epoch++
	s.snap = Snapshot{
		State:           state,
		IsAuthenticated: state == StateAuthenticated,
		User:            user,
		Loading:         loading,
		RedirectTo:      redirect,
	}
	if prev != state {
		logger.Info(logger.SESSION, "Session %s -> %s", prev, state)
		s.metrics.SessionTransition(state.String())
	}
	if prev == StateUnknown && state != StateUnknown {
		close(s.resolved)
	}
	s.subs.publish(s.snap)
	return s.epoch
}

// Bootstrap resolves the initial state from the store. With a stored pair
// the state becomes Authenticated at once using the cached profile, and the
// returned channel later yields the outcome of revalidating against the
// backend. Calling it again re-derives the same terminal state.
func (s *Service) Bootstrap(ctx context.Context) <-chan error {
	out := make(chan error, 1)

	pair, err := s.store.Load(ctx)
	if err != nil {
		logger.Error(logger.SESSION, "Failed to read credential store: %v", err)
		s.mu.Lock()
		s.setLocked(StateAnonymous, nil, false, "")
		s.mu.Unlock()
		out <- err
		close(out)
		return out
	}

	if pair == nil {
		s.mu.Lock()
		if err := s.store.Clear(ctx); err != nil {
			logger.Warn(logger.SESSION, "Failed to clear stale session data: %v", err)
		}
		s.setLocked(StateAnonymous, nil, false, "")
		s.mu.Unlock()
		out <- nil
		close(out)
		return out
	}

	user, err := s.store.LoadProfile(ctx)
	if err != nil {
		logger.Warn(logger.SESSION, "Failed to read cached profile: %v", err)
	}

	s.mu.Lock()
	epoch := s.setLocked(StateAuthenticated, user, true, "")
	s.mu.Unlock()

	go func() {
		out <- s.revalidate(ctx, epoch)
		close(out)
	}()
	return out
}

func (s *Service) revalidate(ctx context.Context, epoch uint64) error {
	var user auth.User
	err := s.api.Do(ctx, &gateway.Request{Method: http.MethodGet, Path: snapapi.AuthMe}, &user)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.epoch != epoch {
		// A login, logout or refresh failure happened meanwhile and wins.
		return err
	}

	switch {
	case err == nil:
		if saveErr := s.store.SaveProfile(ctx, user); saveErr != nil {
			logger.Warn(logger.SESSION, "Failed to cache profile: %v", saveErr)
		}
		s.snap.User = &user
		s.snap.Loading = false
		s.subs.publish(s.snap)
		return nil
	case apierr.KindOf(err) == apierr.KindAuthExpired:
		logger.Info(logger.SESSION, "Stored session is no longer valid")
		s.teardownLocked(context.WithoutCancel(ctx), "bootstrap_revalidation", "")
		return err
	default:
		// Transport and business failures keep the optimistic state.
		logger.Warn(logger.SESSION, "Session revalidation failed, keeping cached state: %v", err)
		s.snap.Loading = false
		s.subs.publish(s.snap)
		return err
	}
}

func (s *Service) teardownLocked(ctx context.Context, reason, redirect string) error {
	err := s.store.Clear(ctx)
	if err != nil {
		logger.Error(logger.SESSION, "Failed to clear credential store: %v", err)
	}
	s.setLocked(StateAnonymous, nil, false, redirect)
	s.metrics.SessionTeardown(reason)
	return err
}

func (s *Service) teardown(ctx context.Context, reason, redirect string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.teardownLocked(context.WithoutCancel(ctx), reason, redirect)
}

// HandleRefreshFailure ends the session after a rejected refresh and
// signals a redirect to the login page. It is registered as a refresh
// failure hook.
func (s *Service) HandleRefreshFailure(ctx context.Context, err error) {
	logger.Warn(logger.SESSION, "Refresh rejected, ending session: %v", err)
	_ = s.teardown(ctx, "refresh_rejected", s.loginPath)
}

// Login exchanges email and password for a credential pair. The pair and
// profile are committed only once both the login and the profile fetch
// succeed; any failure leaves the stored state untouched.
func (s *Service) Login(ctx context.Context, email, password string) (*auth.User, error) {
	var tokens auth.TokenResponse
	err := s.api.Do(ctx, &gateway.Request{
		Method:   http.MethodPost,
		Path:     snapapi.AuthLogin,
		Body:     auth.LoginRequest{Email: email, Password: password},
		SkipAuth: true,
	}, &tokens)
	if err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}
	return s.commit(ctx, tokens, "login")
}

func (s *Service) commit(ctx context.Context, tokens auth.TokenResponse, via string) (*auth.User, error) {
	if tokens.AccessToken == "" {
		return nil, ErrMissingCredential
	}

	var user auth.User
	err := s.api.Do(ctx, &gateway.Request{
		Method: http.MethodGet,
		Path:   snapapi.AuthMe,
		Bearer: tokens.AccessToken,
	}, &user)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch profile: %w", err)
	}

	pair := auth.FromTokenResponse(tokens, s.now())

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.SaveSession(ctx, pair, user); err != nil {
		return nil, err
	}
	s.setLocked(StateAuthenticated, &user, false, "")
	logger.Info(logger.SESSION, "Signed in as %s via %s", user.DisplayName(), via)
	return &user, nil
}

// Logout notifies the backend on a best-effort basis and always tears the
// local session down. A remote failure is returned after the teardown.
func (s *Service) Logout(ctx context.Context) error {
	pair, err := s.store.Load(ctx)
	if err != nil {
		logger.Warn(logger.SESSION, "Failed to read credentials for logout: %v", err)
	}

	var remoteErr error
	if pair != nil {
		lctx, cancel := context.WithTimeout(ctx, s.logoutTimeout)
		remoteErr = s.api.Do(lctx, &gateway.Request{
			Method: http.MethodPost,
			Path:   snapapi.AuthLogout,
			Body:   auth.LogoutRequest{RefreshToken: pair.RefreshToken},
			Bearer: pair.AccessToken,
		}, nil)
		cancel()
		if remoteErr != nil {
			logger.Warn(logger.SESSION, "Remote logout failed: %v", remoteErr)
			remoteErr = fmt.Errorf("remote logout failed: %w", remoteErr)
		}
	}

	clearErr := s.teardown(ctx, "logout", "")
	return errors.Join(clearErr, remoteErr)
}

// Signup registers an account. It does not sign the user in.
func (s *Service) Signup(ctx context.Context, req auth.SignupRequest) (*auth.User, error) {
	var user auth.User
	err := s.api.Do(ctx, &gateway.Request{
		Method:   http.MethodPost,
		Path:     snapapi.AuthSignup,
		Body:     req,
		SkipAuth: true,
	}, &user)
	if err != nil {
		return nil, fmt.Errorf("signup failed: %w", err)
	}
	return &user, nil
}

// RefreshProfile re-fetches and re-caches the profile. Only a rejected
// refresh, handled by the gateway, ends the session.
func (s *Service) RefreshProfile(ctx context.Context) (*auth.User, error) {
	s.mu.Lock()
	if s.snap.State != StateAuthenticated {
		s.mu.Unlock()
		return nil, ErrNotAuthenticated
	}
	epoch := s.epoch
	s.mu.Unlock()

	var user auth.User
	if err := s.api.Do(ctx, &gateway.Request{Method: http.MethodGet, Path: snapapi.AuthMe}, &user); err != nil {
		return nil, fmt.Errorf("failed to fetch profile: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch || s.snap.State != StateAuthenticated {
		return &user, nil
	}
	if err := s.store.SaveProfile(ctx, user); err != nil {
		return nil, err
	}
	s.snap.User = &user
	s.snap.Loading = false
	s.subs.publish(s.snap)
	return &user, nil
}

func (s *Service) UpdateProfile(ctx context.Context, update auth.ProfileUpdate) (*auth.User, error) {
	if !s.IsAuthenticated() {
		return nil, ErrNotAuthenticated
	}
	err := s.api.Do(ctx, &gateway.Request{Method: http.MethodPatch, Path: snapapi.UsersMe, Body: update}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	return s.RefreshProfile(ctx)
}

func (s *Service) ChangePassword(ctx context.Context, change auth.PasswordChange) error {
	if !s.IsAuthenticated() {
		return ErrNotAuthenticated
	}
	if change.NewPassword != change.NewPasswordCheck {
		return ErrPasswordMismatch
	}
	err := s.api.Do(ctx, &gateway.Request{Method: http.MethodPost, Path: snapapi.UsersMePassword, Body: change}, nil)
	if err != nil {
		return fmt.Errorf("failed to change password: %w", err)
	}
	return nil
}

// DeleteAccount removes the account and ends the session.
func (s *Service) DeleteAccount(ctx context.Context) error {
	if !s.IsAuthenticated() {
		return ErrNotAuthenticated
	}
	err := s.api.Do(ctx, &gateway.Request{Method: http.MethodDelete, Path: snapapi.UsersMe}, nil)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	return s.teardown(ctx, "account_deleted", "/")
}

// OAuthLoginURL returns the provider authorization URL to send the user to.
func (s *Service) OAuthLoginURL(ctx context.Context, provider string) (string, error) {
	if !auth.ValidProvider(provider) {
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}

	resp, err := s.api.Send(ctx, &gateway.Request{
		Method:   http.MethodGet,
		Path:     snapapi.OAuthLogin(provider),
		SkipAuth: true,
	})
	if err != nil {
		return "", err
	}

	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		if loc := resp.Header.Get("Location"); loc != "" {
			return loc, nil
		}
		return "", ErrNoAuthorizeURL
	}
	if !resp.OK() {
		return "", apierr.FromResponse(resp.StatusCode, resp.Body)
	}

	var body auth.OAuthLoginResponse
	if err := resp.Decode(&body); err != nil {
		return "", err
	}
	switch {
	case body.AuthorizationURL != "":
		return body.AuthorizationURL, nil
	case body.URL != "":
		return body.URL, nil
	}
	return "", ErrNoAuthorizeURL
}

// OAuthCallback completes a provider login and commits the session the same
// way Login does.
func (s *Service) OAuthCallback(ctx context.Context, provider, code, state string) (*auth.User, error) {
	if !auth.ValidProvider(provider) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	if code == "" {
		return nil, ErrMissingCode
	}

	query := url.Values{"code": {code}}
	if state != "" {
		query.Set("state", state)
	}

	var tokens auth.TokenResponse
	err := s.api.Do(ctx, &gateway.Request{
		Method:   http.MethodGet,
		Path:     snapapi.OAuthCallback(provider),
		Query:    query,
		SkipAuth: true,
	}, &tokens)
	if err != nil {
		return nil, fmt.Errorf("%s login failed: %w", provider, err)
	}
	return s.commit(ctx, tokens, provider)
}

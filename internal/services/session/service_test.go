package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapncook/snapclient/internal/apierr"
	"github.com/snapncook/snapclient/internal/auth"
	"github.com/snapncook/snapclient/internal/config"
	"github.com/snapncook/snapclient/internal/credentials"
	"github.com/snapncook/snapclient/internal/infrastructure/snapapi"
	"github.com/snapncook/snapclient/internal/mockapi"
	"github.com/snapncook/snapclient/internal/services/gateway"
	"github.com/snapncook/snapclient/internal/services/refresh"
)

const (
	testEmail    = "cook@example.com"
	testPassword = "password123"
)

type harness struct {
	backend *mockapi.Server
	server  *httptest.Server
	store   *credentials.Store
	api     *snapapi.Service
}

func newHarness(t *testing.T, opts mockapi.Options) *harness {
	t.Helper()
	backend := mockapi.NewServer(opts, nil)
	server := httptest.NewServer(backend)
	t.Cleanup(server.Close)

	_, err := backend.Store().CreateUser(auth.SignupRequest{Username: "cook", Email: testEmail, Password: testPassword})
	require.NoError(t, err)

	return &harness{
		backend: backend,
		server:  server,
		store:   credentials.NewStore(credentials.NewMemoryKV()),
		api:     snapapi.NewService(config.APIConfig{BaseURL: server.URL, Timeout: 2 * time.Second}),
	}
}

// session wires a fresh client over the shared store, the way the
// application does at startup.
func (h *harness) session() *Service {
	coord := refresh.NewCoordinator(h.store, h.api, 2*time.Second, nil)
	gw := gateway.NewService(h.api, h.store, coord, nil)
	s := NewService(gw, h.store, Options{})
	coord.OnFailure(s.HandleRefreshFailure)
	return s
}

func resolve(t *testing.T, s *Service) error {
	t.Helper()
	select {
	case err := <-s.Bootstrap(context.Background()):
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("bootstrap did not finish")
		return nil
	}
}

func (h *harness) login(t *testing.T) *Service {
	t.Helper()
	s := h.session()
	require.NoError(t, resolve(t, s))
	_, err := s.Login(context.Background(), testEmail, testPassword)
	require.NoError(t, err)
	return s
}

func TestBootstrapEmptyStore(t *testing.T) {
	h := newHarness(t, mockapi.Options{})
	s := h.session()
	assert.Equal(t, StateUnknown, s.Snapshot().State)

	require.NoError(t, resolve(t, s))
	snap := s.Snapshot()
	assert.Equal(t, StateAnonymous, snap.State)
	assert.False(t, snap.IsAuthenticated)
	assert.False(t, snap.Loading)
	assert.Zero(t, h.backend.Hits(snapapi.AuthMe))

	// Bootstrapping again lands in the same state.
	require.NoError(t, resolve(t, s))
	assert.Equal(t, StateAnonymous, s.Snapshot().State)
}

func TestLoginCommitsSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, mockapi.Options{})
	s := h.login(t)

	snap := s.Snapshot()
	assert.Equal(t, StateAuthenticated, snap.State)
	assert.True(t, snap.IsAuthenticated)
	require.NotNil(t, snap.User)
	assert.Equal(t, testEmail, snap.User.Email)

	pair, err := h.store.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, pair)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)

	user, err := h.store.LoadProfile(ctx)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, testEmail, user.Email)
}

func TestLoginFailureLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, mockapi.Options{})
	s := h.session()
	require.NoError(t, resolve(t, s))

	_, err := s.Login(ctx, testEmail, "wrong-password")
	require.Error(t, err)
	assert.ErrorIs(t, err, apierr.ErrAuthExpired)
	assert.Equal(t, "Incorrect password", apierr.Message(err))

	assert.Equal(t, StateAnonymous, s.Snapshot().State)
	pair, err := h.store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, pair)
	assert.Zero(t, h.backend.RefreshCalls())
}

func TestBootstrapRestoresAndRevalidates(t *testing.T) {
	h := newHarness(t, mockapi.Options{})
	h.login(t)

	// A new client over the same store starts authenticated from cache.
	s := h.session()
	out := s.Bootstrap(context.Background())
	snap := s.Snapshot()
	assert.Equal(t, StateAuthenticated, snap.State)
	require.NotNil(t, snap.User)
	assert.Equal(t, testEmail, snap.User.Email)

	select {
	case err := <-out:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("revalidation did not finish")
	}
	snap = s.Snapshot()
	assert.Equal(t, StateAuthenticated, snap.State)
	assert.False(t, snap.Loading)

	// Bootstrapping an already authenticated client revalidates again.
	select {
	case err := <-s.Bootstrap(context.Background()):
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("second revalidation did not finish")
	}
	snap = s.Snapshot()
	assert.Equal(t, StateAuthenticated, snap.State)
	assert.False(t, snap.Loading)
	require.NotNil(t, snap.User)
	assert.Equal(t, testEmail, snap.User.Email)
	assert.Zero(t, h.backend.RefreshCalls())
}

func TestBootstrapRefreshesExpiredAccessToken(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, mockapi.Options{RotateRefreshTokens: true})
	h.login(t)
	before, err := h.store.Load(ctx)
	require.NoError(t, err)

	h.backend.Tokens().ExpireAll()

	s := h.session()
	require.NoError(t, resolve(t, s))
	assert.Equal(t, StateAuthenticated, s.Snapshot().State)
	assert.Equal(t, int64(1), h.backend.RefreshCalls())

	after, err := h.store.Load(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, before.AccessToken, after.AccessToken)
	assert.NotEqual(t, before.RefreshToken, after.RefreshToken)
}

func TestBootstrapRejectedRefreshEndsSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, mockapi.Options{})
	h.login(t)

	h.backend.Tokens().ExpireAll()
	h.backend.Store().RevokeAll()

	s := h.session()
	err := resolve(t, s)
	require.Error(t, err)
	assert.ErrorIs(t, err, apierr.ErrRefreshRejected)

	snap := s.Snapshot()
	assert.Equal(t, StateAnonymous, snap.State)
	assert.Equal(t, DefaultLoginPath, snap.RedirectTo)

	pair, err := h.store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, pair)
	user, err := h.store.LoadProfile(ctx)
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestRevalidationTransportFailureKeepsSession(t *testing.T) {
	h := newHarness(t, mockapi.Options{})
	h.login(t)
	h.server.Close()

	s := h.session()
	err := resolve(t, s)
	assert.ErrorIs(t, err, apierr.ErrTransport)

	snap := s.Snapshot()
	assert.Equal(t, StateAuthenticated, snap.State)
	assert.False(t, snap.Loading)
	require.NotNil(t, snap.User)
}

func TestRefreshFailureMidSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, mockapi.Options{})
	s := h.login(t)

	h.backend.Tokens().ExpireAll()
	h.backend.SetRefreshFailure(http.StatusUnauthorized)

	_, err := s.RefreshProfile(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, apierr.ErrRefreshRejected)

	snap := s.Snapshot()
	assert.Equal(t, StateAnonymous, snap.State)
	assert.Equal(t, DefaultLoginPath, snap.RedirectTo)

	s.AckRedirect()
	assert.Empty(t, s.Snapshot().RedirectTo)

	pair, err := h.store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, pair)
}

func TestConcurrentExpiryRefreshesOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, mockapi.Options{RotateRefreshTokens: true})
	s := h.login(t)

	h.backend.Tokens().ExpireAll()
	h.backend.SetRefreshDelay(50 * time.Millisecond)

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.RefreshProfile(ctx)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int64(1), h.backend.RefreshCalls())
	assert.Equal(t, StateAuthenticated, s.Snapshot().State)
}

func TestLogout(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, mockapi.Options{})
	s := h.login(t)
	pair, err := h.store.Load(ctx)
	require.NoError(t, err)

	require.NoError(t, s.Logout(ctx))
	assert.Equal(t, StateAnonymous, s.Snapshot().State)
	assert.Empty(t, s.Snapshot().RedirectTo)

	stored, err := h.store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, stored)

	// The backend revoked the refresh token.
	_, ok := h.backend.Store().RefreshSession(pair.RefreshToken, false)
	assert.False(t, ok)
}

func TestLogoutWhenBackendIsDown(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, mockapi.Options{})
	s := h.login(t)
	h.server.Close()

	err := s.Logout(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, apierr.ErrTransport)

	assert.Equal(t, StateAnonymous, s.Snapshot().State)
	stored, err := h.store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestSubscribe(t *testing.T) {
	h := newHarness(t, mockapi.Options{})
	s := h.session()

	ch, cancel := s.Subscribe()
	defer cancel()
	assert.Equal(t, StateUnknown, (<-ch).State)

	require.NoError(t, resolve(t, s))
	assert.Equal(t, StateAnonymous, (<-ch).State)

	_, err := s.Login(context.Background(), testEmail, testPassword)
	require.NoError(t, err)
	snap := <-ch
	assert.Equal(t, StateAuthenticated, snap.State)
	require.NotNil(t, snap.User)

	cancel()
	_, open := <-ch
	assert.False(t, open)
	cancel()
}

func TestAccountOperations(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, mockapi.Options{})

	t.Run("anonymous", func(t *testing.T) {
		s := h.session()
		require.NoError(t, resolve(t, s))
		_, err := s.RefreshProfile(ctx)
		assert.ErrorIs(t, err, ErrNotAuthenticated)
		assert.ErrorIs(t, s.DeleteAccount(ctx), ErrNotAuthenticated)
	})

	s := h.login(t)

	t.Run("update profile", func(t *testing.T) {
		nickname := "Chef"
		user, err := s.UpdateProfile(ctx, auth.ProfileUpdate{Nickname: &nickname})
		require.NoError(t, err)
		assert.Equal(t, "Chef", user.Nickname)
		assert.Equal(t, "Chef", s.Snapshot().User.Nickname)

		cached, err := h.store.LoadProfile(ctx)
		require.NoError(t, err)
		assert.Equal(t, "Chef", cached.Nickname)
	})

	t.Run("password mismatch is local", func(t *testing.T) {
		before := h.backend.Hits(snapapi.UsersMePassword)
		err := s.ChangePassword(ctx, auth.PasswordChange{CurrentPassword: testPassword, NewPassword: "newpassword1", NewPasswordCheck: "other"})
		assert.ErrorIs(t, err, ErrPasswordMismatch)
		assert.Equal(t, before, h.backend.Hits(snapapi.UsersMePassword))
	})

	t.Run("wrong current password", func(t *testing.T) {
		err := s.ChangePassword(ctx, auth.PasswordChange{CurrentPassword: "nope", NewPassword: "newpassword1", NewPasswordCheck: "newpassword1"})
		assert.ErrorIs(t, err, apierr.ErrBusiness)
		assert.Equal(t, StateAuthenticated, s.Snapshot().State)
	})

	t.Run("delete account", func(t *testing.T) {
		require.NoError(t, s.DeleteAccount(ctx))
		snap := s.Snapshot()
		assert.Equal(t, StateAnonymous, snap.State)
		assert.Equal(t, "/", snap.RedirectTo)
	})
}

func TestSignupDoesNotSignIn(t *testing.T) {
	h := newHarness(t, mockapi.Options{})
	s := h.session()
	require.NoError(t, resolve(t, s))

	user, err := s.Signup(context.Background(), auth.SignupRequest{Username: "new", Email: "new@example.com", Password: "password123"})
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", user.Email)
	assert.Equal(t, StateAnonymous, s.Snapshot().State)

	_, err = s.Signup(context.Background(), auth.SignupRequest{Username: "new", Email: "new@example.com", Password: "password123"})
	assert.ErrorIs(t, err, apierr.ErrBusiness)
	assert.Equal(t, "Email already registered", apierr.Message(err))
}

func TestOAuth(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, mockapi.Options{})
	s := h.session()
	require.NoError(t, resolve(t, s))

	_, err := s.OAuthLoginURL(ctx, "github")
	assert.ErrorIs(t, err, ErrUnknownProvider)
	_, err = s.OAuthCallback(ctx, auth.ProviderGoogle, "", "")
	assert.ErrorIs(t, err, ErrMissingCode)

	authorizeURL, err := s.OAuthLoginURL(ctx, auth.ProviderGoogle)
	require.NoError(t, err)
	u, err := url.Parse(authorizeURL)
	require.NoError(t, err)
	state := u.Query().Get("state")
	require.NotEmpty(t, state)

	user, err := s.OAuthCallback(ctx, auth.ProviderGoogle, "google-user-1", state)
	require.NoError(t, err)
	assert.Equal(t, auth.ProviderGoogle, user.OAuthProvider)
	assert.Equal(t, StateAuthenticated, s.Snapshot().State)
}

func TestOAuthLoginURLFromJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"authorization_url":"https://kauth.example/authorize"}`))
	}))
	defer server.Close()

	api := snapapi.NewService(config.APIConfig{BaseURL: server.URL, Timeout: time.Second})
	store := credentials.NewStore(credentials.NewMemoryKV())
	s := NewService(gateway.NewService(api, store, nil, nil), store, Options{})

	got, err := s.OAuthLoginURL(context.Background(), auth.ProviderKakao)
	require.NoError(t, err)
	assert.Equal(t, "https://kauth.example/authorize", got)
}

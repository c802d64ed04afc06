package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapncook/snapclient/internal/auth"
	"github.com/snapncook/snapclient/internal/config"
	"github.com/snapncook/snapclient/internal/connections"
	"github.com/snapncook/snapclient/internal/credentials"
	"github.com/snapncook/snapclient/internal/infrastructure/snapapi"
	"github.com/snapncook/snapclient/internal/metrics"
	"github.com/snapncook/snapclient/internal/mockapi"
	"github.com/snapncook/snapclient/internal/services"
	"github.com/snapncook/snapclient/internal/services/recommend"
	"github.com/snapncook/snapclient/internal/services/session"
	"github.com/snapncook/snapclient/pkg/httpext"
)

type bridge struct {
	url     string
	backend *mockapi.Server
	svcs    *services.Services
	client  *http.Client
}

func newBridge(t *testing.T) *bridge {
	t.Helper()
	backend := mockapi.NewServer(mockapi.Options{}, nil)
	backendServer := httptest.NewServer(backend)
	t.Cleanup(backendServer.Close)
	_, err := backend.Store().CreateUser(auth.SignupRequest{Username: "cook", Email: "cook@example.com", Password: "password123"})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	store := credentials.NewStore(credentials.NewMemoryKV())
	api := snapapi.NewService(config.APIConfig{BaseURL: backendServer.URL, Timeout: 2 * time.Second})
	svcs := services.NewServices(store, api, config.SessionConfig{}, metrics.New(reg))
	require.NoError(t, <-svcs.GetSessionService().Bootstrap(context.Background()))

	server := httptest.NewServer(NewRouter(svcs, connections.NewManager(connections.DefaultTimeouts), reg))
	t.Cleanup(server.Close)

	return &bridge{
		url:     server.URL,
		backend: backend,
		svcs:    svcs,
		client: &http.Client{
			Timeout: 5 * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (b *bridge) do(t *testing.T, method, path string, body interface{}, out interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, b.url+path, &buf)
	require.NoError(t, err)
	resp, err := b.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if out != nil && len(data) > 0 {
		if e, ok := out.(*httpext.ErrorResponse); ok {
			require.NoError(t, json.Unmarshal(data, e))
		} else if resp.StatusCode < 300 {
			require.NoError(t, json.Unmarshal(data, out))
		}
	}
	return resp
}

func (b *bridge) login(t *testing.T) {
	t.Helper()
	resp := b.do(t, http.MethodPost, "/v1/session/login", auth.LoginRequest{Email: "cook@example.com", Password: "password123"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	b := newBridge(t)
	var body map[string]interface{}
	resp := b.do(t, http.MethodGet, "/healthz", nil, &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "anonymous", body["session"])
	assert.Equal(t, "idle", body["refresh"])
}

func TestSessionLifecycle(t *testing.T) {
	b := newBridge(t)

	var snap session.Snapshot
	b.do(t, http.MethodGet, "/v1/session", nil, &snap)
	assert.Equal(t, session.StateAnonymous, snap.State)

	assert.Equal(t, http.StatusUnauthorized, b.do(t, http.MethodGet, "/v1/me", nil, nil).StatusCode)

	var decision session.Decision
	b.do(t, http.MethodGet, "/v1/route?path=/mypage", nil, &decision)
	assert.False(t, decision.Allow)
	assert.Equal(t, "/login", decision.RedirectTo)
	assert.Equal(t, http.StatusBadRequest, b.do(t, http.MethodGet, "/v1/route", nil, nil).StatusCode)

	var errBody httpext.ErrorResponse
	resp := b.do(t, http.MethodPost, "/v1/session/login", auth.LoginRequest{Email: "cook@example.com", Password: "wrong-password"}, &errBody)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Incorrect password", errBody.Detail)

	assert.Equal(t, http.StatusBadRequest, b.do(t, http.MethodPost, "/v1/session/login", auth.LoginRequest{}, nil).StatusCode)

	b.login(t)
	b.do(t, http.MethodGet, "/v1/session", nil, &snap)
	assert.Equal(t, session.StateAuthenticated, snap.State)
	require.NotNil(t, snap.User)
	assert.Equal(t, "cook@example.com", snap.User.Email)

	var user auth.User
	resp = b.do(t, http.MethodGet, "/v1/me", nil, &user)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "cook", user.Username)

	nickname := "Chef"
	resp = b.do(t, http.MethodPatch, "/v1/me", auth.ProfileUpdate{Nickname: &nickname}, &user)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Chef", user.Nickname)

	resp = b.do(t, http.MethodPost, "/v1/me/password", auth.PasswordChange{CurrentPassword: "password123", NewPassword: "a", NewPasswordCheck: "b"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	b.do(t, http.MethodGet, "/v1/route?path=/mypage/uploads", nil, &decision)
	assert.True(t, decision.Allow)

	var msg map[string]string
	resp = b.do(t, http.MethodPost, "/v1/session/logout", nil, &msg)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, msg["warning"])
	b.do(t, http.MethodGet, "/v1/session", nil, &snap)
	assert.Equal(t, session.StateAnonymous, snap.State)
}

func TestRefreshFailureRedirect(t *testing.T) {
	b := newBridge(t)
	b.login(t)

	b.backend.Tokens().ExpireAll()
	b.backend.SetRefreshFailure(http.StatusUnauthorized)

	assert.Equal(t, http.StatusUnauthorized, b.do(t, http.MethodGet, "/v1/me", nil, nil).StatusCode)

	var snap session.Snapshot
	b.do(t, http.MethodGet, "/v1/session", nil, &snap)
	assert.Equal(t, session.StateAnonymous, snap.State)
	assert.Equal(t, "/login", snap.RedirectTo)

	snap = session.Snapshot{}
	b.do(t, http.MethodPost, "/v1/session/redirect/ack", nil, &snap)
	assert.Empty(t, snap.RedirectTo)
}

func TestRecommend(t *testing.T) {
	b := newBridge(t)

	var recipes []recommend.Recipe
	resp := b.do(t, http.MethodGet, "/v1/recommend/detection/1", nil, &recipes)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, recipes, 2)

	b.login(t)
	resp = b.do(t, http.MethodGet, "/v1/recommend/ingredient/1", nil, &recipes)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, recipes, 3)
	assert.Equal(t, 1, b.backend.Hits("/recommend/private/by-ingredient/1"))

	resp = b.do(t, http.MethodGet, "/v1/recommend/detection/3", nil, &recipes)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, recipes)

	assert.Equal(t, http.StatusBadRequest, b.do(t, http.MethodGet, "/v1/recommend/detection/0", nil, nil).StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	b := newBridge(t)
	b.login(t)
	b.do(t, http.MethodGet, "/v1/recommend/detection/1", nil, nil)

	resp, err := http.Get(b.url + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	body := string(data)
	assert.Contains(t, body, `snapclient_recommend_fallbacks_total{kind="detection"} 1`)
	assert.Contains(t, body, `snapclient_session_transitions_total{state="authenticated"} 1`)
}

func TestSessionStream(t *testing.T) {
	b := newBridge(t)

	wsURL := "ws" + strings.TrimPrefix(b.url, "http") + "/v1/session/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var snap session.Snapshot
	require.NoError(t, conn.ReadJSON(&snap))
	assert.Equal(t, session.StateAnonymous, snap.State)

	b.login(t)
	require.NoError(t, conn.ReadJSON(&snap))
	assert.Equal(t, session.StateAuthenticated, snap.State)

	b.do(t, http.MethodPost, "/v1/session/logout", nil, nil)
	require.NoError(t, conn.ReadJSON(&snap))
	assert.Equal(t, session.StateAnonymous, snap.State)
}

func TestOAuthBridge(t *testing.T) {
	b := newBridge(t)

	resp := b.do(t, http.MethodGet, "/v1/oauth/naver/login", nil, nil)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	state := loc.Query().Get("state")
	require.NotEmpty(t, state)

	var user auth.User
	resp = b.do(t, http.MethodGet, "/v1/oauth/naver/callback?code=n-1&state="+url.QueryEscape(state), nil, &user)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, auth.ProviderNaver, user.OAuthProvider)
	assert.True(t, b.svcs.GetSessionService().IsAuthenticated())

	assert.Equal(t, http.StatusNotFound, b.do(t, http.MethodGet, "/v1/oauth/github/login", nil, nil).StatusCode)
	assert.Equal(t, http.StatusBadRequest, b.do(t, http.MethodGet, "/v1/oauth/kakao/callback", nil, nil).StatusCode)
	assert.Equal(t, http.StatusBadRequest, b.do(t, http.MethodGet, "/v1/oauth/kakao/callback?error=access_denied", nil, nil).StatusCode)
}

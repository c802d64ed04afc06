package mockapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapncook/snapclient/internal/auth"
	"github.com/snapncook/snapclient/pkg/httpext"
)

func call(t *testing.T, srv http.Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func signupAndLogin(t *testing.T, srv *Server, email string) auth.TokenResponse {
	t.Helper()
	w := call(t, srv, http.MethodPost, "/auth/signup", "", auth.SignupRequest{Username: "cook", Email: email, Password: "password123"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = call(t, srv, http.MethodPost, "/auth/login", "", auth.LoginRequest{Email: email, Password: "password123"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var tokens auth.TokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tokens))
	require.NotEmpty(t, tokens.AccessToken)
	require.NotEmpty(t, tokens.RefreshToken)
	return tokens
}

func TestSignupValidation(t *testing.T) {
	srv := NewServer(Options{}, nil)

	w := call(t, srv, http.MethodPost, "/auth/signup", "", auth.SignupRequest{Username: "cook", Email: "a@b.c", Password: "short"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, httpext.DecodeDetail(w.Body.Bytes()), "at least 8 characters")

	signupAndLogin(t, srv, "a@b.c")
	w = call(t, srv, http.MethodPost, "/auth/signup", "", auth.SignupRequest{Username: "cook", Email: "A@B.C", Password: "password123"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Email already registered", httpext.DecodeDetail(w.Body.Bytes()))
}

func TestLoginErrors(t *testing.T) {
	srv := NewServer(Options{}, nil)
	signupAndLogin(t, srv, "cook@example.com")

	tests := []struct {
		name   string
		req    auth.LoginRequest
		detail string
	}{
		{"unknown email", auth.LoginRequest{Email: "nobody@example.com", Password: "password123"}, "Invalid credentials"},
		{"wrong password", auth.LoginRequest{Email: "cook@example.com", Password: "nope"}, "Incorrect password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := call(t, srv, http.MethodPost, "/auth/login", "", tt.req)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, tt.detail, httpext.DecodeDetail(w.Body.Bytes()))
		})
	}
}

func TestLoginRateLimit(t *testing.T) {
	srv := NewServer(Options{LoginWindow: time.Minute, LoginMaxHits: 2}, nil)
	req := auth.LoginRequest{Email: "x@example.com", Password: "whatever1"}

	assert.Equal(t, http.StatusUnauthorized, call(t, srv, http.MethodPost, "/auth/login", "", req).Code)
	assert.Equal(t, http.StatusUnauthorized, call(t, srv, http.MethodPost, "/auth/login", "", req).Code)
	assert.Equal(t, http.StatusTooManyRequests, call(t, srv, http.MethodPost, "/auth/login", "", req).Code)
}

func TestMeRequiresValidToken(t *testing.T) {
	srv := NewServer(Options{}, nil)
	tokens := signupAndLogin(t, srv, "cook@example.com")

	assert.Equal(t, http.StatusUnauthorized, call(t, srv, http.MethodGet, "/auth/me", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, call(t, srv, http.MethodGet, "/auth/me", "garbage", nil).Code)

	w := call(t, srv, http.MethodGet, "/auth/me", tokens.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var user auth.User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &user))
	assert.Equal(t, "cook@example.com", user.Email)

	srv.Tokens().ExpireAll()
	assert.Equal(t, http.StatusUnauthorized, call(t, srv, http.MethodGet, "/auth/me", tokens.AccessToken, nil).Code)
}

func TestRefresh(t *testing.T) {
	t.Run("rotating", func(t *testing.T) {
		srv := NewServer(Options{RotateRefreshTokens: true}, nil)
		tokens := signupAndLogin(t, srv, "cook@example.com")

		w := call(t, srv, http.MethodPost, "/auth/refresh", "", auth.RefreshRequest{RefreshToken: tokens.RefreshToken})
		require.Equal(t, http.StatusOK, w.Code)
		var next auth.TokenResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &next))
		assert.NotEmpty(t, next.AccessToken)
		assert.NotEqual(t, tokens.RefreshToken, next.RefreshToken)

		// The consumed token is single-use.
		w = call(t, srv, http.MethodPost, "/auth/refresh", "", auth.RefreshRequest{RefreshToken: tokens.RefreshToken})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, int64(2), srv.RefreshCalls())
	})

	t.Run("non-rotating", func(t *testing.T) {
		srv := NewServer(Options{}, nil)
		tokens := signupAndLogin(t, srv, "cook@example.com")

		w := call(t, srv, http.MethodPost, "/auth/refresh", "", auth.RefreshRequest{RefreshToken: tokens.RefreshToken})
		require.Equal(t, http.StatusOK, w.Code)
		var next auth.TokenResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &next))
		assert.Empty(t, next.RefreshToken)

		w = call(t, srv, http.MethodPost, "/auth/refresh", "", auth.RefreshRequest{RefreshToken: tokens.RefreshToken})
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("forced failure", func(t *testing.T) {
		srv := NewServer(Options{}, nil)
		tokens := signupAndLogin(t, srv, "cook@example.com")
		srv.SetRefreshFailure(http.StatusForbidden)

		w := call(t, srv, http.MethodPost, "/auth/refresh", "", auth.RefreshRequest{RefreshToken: tokens.RefreshToken})
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("missing token", func(t *testing.T) {
		srv := NewServer(Options{}, nil)
		w := call(t, srv, http.MethodPost, "/auth/refresh", "", auth.RefreshRequest{})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})
}

func TestLogoutRevokesRefreshToken(t *testing.T) {
	srv := NewServer(Options{}, nil)
	tokens := signupAndLogin(t, srv, "cook@example.com")

	w := call(t, srv, http.MethodPost, "/auth/logout", tokens.AccessToken, auth.LogoutRequest{RefreshToken: tokens.RefreshToken})
	assert.Equal(t, http.StatusOK, w.Code)

	w = call(t, srv, http.MethodPost, "/auth/refresh", "", auth.RefreshRequest{RefreshToken: tokens.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAccountEndpoints(t *testing.T) {
	srv := NewServer(Options{}, nil)
	tokens := signupAndLogin(t, srv, "cook@example.com")

	nickname := "Chef"
	w := call(t, srv, http.MethodPatch, "/users/me", tokens.AccessToken, auth.ProfileUpdate{Nickname: &nickname})
	require.Equal(t, http.StatusOK, w.Code)
	var user auth.User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &user))
	assert.Equal(t, "Chef", user.Nickname)

	w = call(t, srv, http.MethodPost, "/users/me/password", tokens.AccessToken, auth.PasswordChange{
		CurrentPassword: "wrong-password", NewPassword: "newpassword1", NewPasswordCheck: "newpassword1",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = call(t, srv, http.MethodPost, "/users/me/password", tokens.AccessToken, auth.PasswordChange{
		CurrentPassword: "password123", NewPassword: "newpassword1", NewPasswordCheck: "newpassword1",
	})
	assert.Equal(t, http.StatusOK, w.Code)

	w = call(t, srv, http.MethodPost, "/auth/login", "", auth.LoginRequest{Email: "cook@example.com", Password: "newpassword1"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = call(t, srv, http.MethodDelete, "/users/me", tokens.AccessToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, http.StatusUnauthorized, call(t, srv, http.MethodGet, "/auth/me", tokens.AccessToken, nil).Code)
}

func TestOAuthFlow(t *testing.T) {
	srv := NewServer(Options{}, nil)

	w := call(t, srv, http.MethodGet, "/oauth/google/login", "", nil)
	require.Equal(t, http.StatusFound, w.Code)
	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	state := loc.Query().Get("state")
	require.NotEmpty(t, state)

	w = call(t, srv, http.MethodGet, "/oauth/google/callback?code=abc&state=wrong", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// A rejected state is consumed, so start over.
	w = call(t, srv, http.MethodGet, "/oauth/google/login", "", nil)
	loc, _ = url.Parse(w.Header().Get("Location"))
	w = call(t, srv, http.MethodGet, "/oauth/google/callback?code=abc&state="+loc.Query().Get("state"), "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var tokens auth.TokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tokens))
	w = call(t, srv, http.MethodGet, "/auth/me", tokens.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var user auth.User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &user))
	assert.Equal(t, auth.ProviderGoogle, user.OAuthProvider)

	t.Run("kakao has no state", func(t *testing.T) {
		w := call(t, srv, http.MethodGet, "/oauth/kakao/callback?code=k1", "", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("missing code", func(t *testing.T) {
		w := call(t, srv, http.MethodGet, "/oauth/kakao/callback", "", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown provider", func(t *testing.T) {
		w := call(t, srv, http.MethodGet, "/oauth/github/login", "", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestRecommend(t *testing.T) {
	catalog := DefaultCatalog()
	srv := NewServer(Options{}, catalog)
	tokens := signupAndLogin(t, srv, "cook@example.com")
	catalog.AddDetection(10, 2, 1)

	tests := []struct {
		name   string
		path   string
		token  string
		status int
		count  int
	}{
		{"public detection", "/recommend/public/by-detection/1", "", http.StatusOK, 2},
		{"public ingredient", "/recommend/public/by-ingredient/1", "", http.StatusOK, 3},
		{"no recipes", "/recommend/public/by-detection/3", "", http.StatusNotFound, 0},
		{"no matched foods", "/recommend/public/by-ingredient/2", "", http.StatusBadRequest, 0},
		{"missing record", "/recommend/public/by-detection/404", "", http.StatusNotFound, 0},
		{"private anonymous", "/recommend/private/by-detection/10", "", http.StatusUnauthorized, 0},
		{"private not owner", "/recommend/private/by-detection/1", tokens.AccessToken, http.StatusForbidden, 0},
		{"private owner", "/recommend/private/by-detection/10", tokens.AccessToken, http.StatusOK, 1},
		{"bad kind", "/recommend/public/by-photo/1", "", http.StatusNotFound, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := call(t, srv, http.MethodGet, tt.path, tt.token, nil)
			require.Equal(t, tt.status, w.Code, w.Body.String())
			if tt.status != http.StatusOK {
				return
			}
			var recipes []Recipe
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &recipes))
			assert.Len(t, recipes, tt.count)
		})
	}
}

func TestPrefix(t *testing.T) {
	srv := NewServer(Options{Prefix: "/api"}, nil)
	assert.Equal(t, http.StatusOK, call(t, srv, http.MethodGet, "/api/recommend/public/by-detection/1", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, call(t, srv, http.MethodGet, "/recommend/public/by-detection/1", "", nil).Code)
	assert.Equal(t, 1, srv.Hits("/recommend/public/by-detection/1"))
}

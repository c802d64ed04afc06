// Package mockapi is an in-memory implementation of the Snap'n'Cook backend
// REST contract, used for local development and integration tests.
package mockapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/snapncook/snapclient/internal/auth"
	"github.com/snapncook/snapclient/internal/config"
	"github.com/snapncook/snapclient/pkg/httpext"
	"github.com/snapncook/snapclient/pkg/logger"
	"github.com/snapncook/snapclient/pkg/ratelimit"
)

type Options struct {
	Prefix        string
	SigningSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	LoginWindow   time.Duration
	LoginMaxHits  int

	// RotateRefreshTokens makes every refresh return a new refresh token.
	RotateRefreshTokens bool
}

// OptionsFromConfig maps the mock API environment configuration.
func OptionsFromConfig(cfg config.MockAPIConfig) Options {
	return Options{
		SigningSecret:       cfg.SigningSecret,
		AccessTTL:           cfg.AccessTTL,
		RefreshTTL:          cfg.RefreshTTL,
		LoginWindow:         cfg.LoginWindow,
		LoginMaxHits:        cfg.LoginMaxHits,
		RotateRefreshTokens: true,
	}
}

type ctxKey struct{}

type Server struct {
	opts    Options
	store   *Store
	tokens  *TokenIssuer
	catalog *Catalog
	limiter *ratelimit.Limiter
	router  *mux.Router

	refreshCalls  atomic.Int64
	refreshFail   atomic.Int32
	refreshDelay  atomic.Int64
	oauthStatesMu sync.Mutex
	oauthStates   map[string]string

	hitsMu sync.Mutex
	hits   map[string]int
}

func NewServer(opts Options, catalog *Catalog) *Server {
	if opts.SigningSecret == "" {
		opts.SigningSecret = "snapclient-dev-secret"
	}
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = 15 * time.Minute
	}
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = 14 * 24 * time.Hour
	}
	if opts.LoginWindow <= 0 {
		opts.LoginWindow = time.Minute
	}
	if opts.LoginMaxHits <= 0 {
		opts.LoginMaxHits = 10
	}
	if catalog == nil {
		catalog = DefaultCatalog()
	}

	s := &Server{
		opts:        opts,
		store:       NewStore(opts.RefreshTTL),
		tokens:      NewTokenIssuer(opts.SigningSecret, opts.AccessTTL),
		catalog:     catalog,
		limiter:     ratelimit.NewLimiter(opts.LoginWindow, opts.LoginMaxHits),
		oauthStates: make(map[string]string),
		hits:        make(map[string]int),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	root := mux.NewRouter()
	r := root
	if s.opts.Prefix != "" {
		r = root.PathPrefix(s.opts.Prefix).Subrouter()
	}
	r.Use(s.countHits)

	r.HandleFunc("/auth/signup", s.handleSignup).Methods(http.MethodPost)
	r.Handle("/auth/login", s.rateLimitLogin(http.HandlerFunc(s.handleLogin))).Methods(http.MethodPost)
	r.HandleFunc("/auth/refresh", s.handleRefresh).Methods(http.MethodPost)
	r.HandleFunc("/auth/logout", s.handleLogout).Methods(http.MethodPost)
	r.Handle("/auth/me", s.requireAuth(http.HandlerFunc(s.handleMe))).Methods(http.MethodGet)

	r.Handle("/users/me", s.requireAuth(http.HandlerFunc(s.handleUpdateProfile))).Methods(http.MethodPatch)
	r.Handle("/users/me", s.requireAuth(http.HandlerFunc(s.handleDeleteAccount))).Methods(http.MethodDelete)
	r.Handle("/users/me/password", s.requireAuth(http.HandlerFunc(s.handleChangePassword))).Methods(http.MethodPost)

	r.HandleFunc("/oauth/{provider}/login", s.handleOAuthLogin).Methods(http.MethodGet)
	r.HandleFunc("/oauth/{provider}/callback", s.handleOAuthCallback).Methods(http.MethodGet)

	r.HandleFunc("/recommend/public/by-{kind:detection|ingredient}/{id:[0-9]+}", s.handleRecommend(false)).Methods(http.MethodGet)
	r.Handle("/recommend/private/by-{kind:detection|ingredient}/{id:[0-9]+}", s.requireAuth(s.handleRecommend(true))).Methods(http.MethodGet)

	root.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpext.JsonError(w, "Not Found", http.StatusNotFound)
	})
	return root
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) Store() *Store { return s.store }
func (s *Server) Tokens() *TokenIssuer { return s.tokens }
func (s *Server) Catalog() *Catalog { return s.catalog }
func (s *Server) RefreshCalls() int64 { return s.refreshCalls.Load() }
func (s *Server) SetRefreshFailure(code int) { s.refreshFail.Store(int32(code)) }

// SetRefreshDelay slows every refresh exchange down by d.
func (s *Server) SetRefreshDelay(d time.Duration) { s.refreshDelay.Store(int64(d)) }

// Hits returns how many requests reached path, prefix excluded.
func (s *Server) Hits(path string) int {
	s.hitsMu.Lock()
	defer s.hitsMu.Unlock()
	return s.hits[path]
}

func (s *Server) countHits(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, s.opts.Prefix)
		s.hitsMu.Lock()
		s.hits[path]++
		s.hitsMu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := ExtractToken(r)
		if tokenString == "" {
			httpext.JsonError(w, "Not authenticated", http.StatusUnauthorized)
			return
		}

		userID, err := s.tokens.Validate(tokenString)
		if err != nil {
			logger.Debug(logger.MOCKAPI, "Rejected access token: %v", err)
			httpext.JsonError(w, "Could not validate credentials", http.StatusUnauthorized)
			return
		}
		if _, ok := s.store.User(userID); !ok {
			httpext.JsonError(w, "User not found", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, userID)))
	})
}

func (s *Server) rateLimitLogin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.Header.Get("X-Forwarded-For")
		if ip == "" {
			ip = r.RemoteAddr
			if i := strings.LastIndex(ip, ":"); i > 0 {
				ip = ip[:i]
			}
		}
		if !s.limiter.Allow(ip) {
			logger.Warn(logger.MOCKAPI, "Login rate limit exceeded for %s", ip)
			httpext.JsonError(w, "Too many login attempts", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func userIDFrom(r *http.Request) int64 {
	id, _ := r.Context().Value(ctxKey{}).(int64)
	return id
}

func decode(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return errors.New("missing body")
	}
	return json.NewDecoder(r.Body).Decode(v)
}

func validationError(w http.ResponseWriter, field, msg string) {
	httpext.JsonErrorWithDetails(w, http.StatusUnprocessableEntity, httpext.ErrorResponse{
		Detail: []httpext.ValidationEntry{{Loc: []interface{}{"body", field}, Msg: msg, Type: "value_error"}},
	})
}

func (s *Server) issue(w http.ResponseWriter, userID int64) {
	access, err := s.tokens.Issue(userID)
	if err != nil {
		httpext.JsonError(w, "Failed to issue token", http.StatusInternalServerError)
		return
	}
	session := s.store.CreateSession(userID)
	httpext.JsonResponse(w, http.StatusOK, auth.TokenResponse{
		AccessToken:  access,
		TokenType:    "bearer",
		RefreshToken: session.RefreshToken,
	})
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req auth.SignupRequest
	if err := decode(r, &req); err != nil {
		httpext.JsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	switch {
	case req.Username == "":
		validationError(w, "username", "field required")
		return
	case !strings.Contains(req.Email, "@"):
		validationError(w, "email", "value is not a valid email address")
		return
	case len(req.Password) < 8:
		validationError(w, "password", "ensure this value has at least 8 characters")
		return
	case len(req.Password) > 72:
		validationError(w, "password", "ensure this value has at most 72 characters")
		return
	}

	user, err := s.store.CreateUser(req)
	if errors.Is(err, ErrEmailTaken) {
		httpext.JsonError(w, "Email already registered", http.StatusBadRequest)
		return
	}
	if err != nil {
		httpext.JsonError(w, "Failed to create user", http.StatusInternalServerError)
		return
	}
	logger.Info(logger.MOCKAPI, "Registered user %d", user.ID)
	httpext.JsonResponse(w, http.StatusOK, user)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := decode(r, &req); err != nil {
		httpext.JsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	user, err := s.store.Authenticate(req.Email, req.Password)
	switch {
	case errors.Is(err, ErrNoSuchUser):
		httpext.JsonError(w, "Invalid credentials", http.StatusUnauthorized)
		return
	case errors.Is(err, ErrBadPassword):
		httpext.JsonError(w, "Incorrect password", http.StatusUnauthorized)
		return
	case err != nil:
		httpext.JsonError(w, "Login failed", http.StatusInternalServerError)
		return
	}
	s.issue(w, user.ID)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.refreshCalls.Add(1)
	if d := time.Duration(s.refreshDelay.Load()); d > 0 {
		time.Sleep(d)
	}
	if code := int(s.refreshFail.Load()); code != 0 {
		httpext.JsonError(w, "Refresh disabled", code)
		return
	}

	var req auth.RefreshRequest
	if err := decode(r, &req); err != nil || req.RefreshToken == "" {
		validationError(w, "refresh_token", "field required")
		return
	}

	session, ok := s.store.RefreshSession(req.RefreshToken, s.opts.RotateRefreshTokens)
	if !ok {
		httpext.JsonError(w, "Invalid or expired refresh token", http.StatusUnauthorized)
		return
	}

	access, err := s.tokens.Issue(session.UserID)
	if err != nil {
		httpext.JsonError(w, "Failed to issue token", http.StatusInternalServerError)
		return
	}

	resp := auth.TokenResponse{AccessToken: access, TokenType: "bearer"}
	if s.opts.RotateRefreshTokens {
		resp.RefreshToken = session.RefreshToken
	}
	httpext.JsonResponse(w, http.StatusOK, resp)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req auth.LogoutRequest
	if err := decode(r, &req); err == nil && req.RefreshToken != "" {
		s.store.RevokeSession(req.RefreshToken)
	}
	httpext.JsonResponse(w, http.StatusOK, map[string]string{"message": "Logged out successfully"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := s.store.User(userIDFrom(r))
	if !ok {
		httpext.JsonError(w, "User not found", http.StatusNotFound)
		return
	}
	httpext.JsonResponse(w, http.StatusOK, user)
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var update auth.ProfileUpdate
	if err := decode(r, &update); err != nil {
		httpext.JsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	user, err := s.store.UpdateProfile(userIDFrom(r), update)
	if err != nil {
		httpext.JsonError(w, "User not found", http.StatusNotFound)
		return
	}
	httpext.JsonResponse(w, http.StatusOK, user)
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteUser(userIDFrom(r)); err != nil {
		httpext.JsonError(w, "User not found", http.StatusNotFound)
		return
	}
	httpext.JsonResponse(w, http.StatusOK, map[string]string{"message": "User deleted"})
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req auth.PasswordChange
	if err := decode(r, &req); err != nil {
		httpext.JsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.NewPassword != req.NewPasswordCheck {
		httpext.JsonError(w, "New passwords do not match", http.StatusBadRequest)
		return
	}
	if len(req.NewPassword) < 8 || len(req.NewPassword) > 72 {
		validationError(w, "new_password", "ensure this value has between 8 and 72 characters")
		return
	}
	err := s.store.ChangePassword(userIDFrom(r), req.CurrentPassword, req.NewPassword)
	switch {
	case errors.Is(err, ErrBadPassword):
		httpext.JsonError(w, "Current password is incorrect", http.StatusBadRequest)
		return
	case err != nil:
		httpext.JsonError(w, "Failed to update password", http.StatusInternalServerError)
		return
	}
	httpext.JsonResponse(w, http.StatusOK, map[string]string{"message": "Password updated"})
}

func (s *Server) handleOAuthLogin(w http.ResponseWriter, r *http.Request) {
	provider := mux.Vars(r)["provider"]
	if !auth.ValidProvider(provider) {
		httpext.JsonError(w, "Unsupported provider", http.StatusNotFound)
		return
	}

	state := uuid.NewString()
	s.oauthStatesMu.Lock()
	s.oauthStates[state] = provider
	s.oauthStatesMu.Unlock()

	q := url.Values{
		"state":         {state},
		"response_type": {"code"},
		"redirect_uri":  {"/oauth/" + provider + "/callback"},
	}
	http.Redirect(w, r, "https://"+provider+".oauth.example/authorize?"+q.Encode(), http.StatusFound)
}

// handleOAuthCallback treats the authorization code as the provider's user
// id. Kakao does not round-trip state.
func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	provider := mux.Vars(r)["provider"]
	if !auth.ValidProvider(provider) {
		httpext.JsonError(w, "Unsupported provider", http.StatusNotFound)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		httpext.JsonError(w, "Missing authorization code", http.StatusBadRequest)
		return
	}

	if provider != auth.ProviderKakao {
		state := r.URL.Query().Get("state")
		s.oauthStatesMu.Lock()
		owner, ok := s.oauthStates[state]
		delete(s.oauthStates, state)
		s.oauthStatesMu.Unlock()
		if !ok || owner != provider {
			httpext.JsonError(w, "Invalid OAuth state", http.StatusBadRequest)
			return
		}
	}

	user := s.store.OAuthUser(provider, code)
	s.issue(w, user.ID)
}

func (s *Server) handleRecommend(private bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		id, err := strconv.ParseInt(vars["id"], 10, 64)
		if err != nil {
			httpext.JsonError(w, "Invalid id", http.StatusBadRequest)
			return
		}

		res := s.catalog.Lookup(vars["kind"], id, private, userIDFrom(r))
		if res.status != http.StatusOK {
			httpext.JsonError(w, res.detail, res.status)
			return
		}
		httpext.JsonResponse(w, http.StatusOK, res.recipes)
	}
}

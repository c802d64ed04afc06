package mockapi

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/snapncook/snapclient/internal/auth"
)

var (
	ErrEmailTaken   = errors.New("email already registered")
	ErrNoSuchUser   = errors.New("invalid credentials")
	ErrBadPassword  = errors.New("incorrect password")
	ErrUserNotFound = errors.New("user not found")
)

type account struct {
	user auth.User
	// passwordHash is empty for accounts created through OAuth.
	passwordHash string
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

func (a *account) checkPassword(password string) bool {
	return a.passwordHash != "" && bcrypt.CompareHashAndPassword([]byte(a.passwordHash), []byte(password)) == nil
}

// RefreshSession is one single-use refresh token.
type RefreshSession struct {
	UserID       int64
	RefreshToken string
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// Store keeps accounts and refresh sessions in memory.
type Store struct {
	mu         sync.RWMutex
	accounts   map[int64]*account
	byEmail    map[string]int64
	byOAuth    map[string]int64
	sessions   map[string]RefreshSession
	nextUserID int64
	refreshTTL time.Duration
	now        func() time.Time
}

func NewStore(refreshTTL time.Duration) *Store {
	return &Store{
		accounts:   make(map[int64]*account),
		byEmail:    make(map[string]int64),
		byOAuth:    make(map[string]int64),
		sessions:   make(map[string]RefreshSession),
		nextUserID: 1,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

func (s *Store) CreateUser(req auth.SignupRequest) (auth.User, error) {
	hash, err := hashPassword(req.Password)
	if err != nil {
		return auth.User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(req.Email)
	if _, exists := s.byEmail[email]; exists {
		return auth.User{}, ErrEmailTaken
	}

	user := auth.User{
		ID:              s.nextUserID,
		Username:        req.Username,
		Email:           email,
		Nickname:        req.Nickname,
		ProfileImageURL: req.ProfileImageURL,
	}
	s.nextUserID++
	s.accounts[user.ID] = &account{user: user, passwordHash: hash}
	s.byEmail[email] = user.ID
	return user, nil
}

// OAuthUser returns the account linked to provider/subject, creating it on
// first sign-in.
func (s *Store) OAuthUser(provider, subject string) auth.User {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := provider + ":" + subject
	if id, ok := s.byOAuth[key]; ok {
		return s.accounts[id].user
	}

	user := auth.User{
		ID:            s.nextUserID,
		Username:      provider + "_" + subject,
		Email:         subject + "@" + provider + ".oauth",
		OAuthProvider: provider,
		OAuthID:       subject,
	}
	s.nextUserID++
	s.accounts[user.ID] = &account{user: user}
	s.byOAuth[key] = user.ID
	s.byEmail[user.Email] = user.ID
	return user
}

func (s *Store) Authenticate(email, password string) (auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return auth.User{}, ErrNoSuchUser
	}
	if !s.accounts[id].checkPassword(password) {
		return auth.User{}, ErrBadPassword
	}
	return s.accounts[id].user, nil
}

func (s *Store) User(id int64) (auth.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[id]
	if !ok {
		return auth.User{}, false
	}
	return acc.user, true
}

func (s *Store) UpdateProfile(id int64, update auth.ProfileUpdate) (auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[id]
	if !ok {
		return auth.User{}, ErrUserNotFound
	}
	if update.Nickname != nil {
		acc.user.Nickname = *update.Nickname
	}
	if update.ProfileImageURL != nil {
		acc.user.ProfileImageURL = *update.ProfileImageURL
	}
	return acc.user, nil
}

func (s *Store) ChangePassword(id int64, current, next string) error {
	hash, err := hashPassword(next)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[id]
	if !ok {
		return ErrUserNotFound
	}
	if !acc.checkPassword(current) {
		return ErrBadPassword
	}
	acc.passwordHash = hash
	return nil
}

// DeleteUser removes the account and every refresh session it owns.
func (s *Store) DeleteUser(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[id]
	if !ok {
		return ErrUserNotFound
	}
	delete(s.accounts, id)
	delete(s.byEmail, acc.user.Email)
	if acc.user.OAuthProvider != "" {
		delete(s.byOAuth, acc.user.OAuthProvider+":"+acc.user.OAuthID)
	}
	for token, session := range s.sessions {
		if session.UserID == id {
			delete(s.sessions, token)
		}
	}
	return nil
}

func (s *Store) CreateSession(userID int64) RefreshSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	session := RefreshSession{
		UserID:       userID,
		RefreshToken: uuid.NewString(),
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.refreshTTL),
	}
	s.sessions[session.RefreshToken] = session
	return session
}

// RefreshSession consumes oldRefreshToken. With rotate the caller gets a new
// single-use token; without it the old token stays valid.
func (s *Store) RefreshSession(oldRefreshToken string, rotate bool) (RefreshSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, exists := s.sessions[oldRefreshToken]
	if !exists || s.now().After(old.ExpiresAt) {
		delete(s.sessions, oldRefreshToken)
		return RefreshSession{}, false
	}
	if _, ok := s.accounts[old.UserID]; !ok {
		return RefreshSession{}, false
	}
	if !rotate {
		return old, true
	}

	next := RefreshSession{
		UserID:       old.UserID,
		RefreshToken: uuid.NewString(),
		CreatedAt:    s.now(),
		ExpiresAt:    s.now().Add(s.refreshTTL),
	}
	delete(s.sessions, oldRefreshToken)
	s.sessions[next.RefreshToken] = next
	return next, true
}

// RevokeSession forgets a refresh token. Unknown tokens are ignored.
func (s *Store) RevokeSession(refreshToken string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, refreshToken)
}

// RevokeAll drops every refresh session, forcing the next refresh to fail.
func (s *Store) RevokeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]RefreshSession)
}

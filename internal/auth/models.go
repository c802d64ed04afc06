package auth

import (
	"time"
)

// Credentials is the bearer pair held by the client. At most one pair
// exists per store.
type Credentials struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	IssuedAt     time.Time `json:"issued_at"`
}

// Rotate applies a refresh response. A response that omits the refresh
// token keeps the previous one.
func (c Credentials) Rotate(resp TokenResponse, now time.Time) Credentials {
	next := Credentials{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		IssuedAt:     now,
	}
	if next.RefreshToken == "" {
		next.RefreshToken = c.RefreshToken
	}
	return next
}

// FromTokenResponse builds a brand new pair. Unlike Rotate it never
// inherits anything from an earlier pair.
func FromTokenResponse(resp TokenResponse, now time.Time) Credentials {
	return Credentials{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		IssuedAt:     now,
	}
}

type User struct {
	ID              int64  `json:"id"`
	Username        string `json:"username"`
	Email           string `json:"email"`
	Nickname        string `json:"nickname,omitempty"`
	ProfileImageURL string `json:"profile_image_url,omitempty"`
	OAuthProvider   string `json:"oauth_provider,omitempty"`
	OAuthID         string `json:"oauth_id,omitempty"`
}

// DisplayName prefers the nickname over the username.
func (u User) DisplayName() string {
	if u.Nickname != "" {
		return u.Nickname
	}
	if u.Username != "" {
		return u.Username
	}
	return u.Email
}

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SignupRequest struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	Nickname        string `json:"nickname,omitempty"`
	ProfileImageURL string `json:"profile_image_url,omitempty"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type LogoutRequest struct {
	RefreshToken string `json:"refresh_token,omitempty"`
}

// ProfileUpdate carries only the fields being changed.
type ProfileUpdate struct {
	Nickname        *string `json:"nickname,omitempty"`
	ProfileImageURL *string `json:"profile_image_url,omitempty"`
}

type PasswordChange struct {
	CurrentPassword  string `json:"current_password"`
	NewPassword      string `json:"new_password"`
	NewPasswordCheck string `json:"new_password_check"`
}

type OAuthLoginResponse struct {
	AuthorizationURL string `json:"authorization_url,omitempty"`
	URL              string `json:"url,omitempty"`
}

const (
	ProviderGoogle = "google"
	ProviderKakao  = "kakao"
	ProviderNaver  = "naver"
)

// ValidProvider reports whether provider is a supported OAuth provider.
func ValidProvider(provider string) bool {
	switch provider {
	case ProviderGoogle, ProviderKakao, ProviderNaver:
		return true
	}
	return false
}

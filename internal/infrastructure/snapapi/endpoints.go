package snapapi

import (
	"fmt"
)

const (
	AuthLogin   = "/auth/login"
	AuthSignup  = "/auth/signup"
	AuthRefresh = "/auth/refresh"
	AuthLogout  = "/auth/logout"
	AuthMe      = "/auth/me"

	UsersMe         = "/users/me"
	UsersMePassword = "/users/me/password"
)

func OAuthLogin(provider string) string {
	return fmt.Sprintf("/oauth/%s/login", provider)
}

func OAuthCallback(provider string) string {
	return fmt.Sprintf("/oauth/%s/callback", provider)
}

// Recommend builds /recommend/{private|public}/by-{kind}/{id}.
func Recommend(private bool, kind string, id int64) string {
	scope := "public"
	if private {
		scope = "private"
	}
	return fmt.Sprintf("/recommend/%s/by-%s/%d", scope, kind, id)
}

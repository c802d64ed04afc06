package session

import (
	"context"
	"strings"
)

// DefaultProtectedPaths are the routes that require a signed-in user.
var DefaultProtectedPaths = []string{"/mypage", "/mypage/favorites", "/mypage/uploads"}

type Decision struct {
	Allow      bool   `json:"allow"`
	RedirectTo string `json:"redirect_to,omitempty"`
}

// Guard decides whether a route may be entered given the session state.
type Guard struct {
	session   *Service
	loginPath string
	protected []string
}

func NewGuard(s *Service, protected ...string) *Guard {
	if len(protected) == 0 {
		protected = DefaultProtectedPaths
	}
	return &Guard{session: s, loginPath: s.loginPath, protected: protected}
}

// IsProtected matches a protected path exactly or any path beneath it.
func (g *Guard) IsProtected(path string) bool {
	path = strings.TrimRight(path, "/")
	for _, p := range g.protected {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

// Check never decides on Unknown: it waits for the session to resolve.
func (g *Guard) Check(ctx context.Context, path string) (Decision, error) {
	if !g.IsProtected(path) {
		return Decision{Allow: true}, nil
	}

	snap, err := g.session.WaitResolved(ctx)
	if err != nil {
		return Decision{}, err
	}
	if snap.State == StateAuthenticated {
		return Decision{Allow: true}, nil
	}
	return Decision{RedirectTo: g.loginPath}, nil
}

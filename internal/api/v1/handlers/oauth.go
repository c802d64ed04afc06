package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/snapncook/snapclient/internal/services/session"
	"github.com/snapncook/snapclient/pkg/httpext"
)

// HandleOAuthLogin redirects the browser to the provider's consent page.
func HandleOAuthLogin(sessionService *session.Service, w http.ResponseWriter, r *http.Request) {
	provider := mux.Vars(r)["provider"]

	authorizeURL, err := sessionService.OAuthLoginURL(r.Context(), provider)
	if err != nil {
		writeError(w, "oauth login", err)
		return
	}
	http.Redirect(w, r, authorizeURL, http.StatusFound)
}

// HandleOAuthCallback completes a provider login with the code and state
// the provider appended to the redirect.
func HandleOAuthCallback(sessionService *session.Service, w http.ResponseWriter, r *http.Request) {
	provider := mux.Vars(r)["provider"]
	q := r.URL.Query()

	if e := q.Get("error"); e != "" {
		httpext.JsonError(w, "Provider denied the login: "+e, http.StatusBadRequest)
		return
	}

	user, err := sessionService.OAuthCallback(r.Context(), provider, q.Get("code"), q.Get("state"))
	if err != nil {
		writeError(w, "oauth callback", err)
		return
	}
	httpext.JsonResponse(w, http.StatusOK, user)
}

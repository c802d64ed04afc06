package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/snapncook/snapclient/internal/auth"
	"github.com/snapncook/snapclient/internal/services/session"
	"github.com/snapncook/snapclient/pkg/httpext"
	"github.com/snapncook/snapclient/pkg/logger"
)

type MessageResponse struct {
	Message string `json:"message"`
	Warning string `json:"warning,omitempty"`
}

// HandleSession returns the current session snapshot.
func HandleSession(sessionService *session.Service, w http.ResponseWriter, r *http.Request) {
	httpext.JsonResponse(w, http.StatusOK, sessionService.Snapshot())
}

func HandleLogin(sessionService *session.Service, w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpext.JsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Email == "" || req.Password == "" {
		httpext.JsonError(w, "Email and password are required", http.StatusBadRequest)
		return
	}

	user, err := sessionService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, "login", err)
		return
	}
	httpext.JsonResponse(w, http.StatusOK, user)
}

// HandleLogout always ends the local session. A failed remote logout is
// reported as a warning, not an error.
func HandleLogout(sessionService *session.Service, w http.ResponseWriter, r *http.Request) {
	resp := MessageResponse{Message: "Logged out"}
	if err := sessionService.Logout(r.Context()); err != nil {
		logger.Warn(logger.HANDLER, "Logout completed with errors: %v", err)
		resp.Warning = err.Error()
	}
	httpext.JsonResponse(w, http.StatusOK, resp)
}

func HandleSignup(sessionService *session.Service, w http.ResponseWriter, r *http.Request) {
	var req auth.SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpext.JsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	user, err := sessionService.Signup(r.Context(), req)
	if err != nil {
		writeError(w, "signup", err)
		return
	}
	httpext.JsonResponse(w, http.StatusCreated, user)
}

// HandleAckRedirect clears the pending redirect signal.
func HandleAckRedirect(sessionService *session.Service, w http.ResponseWriter, r *http.Request) {
	sessionService.AckRedirect()
	httpext.JsonResponse(w, http.StatusOK, sessionService.Snapshot())
}

func HandleGetProfile(sessionService *session.Service, w http.ResponseWriter, r *http.Request) {
	user, err := sessionService.RefreshProfile(r.Context())
	if err != nil {
		writeError(w, "profile", err)
		return
	}
	httpext.JsonResponse(w, http.StatusOK, user)
}

func HandleUpdateProfile(sessionService *session.Service, w http.ResponseWriter, r *http.Request) {
	var update auth.ProfileUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		httpext.JsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	user, err := sessionService.UpdateProfile(r.Context(), update)
	if err != nil {
		writeError(w, "update profile", err)
		return
	}
	httpext.JsonResponse(w, http.StatusOK, user)
}

func HandleChangePassword(sessionService *session.Service, w http.ResponseWriter, r *http.Request) {
	var change auth.PasswordChange
	if err := json.NewDecoder(r.Body).Decode(&change); err != nil {
		httpext.JsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := sessionService.ChangePassword(r.Context(), change); err != nil {
		writeError(w, "change password", err)
		return
	}
	httpext.JsonResponse(w, http.StatusOK, MessageResponse{Message: "Password updated"})
}

func HandleDeleteAccount(sessionService *session.Service, w http.ResponseWriter, r *http.Request) {
	if err := sessionService.DeleteAccount(r.Context()); err != nil {
		writeError(w, "delete account", err)
		return
	}
	httpext.JsonResponse(w, http.StatusOK, MessageResponse{Message: "Account deleted"})
}

// HandleRoute answers whether the UI may enter ?path=.
func HandleRoute(guard *session.Guard, w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		httpext.JsonError(w, "path is required", http.StatusBadRequest)
		return
	}

	decision, err := guard.Check(r.Context(), path)
	if err != nil {
		httpext.JsonError(w, "Session not ready", http.StatusServiceUnavailable)
		return
	}
	httpext.JsonResponse(w, http.StatusOK, decision)
}

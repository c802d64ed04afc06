package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	v1ws "github.com/snapncook/snapclient/internal/api/v1/handlers/websocket"
	v1mware "github.com/snapncook/snapclient/internal/api/v1/middleware"
	"github.com/snapncook/snapclient/internal/connections"
	"github.com/snapncook/snapclient/internal/services"
)

func RegisterV1Routes(router *mux.Router, services *services.Services, manager *connections.Manager) {
	sessionService := services.GetSessionService()

	// v1 routes
	v1 := router.PathPrefix("/v1").Subrouter()

	// Public v1 routes
	v1publicRouter := v1.NewRoute().Subrouter()
	v1publicRouter.HandleFunc("/session", func(w http.ResponseWriter, r *http.Request) {
		HandleSession(sessionService, w, r)
	}).Methods("GET")
	v1publicRouter.HandleFunc("/session/stream", func(w http.ResponseWriter, r *http.Request) {
		v1ws.HandleSessionStream(manager, sessionService, w, r)
	}).Methods("GET")
	v1publicRouter.HandleFunc("/session/redirect/ack", func(w http.ResponseWriter, r *http.Request) {
		HandleAckRedirect(sessionService, w, r)
	}).Methods("POST")
	v1publicRouter.Handle("/session/login", v1mware.RateLimit("session_login")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		HandleLogin(sessionService, w, r)
	}))).Methods("POST")
	v1publicRouter.HandleFunc("/session/logout", func(w http.ResponseWriter, r *http.Request) {
		HandleLogout(sessionService, w, r)
	}).Methods("POST")
	v1publicRouter.HandleFunc("/signup", func(w http.ResponseWriter, r *http.Request) {
		HandleSignup(sessionService, w, r)
	}).Methods("POST")
	v1publicRouter.HandleFunc("/route", func(w http.ResponseWriter, r *http.Request) {
		HandleRoute(services.GetGuard(), w, r)
	}).Methods("GET")
	v1publicRouter.Handle("/recommend/{kind}/{id}", v1mware.RateLimit("recommend")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		HandleRecommend(services.GetRecommendService(), w, r)
	}))).Methods("GET")

	// OAuth v1 routes
	v1oauthRouter := v1.PathPrefix("/oauth/{provider}").Subrouter()
	v1oauthRouter.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		HandleOAuthLogin(sessionService, w, r)
	}).Methods("GET")
	v1oauthRouter.Handle("/callback", v1mware.RateLimit("oauth_callback")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		HandleOAuthCallback(sessionService, w, r)
	}))).Methods("GET")

	// Protected v1 routes (require a signed-in session)
	v1protectedRouter := v1.PathPrefix("/me").Subrouter()
	v1protectedRouter.Use(v1mware.RequireSession(sessionService))
	v1protectedRouter.HandleFunc("", func(w http.ResponseWriter, r *http.Request) {
		HandleGetProfile(sessionService, w, r)
	}).Methods("GET")
	v1protectedRouter.HandleFunc("", func(w http.ResponseWriter, r *http.Request) {
		HandleUpdateProfile(sessionService, w, r)
	}).Methods("PATCH")
	v1protectedRouter.HandleFunc("", func(w http.ResponseWriter, r *http.Request) {
		HandleDeleteAccount(sessionService, w, r)
	}).Methods("DELETE")
	v1protectedRouter.HandleFunc("/password", func(w http.ResponseWriter, r *http.Request) {
		HandleChangePassword(sessionService, w, r)
	}).Methods("POST")
}

package routes

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	v1handlers "github.com/snapncook/snapclient/internal/api/v1/handlers"
	"github.com/snapncook/snapclient/internal/connections"
	"github.com/snapncook/snapclient/internal/services"
	"github.com/snapncook/snapclient/pkg/httpext"
)

// NewRouter builds the local session bridge. gatherer may be nil, in which
// case /metrics is not served.
func NewRouter(services *services.Services, manager *connections.Manager, gatherer prometheus.Gatherer) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		snap := services.GetSessionService().Snapshot()
		httpext.JsonResponse(w, http.StatusOK, map[string]interface{}{
			"status":  "ok",
			"session": snap.State,
			"refresh": services.GetCoordinator().State().String(),
			"streams": manager.GetConnectionCount(),
		})
	}).Methods("GET")

	if gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}

	v1handlers.RegisterV1Routes(router, services, manager)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpext.JsonError(w, "Not Found", http.StatusNotFound)
	})
	return router
}

package server

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Routes returns the relay's complete HTTP handler: WebSocket upgrades on
// any path go to the relay, everything else to the plain HTTP routes.
func (r *Relay) Routes() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/health", HealthHandler).Methods(http.MethodGet)
	router.HandleFunc("/stats", r.StatsHandler).Methods(http.MethodGet)
	router.HandleFunc("/test", r.TestPageHandler).Methods(http.MethodGet)
	return r.Middleware(router)
}

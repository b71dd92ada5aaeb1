// Package diag exposes server statistics over a plain net/http endpoint, for
// sidecar ports that should not depend on the engine they observe.
package diag

import (
	"encoding/json"
	"net/http"

	hopper "github.com/freekieb7/hopper/http"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// StatsSource is implemented by *hopper.Server.
type StatsSource interface {
	Stats() hopper.ServerStats
}

// Handler serves /stats as JSON and /healthz, which turns 503 once the server
// is shutting down.
func Handler(src StatsSource) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(src.Stats()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if src.Stats().ShuttingDown {
			http.Error(w, "shutting down", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok\n"))
	})
	return otelhttp.NewHandler(mux, "diag")
}

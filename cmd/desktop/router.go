package main

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/avanzando/mobilecore/cmd/desktop/handlers"
	"github.com/avanzando/mobilecore/internal/core"
	"github.com/avanzando/mobilecore/internal/logging"
)

const serviceName = "avanzando-core-desktop"

// NewRouter registers the REST API and the WebSocket endpoint.
func NewRouter(c *core.Core, hub *WSHub) *mux.Router {
	syncHandler := handlers.NewSyncHandler(c.Service, c.Monitor)
	sessionHandler := handlers.NewSessionHandler(c.Tokens)

	r := mux.NewRouter()
	r.HandleFunc("/ws", HandleWebSocket(hub)).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(recoveryMiddleware)
	api.Use(loggingMiddleware)

	api.HandleFunc("/health", healthHandler).Methods(http.MethodGet)

	api.HandleFunc("/sync/status", syncHandler.GetStatus).Methods(http.MethodGet)
	api.HandleFunc("/sync/pending", syncHandler.ListPending).Methods(http.MethodGet)
	api.HandleFunc("/sync/pending/{id}", syncHandler.DiscardPending).Methods(http.MethodDelete)
	api.HandleFunc("/sync/now", syncHandler.SyncNow).Methods(http.MethodPost)

	api.HandleFunc("/actions", syncHandler.SubmitAction).Methods(http.MethodPost)
	api.HandleFunc("/connectivity", syncHandler.SetConnectivity).Methods(http.MethodPut)

	api.HandleFunc("/session/token", sessionHandler.SaveToken).Methods(http.MethodPut)
	api.HandleFunc("/session/token", sessionHandler.ClearToken).Methods(http.MethodDelete)

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok","service":"` + serviceName + `"}`))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		logging.Debug("HTTP request", map[string]interface{}{
			"component":   "http",
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rec.status,
			"duration_ms": time.Since(start).Milliseconds(),
		})
	})
}

func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logging.Error("Handler panicked", nil, map[string]interface{}{
					"component": "http",
					"path":      r.URL.Path,
					"panic":     rec,
				})
				http.Error(w, "Internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

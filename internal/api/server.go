package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/shehryarbajwa/cdp-mini/internal/proxy"
	"github.com/shehryarbajwa/cdp-mini/internal/ratelimit"
)

// SetupRoutes configures all HTTP routes. profileHandler and rateLimiter may
// be nil.
func (h *Handler) SetupRoutes(profileHandler *ProfileHandler, proxyServer *proxy.Server, rateLimiter *ratelimit.Limiter) *mux.Router {
	r := mux.NewRouter()
	r.Use(LoggingMiddleware(h.log))

	// API v1 routes
	api := r.PathPrefix("/v1").Subrouter()

	// Session and action endpoints are rate limited
	limited := api.PathPrefix("").Subrouter()
	if rateLimiter != nil {
		limited.Use(RateLimitMiddleware(rateLimiter))
	}
	limited.HandleFunc("/sessions", h.CreateSession).Methods(http.MethodPost)
	limited.HandleFunc("/sessions", h.ListSessions).Methods(http.MethodGet)
	limited.HandleFunc("/sessions/{id}", h.GetSession).Methods(http.MethodGet)
	limited.HandleFunc("/sessions/{id}", h.DeleteSession).Methods(http.MethodDelete)
	limited.HandleFunc("/sessions/{id}/navigate", h.NavigateSession).Methods(http.MethodPost)
	limited.HandleFunc("/sessions/{id}/evaluate", h.EvaluateSession).Methods(http.MethodPost)
	limited.HandleFunc("/sessions/{id}/query", h.QuerySession).Methods(http.MethodPost)
	limited.HandleFunc("/sessions/{id}/click", h.ClickSession).Methods(http.MethodPost)
	limited.HandleFunc("/sessions/{id}/type", h.TypeSession).Methods(http.MethodPost)
	limited.HandleFunc("/sessions/{id}/viewport", h.SetViewport).Methods(http.MethodPost)
	limited.HandleFunc("/targets", h.ListTargets).Methods(http.MethodGet)
	limited.HandleFunc("/browser", h.GetBrowser).Methods(http.MethodGet)

	// Screenshot endpoint (not rate limited - frequent polling)
	api.HandleFunc("/sessions/{id}/screenshot", h.GetSessionScreenshot).Methods(http.MethodGet)

	// Debug endpoints (not rate limited)
	api.HandleFunc("/sessions/{id}/debug", h.GetDebugURL).Methods(http.MethodGet)
	if proxyServer != nil {
		api.HandleFunc("/sessions/{id}/ws", func(w http.ResponseWriter, r *http.Request) {
			proxyServer.HandleDebugConnection(w, r, mux.Vars(r)["id"])
		}).Methods(http.MethodGet)
	}

	if profileHandler != nil {
		api.HandleFunc("/profiles", profileHandler.ListProfiles).Methods(http.MethodGet)
		api.HandleFunc("/profiles/{name}", profileHandler.GetProfile).Methods(http.MethodGet)
		api.HandleFunc("/profiles/{name}", profileHandler.DeleteProfile).Methods(http.MethodDelete)
	}

	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "sessions": h.sessionMgr.OpenSessions()})
	}).Methods(http.MethodGet)

	r.Use(corsMiddleware)
	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Client-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

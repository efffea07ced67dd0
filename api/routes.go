package api

import (
	"net"
	"net/http"
	"net/http/pprof"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"reelsync/handlers"
)

// localhostOnlyMiddleware restricts access to localhost requests only
func localhostOnlyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.Host)
		if err != nil {
			host = r.Host
		}
		if host != "localhost" && host != "127.0.0.1" && host != "::1" {
			http.Error(w, "Debug endpoints only accessible from localhost", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware handles CORS for the journal proxy. Preflight requests are
// answered here with an empty 204.
func corsMiddleware(allowedOrigin string) mux.MiddlewareFunc {
	if allowedOrigin == "" {
		allowedOrigin = "*"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			if allowedOrigin != "*" {
				w.Header().Add("Vary", "Origin")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ProxyConfig configures the journal proxy surface.
type ProxyConfig struct {
	AllowedOrigin string
}

// RegisterProxy mounts the journal aggregation proxy at the router root.
func RegisterProxy(r *mux.Router, journalHandler *handlers.JournalHandler, cfg ProxyConfig) {
	proxy := r.NewRoute().MatcherFunc(isProxyPath).Subrouter()
	proxy.Use(corsMiddleware(cfg.AllowedOrigin))

	proxy.HandleFunc("/read", journalHandler.Read).Methods(http.MethodGet, http.MethodOptions)
	proxy.HandleFunc("/read/batch", journalHandler.ReadBatch).Methods(http.MethodGet, http.MethodOptions)
	proxy.HandleFunc("/health", journalHandler.Health).Methods(http.MethodGet, http.MethodOptions)

	// Preflight for any other non-agent path.
	r.MatcherFunc(func(req *http.Request, _ *mux.RouteMatch) bool {
		return req.Method == http.MethodOptions && !strings.HasPrefix(req.URL.Path, "/api/")
	}).Handler(corsMiddleware(cfg.AllowedOrigin)(http.NotFoundHandler()))
}

func isProxyPath(r *http.Request, _ *mux.RouteMatch) bool {
	switch r.URL.Path {
	case "/read", "/read/batch", "/health":
		return true
	}
	return false
}

// AgentHandlers groups the scrobble agent endpoints.
type AgentHandlers struct {
	Scrobble *handlers.ScrobbleHandler
	Trakt    *handlers.TraktHandler
	Bridge   *handlers.BridgeHandler
	Settings *handlers.UserSettingsHandler
}

// RegisterAgent mounts the scrobble agent API under /api.
func RegisterAgent(r *mux.Router, h AgentHandlers, allowedOrigins []string) {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
		MaxAge:           86400,
	})

	api := r.PathPrefix("/api").Subrouter()
	api.Use(c.Handler)

	if h.Bridge != nil {
		api.HandleFunc("/bridge", h.Bridge.Serve).Methods(http.MethodGet)
	}

	if h.Scrobble != nil {
		api.HandleFunc("/scrobble/sessions", h.Scrobble.ListSessions).Methods(http.MethodGet, http.MethodOptions)
		api.HandleFunc("/scrobble/history", h.Scrobble.History).Methods(http.MethodGet, http.MethodOptions)
		api.HandleFunc("/scrobble/sessions/{id}/confirm", h.Scrobble.Confirm).Methods(http.MethodPost, http.MethodOptions)
		api.HandleFunc("/scrobble/sessions/{id}/skip", h.Scrobble.Skip).Methods(http.MethodPost, http.MethodOptions)
		api.HandleFunc("/scrobble/sessions/{id}/stop", h.Scrobble.Stop).Methods(http.MethodPost, http.MethodOptions)
		api.HandleFunc("/scrobble/sessions/{id}/retry", h.Scrobble.Retry).Methods(http.MethodPost, http.MethodOptions)
	}

	if h.Trakt != nil {
		api.HandleFunc("/trakt/auth/start", h.Trakt.StartAuth).Methods(http.MethodPost, http.MethodOptions)
		api.HandleFunc("/trakt/auth/check/{deviceCode}", h.Trakt.CheckAuth).Methods(http.MethodGet, http.MethodOptions)
		api.HandleFunc("/trakt/auth", h.Trakt.Unlink).Methods(http.MethodDelete, http.MethodOptions)
		api.HandleFunc("/trakt/profile", h.Trakt.Profile).Methods(http.MethodGet, http.MethodOptions)
	}

	if h.Settings != nil {
		api.HandleFunc("/settings", h.Settings.GetSettings).Methods(http.MethodGet, http.MethodOptions)
		api.HandleFunc("/settings", h.Settings.PutSettings).Methods(http.MethodPut)
		api.HandleFunc("/watch/history", h.Settings.WatchHistory).Methods(http.MethodGet, http.MethodOptions)
	}
}

// RegisterDebug mounts pprof for localhost callers.
func RegisterDebug(r *mux.Router) {
	debug := r.PathPrefix("/debug/pprof").Subrouter()
	debug.Use(localhostOnlyMiddleware)
	debug.HandleFunc("/", pprof.Index)
	debug.HandleFunc("/cmdline", pprof.Cmdline)
	debug.HandleFunc("/profile", pprof.Profile)
	debug.HandleFunc("/symbol", pprof.Symbol)
	debug.HandleFunc("/trace", pprof.Trace)
	debug.PathPrefix("/").HandlerFunc(pprof.Index)
}

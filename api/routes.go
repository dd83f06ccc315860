package api

import (
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"tvguide/handlers"
	"tvguide/internal/metrics"
	"tvguide/internal/telemetry"
)

const requestIDHeader = "X-Request-ID"

// Handlers bundles everything the router mounts.
type Handlers struct {
	Guide  *handlers.GuideHandler
	Health *handlers.HealthHandler
	Logs   *handlers.LogsHandler
}

// NewRouter builds the router with the standard middleware chain.
func NewRouter(h Handlers) *mux.Router {
	r := mux.NewRouter()
	r.Use(telemetry.RecoveryMiddleware)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware)
	r.Use(corsMiddleware)
	r.Use(metrics.Middleware)

	Register(r, h)
	return r
}

// Register mounts the guide endpoints onto the provided router.
func Register(r *mux.Router, h Handlers) {
	r.HandleFunc("/tvguide.xml", h.Guide.XMLTV).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/playlist.m3u", h.Guide.Playlist).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/refresh", h.Guide.Refresh).Methods(http.MethodPost)
	r.HandleFunc("/refresh", handleOptions).Methods(http.MethodOptions)

	r.HandleFunc("/health", h.Health.Health).Methods(http.MethodGet)
	r.HandleFunc("/monitor", h.Health.Monitor).Methods(http.MethodGet)
	r.HandleFunc("/logs", h.Logs.Tail).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	// Profiling endpoints (localhost only)
	debug := r.PathPrefix("/debug/pprof").Subrouter()
	debug.Use(localhostOnlyMiddleware)
	debug.HandleFunc("/", pprof.Index)
	debug.HandleFunc("/cmdline", pprof.Cmdline)
	debug.HandleFunc("/profile", pprof.Profile)
	debug.HandleFunc("/symbol", pprof.Symbol)
	debug.HandleFunc("/trace", pprof.Trace)
	debug.Handle("/goroutine", pprof.Handler("goroutine"))
	debug.Handle("/heap", pprof.Handler("heap"))
}

// requestIDMiddleware propagates or assigns an X-Request-ID.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
			r.Header.Set(requestIDHeader, id)
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (s *statusWriter) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		log.Printf("[http] %s %s %d %s id=%s", r.Method, r.URL.Path, sw.status,
			time.Since(start).Round(time.Millisecond), r.Header.Get(requestIDHeader))
	})
}

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

// corsMiddleware handles CORS for guide routes
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		w.Header().Set("Access-Control-Expose-Headers", "ETag, Last-Modified, X-Request-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleOptions handles OPTIONS requests for CORS preflight
func handleOptions(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

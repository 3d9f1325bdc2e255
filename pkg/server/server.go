// Package server exposes the viewer over HTTP: the host-facing session API,
// the participant websockets, the runtime endpoint the content bridge calls
// and the sandboxed package content itself.
package server

import (
	"context"
	stdliberrors "errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/odvcencio/scormview/pkg/archive"
	"github.com/odvcencio/scormview/pkg/navigation"
	"github.com/odvcencio/scormview/pkg/observability"
	"github.com/odvcencio/scormview/pkg/relay"
	"github.com/odvcencio/scormview/pkg/storage"
	"github.com/odvcencio/scormview/pkg/viewer"
)

// TokenHeader carries the session token on runtime calls.
const TokenHeader = "X-Scormview-Token"

// BridgePath is where the content bridge script is served.
const BridgePath = "/bridge.js"

// Config controls the HTTP surface.
type Config struct {
	BindAddress    string
	AllowedOrigins []string
	Metrics        bool
	Version        string
}

// Server routes HTTP traffic to the viewer.
type Server struct {
	cfg      Config
	sessions *viewer.Manager
	relay    *relay.Hub
	blobs    *archive.Store
	objects  *storage.LocalStore
	logger   *observability.Logger
	router   chi.Router

	httpServer *http.Server
}

// New wires a server. objects may be nil when no package storage is
// configured.
func New(cfg Config, sessions *viewer.Manager, hub *relay.Hub, blobs *archive.Store, objects *storage.LocalStore, logger *observability.Logger) *Server {
	if cfg.BindAddress == "" {
		cfg.BindAddress = "127.0.0.1:4590"
	}
	if logger == nil {
		logger = observability.Discard()
	}
	s := &Server{
		cfg:      cfg,
		sessions: sessions,
		relay:    hub,
		blobs:    blobs,
		objects:  objects,
		logger:   logger.Component("server"),
	}
	s.router = s.routes()
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	router := chi.NewRouter()
	router.Use(s.corsMiddleware)

	router.Get("/healthz", s.handleHealthz)
	if s.cfg.Metrics {
		router.Handle("/metrics", promhttp.Handler())
	}
	router.Get(BridgePath, s.handleBridge)
	router.Get("/content/{sessionID}/*", s.handleContent)
	router.Get("/blobs/{blobID}", s.handleBlob)
	router.Get(storage.ObjectsPrefix+"*", s.handleObject)

	router.Route("/api", func(r chi.Router) {
		r.Use(s.securityHeadersMiddleware)
		r.Get("/packages", s.handleListPackages)
		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.handleListSessions)
			r.Post("/", s.handleCreateSession)
			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", s.handleGetSession)
				r.Delete("/", s.handleCloseSession)
				r.Post("/retry", s.handleRetry)
				r.Post("/reload", s.handleReload)
				r.Post("/home", s.handleHome)
				r.Post("/toggle-navigation", s.handleToggleNavigation)
				r.Post("/toggle-menu", s.handleToggleMenu)
				r.Post("/navigate", s.handleNavigate)
				r.Post("/commit", s.handleCommit)
				r.Get("/status", s.handleStatus)
				r.Get("/controls", s.handleControls)
				r.Get("/files", s.handleFiles)
				r.Get("/events", s.handleEvents)
				r.Get("/ws", s.handleWS)
				r.Post("/runtime", s.handleRuntime)
			})
		})
	})
	return router
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	h2s := &http2.Server{}
	s.httpServer = &http.Server{
		Addr:              s.cfg.BindAddress,
		Handler:           h2c.NewHandler(s.router, h2s),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
		MaxHeaderBytes:    1 << 20,
	}

	serverErr := make(chan error, 1)
	go func() {
		s.logger.Info("serving viewer", slog.String("bind", s.cfg.BindAddress))
		if err := s.httpServer.ListenAndServe(); err != nil && !stdliberrors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if s.relay != nil {
			s.relay.Shutdown()
		}
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-serverErr:
		return err
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"version":  s.cfg.Version,
		"sessions": len(s.sessions.List()),
		"time":     time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleBridge(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(navigation.BridgeScript())
}

// corsMiddleware lets configured host origins call the API.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.isOriginAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+TokenHeader)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) isOriginAllowed(origin string) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return false
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		allowed = strings.TrimSpace(allowed)
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// securityHeadersMiddleware adds standard security headers to API responses.
func (s *Server) securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers := w.Header()
		headers.Set("X-Content-Type-Options", "nosniff")
		headers.Set("X-Frame-Options", "DENY")
		headers.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

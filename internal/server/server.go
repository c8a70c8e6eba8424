// Package server exposes the Atlas REST API and WebSocket endpoint.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ssd-technologies/atlas/internal/agent"
	"github.com/ssd-technologies/atlas/internal/analytics"
	"github.com/ssd-technologies/atlas/internal/apperr"
	"github.com/ssd-technologies/atlas/internal/audit"
	"github.com/ssd-technologies/atlas/internal/auth"
	"github.com/ssd-technologies/atlas/internal/config"
	"github.com/ssd-technologies/atlas/internal/notify"
	"github.com/ssd-technologies/atlas/internal/ratelimit"
	"github.com/ssd-technologies/atlas/internal/storage"
	"github.com/ssd-technologies/atlas/internal/tasks"
)

// Server is the main HTTP server for the Atlas API.
type Server struct {
	cfg       config.Config
	db        *storage.DB
	accounts  *auth.Service
	authn     *auth.Authenticator
	agents    *agent.Registry
	tasks     *tasks.Manager
	audit     *audit.Log
	analytics *analytics.Service
	hub       *notify.Hub
	limiter   *ratelimit.Keyed
	router    chi.Router
	now       func() time.Time
}

// New creates a new Server with all routes registered.
func New(cfg config.Config, db *storage.DB) *Server {
	issuer := auth.NewIssuer(cfg.JWT)
	hub := notify.NewHub(notify.DefaultQueueSize)
	s := &Server{
		cfg:       cfg,
		db:        db,
		accounts:  auth.NewService(db, issuer),
		authn:     auth.NewAuthenticator(issuer, db),
		agents:    agent.NewRegistry(db, issuer),
		tasks:     tasks.NewManager(db, hub),
		audit:     audit.New(db),
		analytics: analytics.NewService(db),
		hub:       hub,
		router:    chi.NewRouter(),
		now:       time.Now,
	}
	if cfg.RateLimit.Requests > 0 {
		s.limiter = ratelimit.NewKeyed(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Hub returns the event hub so callers can close subscribers on shutdown.
func (s *Server) Hub() *notify.Hub {
	return s.hub
}

// Accounts returns the account service.
func (s *Server) Accounts() *auth.Service {
	return s.accounts
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if s.cfg.Server.Env != config.Test {
		r.Use(middleware.Logger)
	}
	r.Use(s.recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORS.Origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/ws", notify.HandleWebSocket(s.hub, s.authn.Authenticate))

		r.Group(func(r chi.Router) {
			r.Use(s.rateLimit)
			s.authRoutes(r)
			s.agentRoutes(r)
			s.taskRoutes(r)
			s.logRoutes(r)
			s.analyticsRoutes(r)
			s.userRoutes(r)
		})
	})
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := s.db.Ping(); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, envelope{
		Success: code == http.StatusOK,
		Data: map[string]any{
			"status":      status,
			"service":     "atlas",
			"timestamp":   s.now().UTC(),
			"environment": s.cfg.Server.Env,
			"websocket":   s.hub.Stats(),
		},
	})
}

// envelope is the shape of every JSON response.
type envelope struct {
	Success    bool                `json:"success"`
	Message    string              `json:"message,omitempty"`
	Data       any                 `json:"data,omitempty"`
	Pagination *storage.Pagination `json:"pagination,omitempty"`
	Stack      string              `json:"stack,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Success: false, Message: msg})
}

func ok(w http.ResponseWriter, message string, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: message, Data: data})
}

func created(w http.ResponseWriter, message string, data any) {
	writeJSON(w, http.StatusCreated, envelope{Success: true, Message: message, Data: data})
}

func page(w http.ResponseWriter, data any, p storage.Pagination) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data, Pagination: &p})
}

// decode reads a JSON request body into v. Validation errors raised while
// decoding a field keep their message.
func decode(r *http.Request, v any) error {
	if r.Body == nil {
		return errInvalidBody
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if apperr.KindOf(err) == apperr.Validation {
			return err
		}
		return errInvalidBody
	}
	return nil
}

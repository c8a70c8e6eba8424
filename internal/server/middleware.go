package server

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/ssd-technologies/atlas/internal/agent"
	"github.com/ssd-technologies/atlas/internal/apperr"
	"github.com/ssd-technologies/atlas/internal/auth"
	"github.com/ssd-technologies/atlas/internal/storage"
)

var (
	errInvalidBody   = apperr.New(apperr.Validation, "invalid request body")
	errTokenRequired = apperr.New(apperr.Unauthorized, "access token required")
	errInsufficient  = apperr.New(apperr.Forbidden, "insufficient permissions")
)

// fail answers err with the status of its kind. Unclassified errors are
// logged and answered with a generic 500.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.Internal {
		log.Printf("[server] %s %s: %v", r.Method, r.URL.Path, err)
	}

	env := envelope{Success: false, Message: apperr.MessageOf(err)}
	var conflict *agent.ConflictError
	if errors.As(err, &conflict) {
		env.Data = conflict.Existing
	}
	writeJSON(w, kind.Status(), env)
}

// recoverer turns a panic into a 500 envelope. The stack is only included
// outside production.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			stack := debug.Stack()
			log.Printf("[server] panic on %s %s: %v\n%s", r.Method, r.URL.Path, rec, stack)
			env := envelope{Success: false, Message: "internal server error"}
			if !s.cfg.IsProduction() {
				env.Stack = string(stack)
			}
			writeJSON(w, http.StatusInternalServerError, env)
		}()
		next.ServeHTTP(w, r)
	})
}

type principalKey struct{}

// principalFrom returns the authenticated caller. Only valid behind requireAuth.
func principalFrom(r *http.Request) *auth.Principal {
	p, _ := r.Context().Value(principalKey{}).(*auth.Principal)
	return p
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if token, found := strings.CutPrefix(h, "Bearer "); found {
		return strings.TrimSpace(token)
	}
	return ""
}

// requireAuth resolves the bearer token to a principal.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			s.fail(w, r, errTokenRequired)
			return
		}
		p, err := s.authn.Authenticate(token)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), principalKey{}, p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireRole admits callers holding one of roles. It must run after requireAuth.
func (s *Server) requireRole(roles ...storage.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := principalFrom(r)
			if p == nil {
				s.fail(w, r, errTokenRequired)
				return
			}
			for _, role := range roles {
				if p.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			s.fail(w, r, errInsufficient)
		})
	}
}

// rateLimit applies the per-IP request limit.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := getIP(r)
		if !s.limiter.Allow(ip) {
			w.Header().Set("Retry-After", strconv.Itoa(int(s.cfg.RateLimit.Window.Seconds())))
			writeError(w, http.StatusTooManyRequests, "too many requests, please try again later")
			return
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(s.cfg.RateLimit.Requests))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(s.limiter.Remaining(ip)))
		next.ServeHTTP(w, r)
	})
}

// getIP extracts the client IP from a request, respecting X-Forwarded-For
// for proxied deployments.
func getIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

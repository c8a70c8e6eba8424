package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ssd-technologies/atlas/internal/storage"
)

func (s *Server) analyticsRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth, s.requireRole(storage.RoleAdmin))
		r.Get("/analytics/agents/growth", s.handleAgentsGrowth)
		r.Get("/analytics/users/growth", s.handleUsersGrowth)
		r.Get("/analytics/activity", s.handleActivity)
		r.Get("/analytics/overview", s.handleOverview)
	})
}

func (s *Server) handleAgentsGrowth(w http.ResponseWriter, r *http.Request) {
	g, err := s.analytics.AgentsGrowth(r.URL.Query().Get("period"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, "", g)
}

func (s *Server) handleUsersGrowth(w http.ResponseWriter, r *http.Request) {
	g, err := s.analytics.UsersGrowth(r.URL.Query().Get("period"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, "", g)
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	a, err := s.analytics.Activity(r.URL.Query().Get("period"), days)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, "", a)
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	o, err := s.analytics.Overview()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, "", o)
}

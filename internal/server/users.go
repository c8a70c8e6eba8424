package server

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ssd-technologies/atlas/internal/apperr"
	"github.com/ssd-technologies/atlas/internal/audit"
	"github.com/ssd-technologies/atlas/internal/auth"
	"github.com/ssd-technologies/atlas/internal/storage"
)

var errSelfChange = apperr.New(apperr.Validation, "you cannot demote or deactivate your own account")

func (s *Server) userRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth, s.requireRole(storage.RoleAdmin))
		r.Get("/users", s.handleListUsers)
		r.Get("/users/{id}", s.handleGetUser)
		r.Put("/users/{id}/role", s.handleUserRole)
		r.Put("/users/{id}/status", s.handleUserStatus)
	})
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f storage.UserFilter
	if role := q.Get("role"); role != "" && role != "all" {
		f.Role = storage.Role(role)
		if !f.Role.Valid() {
			s.fail(w, r, apperr.Invalid("role must be one of user, agent, admin"))
			return
		}
	}
	if v := q.Get("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			s.fail(w, r, apperr.Invalid("active must be true or false"))
			return
		}
		f.Active = &active
	}
	f.Search = q.Get("search")

	users, err := s.db.ListUsers(f)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	page(w, users, storage.NewPagination(1, max(len(users), 1), len(users)))
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	u, err := s.accounts.Profile(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, "", u)
}

func (s *Server) handleUserRole(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Role storage.Role `json:"role"`
	}
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if !req.Role.Valid() {
		s.fail(w, r, apperr.Invalid("role must be one of user, agent, admin"))
		return
	}

	caller := principalFrom(r)
	id := chi.URLParam(r, "id")
	if id == caller.ID && req.Role != storage.RoleAdmin {
		s.fail(w, r, errSelfChange)
		return
	}
	before, err := s.accounts.Profile(id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.db.UpdateUserRole(id, req.Role, s.now()); err != nil {
		s.fail(w, r, userErr(err))
		return
	}
	u, err := s.accounts.Profile(id)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.record(r, nil, audit.Entry{
		Action:     audit.ActionUserRoleChanged,
		TargetType: audit.TargetUser,
		TargetID:   u.ID,
		TargetName: u.Email,
		Details:    fmt.Sprintf("Changed role from %s to %s", before.Role, u.Role),
		Metadata:   map[string]any{"oldRole": before.Role, "newRole": u.Role},
	})
	ok(w, "User role updated successfully", u)
}

// handleUserStatus toggles a user's activation.
func (s *Server) handleUserStatus(w http.ResponseWriter, r *http.Request) {
	caller := principalFrom(r)
	id := chi.URLParam(r, "id")
	if id == caller.ID {
		s.fail(w, r, errSelfChange)
		return
	}
	u, err := s.accounts.Profile(id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	active := !u.IsActive
	if err := s.db.SetUserActive(id, active, s.now()); err != nil {
		s.fail(w, r, userErr(err))
		return
	}
	u.IsActive = active

	state := "deactivated"
	if active {
		state = "activated"
	}
	s.record(r, nil, audit.Entry{
		Action:     audit.ActionUserStatusChanged,
		TargetType: audit.TargetUser,
		TargetID:   u.ID,
		TargetName: u.Email,
		Details:    fmt.Sprintf("Account %s %s", u.Email, state),
		Metadata:   map[string]any{"isActive": active},
	})
	ok(w, "User "+state+" successfully", u)
}

func userErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return auth.ErrUserNotFound
	}
	return err
}

package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ssd-technologies/atlas/internal/audit"
	"github.com/ssd-technologies/atlas/internal/auth"
	"github.com/ssd-technologies/atlas/internal/storage"
)

func (s *Server) authRoutes(r chi.Router) {
	r.Post("/auth/register", s.handleRegister)
	r.Post("/auth/login", s.handleLogin)
	r.Post("/auth/refresh-token", s.handleRefresh)
	r.With(s.requireAuth).Get("/auth/profile", s.handleProfile)
}

// record stores an audit entry for the request's caller, filling in the
// client address and user agent. A nil p means the authenticated caller.
func (s *Server) record(r *http.Request, p *auth.Principal, e audit.Entry) {
	if p == nil {
		p = principalFrom(r)
	}
	e.IPAddress = getIP(r)
	e.UserAgent = r.UserAgent()
	s.audit.Record(p, e)
}

// userPrincipal is the audit identity of a user not yet authenticated by
// token, such as one logging in.
func userPrincipal(u *storage.User) *auth.Principal {
	return &auth.Principal{ID: u.ID, Email: u.Email, Name: u.Name(), Role: u.Role}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in auth.RegisterInput
	if err := decode(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	u, err := s.accounts.Register(in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	sess, err := s.accounts.SessionFor(u)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.record(r, userPrincipal(u), audit.Entry{
		Action:     audit.ActionUserRegistered,
		TargetType: audit.TargetUser,
		TargetID:   u.ID,
		TargetName: u.Email,
		Details:    "Registered account " + u.Email,
	})
	created(w, "User registered successfully", sess)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	sess, err := s.accounts.Login(req.Email, req.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.record(r, userPrincipal(sess.User), audit.Entry{
		Action:     audit.ActionLogin,
		TargetType: audit.TargetUser,
		TargetID:   sess.User.ID,
		TargetName: sess.User.Email,
		Details:    "Logged in",
	})
	ok(w, "Login successful", sess)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	access, err := s.accounts.Refresh(req.RefreshToken)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, "Token refreshed successfully", map[string]string{"accessToken": access})
}

// handleProfile returns the caller's account. Device agents have no account
// and get their agent record instead.
func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	if p.IsDevice() {
		a, err := s.agents.Get(p.ID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		ok(w, "", a)
		return
	}
	u, err := s.accounts.Profile(p.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, "", u)
}

package server

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ssd-technologies/atlas/internal/apperr"
	"github.com/ssd-technologies/atlas/internal/audit"
	"github.com/ssd-technologies/atlas/internal/auth"
	"github.com/ssd-technologies/atlas/internal/storage"
)

// agentRoutes registers the device registry endpoints. Registration is
// public; reads need any token and changes need an admin.
func (s *Server) agentRoutes(r chi.Router) {
	r.Post("/agents/register", s.handleAgentRegister)
	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Get("/agents", s.handleListAgents)
		r.Get("/agents/{id}", s.handleGetAgent)
		r.With(s.requireRole(storage.RoleAdmin)).Put("/agents/{id}/status", s.handleAgentStatus)
		r.With(s.requireRole(storage.RoleAdmin)).Delete("/agents/{id}", s.handleDeleteAgent)
	})
}

// agentView is the registration response: the agent plus its token pair.
type agentView struct {
	*storage.Agent
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

func (s *Server) handleAgentRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID      string `json:"deviceId"`
		WalletAddress string `json:"walletAddress"`
	}
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.DeviceID == "" || req.WalletAddress == "" {
		s.fail(w, r, apperr.Invalid("device ID and wallet address are required"))
		return
	}

	reg, err := s.agents.Register(req.DeviceID, req.WalletAddress)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	a := reg.Agent
	s.record(r, &auth.Principal{ID: a.ID, Name: a.DeviceID, Role: storage.RoleAgent, DeviceID: a.DeviceID},
		audit.Entry{
			Action:     audit.ActionAgentCreated,
			TargetType: audit.TargetAgent,
			TargetID:   a.ID,
			TargetName: a.DeviceID,
			Details:    fmt.Sprintf("Registered device %s with wallet %s", a.DeviceID, a.WalletAddress),
		})
	created(w, "Agent registered successfully", agentView{Agent: a, Token: reg.Token, RefreshToken: reg.RefreshToken})
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, apperr.Invalid("%s must be an integer", name)
	}
	return n, nil
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	agents, p, err := s.agents.List(limit, offset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	page(w, agents, p)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	a, err := s.agents.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, "", a)
}

func (s *Server) handleAgentStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status storage.AgentStatus `json:"status"`
	}
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Status == "" {
		s.fail(w, r, apperr.Invalid("status is required"))
		return
	}

	id := chi.URLParam(r, "id")
	before, err := s.agents.Get(id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	a, err := s.agents.UpdateStatus(id, req.Status)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.record(r, nil, audit.Entry{
		Action:     audit.ActionAgentStatusChanged,
		TargetType: audit.TargetAgent,
		TargetID:   a.ID,
		TargetName: a.DeviceID,
		Details:    fmt.Sprintf("Changed status from %s to %s", before.Status, a.Status),
		Metadata:   map[string]any{"oldStatus": before.Status, "newStatus": a.Status},
	})
	ok(w, "Agent status updated successfully", a)
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	a, err := s.agents.Delete(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.record(r, nil, audit.Entry{
		Action:     audit.ActionAgentDeleted,
		TargetType: audit.TargetAgent,
		TargetID:   a.ID,
		TargetName: a.DeviceID,
		Details:    "Deleted device " + a.DeviceID,
	})
	ok(w, "Agent deleted successfully", map[string]string{"id": a.ID, "deviceId": a.DeviceID})
}

package server

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ssd-technologies/atlas/internal/audit"
	"github.com/ssd-technologies/atlas/internal/storage"
	"github.com/ssd-technologies/atlas/internal/tasks"
)

func (s *Server) taskRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Get("/tasks", s.handleListTasks)
		r.With(s.requireRole(storage.RoleAdmin)).Post("/tasks", s.handleCreateTask)
		r.Get("/tasks/stats", s.handleTaskStats)
		r.Get("/tasks/agent/{walletAddress}", s.handleAgentTasks)
		r.Get("/tasks/{id}", s.handleGetTask)
		r.Put("/tasks/{id}", s.handleUpdateTask)
		r.Post("/tasks/{id}/start", s.handleStartTask)
		r.Post("/tasks/{id}/complete", s.handleCompleteTask)
		r.With(s.requireRole(storage.RoleAdmin)).Delete("/tasks/{id}", s.handleDeleteTask)
	})
}

// taskFilter reads listing filters and paging from the query string.
func taskFilter(r *http.Request) (tasks.Filter, error) {
	q := r.URL.Query()
	f := tasks.Filter{
		AgentWallet: q.Get("agentWallet"),
		Status:      storage.TaskStatus(q.Get("status")),
		Priority:    storage.TaskPriority(q.Get("priority")),
		AssignedBy:  q.Get("assignedBy"),
	}
	var err error
	if f.Page, err = queryInt(r, "page"); err != nil {
		return f, err
	}
	if f.Limit, err = queryInt(r, "limit"); err != nil {
		return f, err
	}
	return f, nil
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	f, err := taskFilter(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	list, p, err := s.tasks.List(principalFrom(r), f)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	page(w, list, p)
}

func (s *Server) handleAgentTasks(w http.ResponseWriter, r *http.Request) {
	f, err := taskFilter(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	list, p, err := s.tasks.ListByAgent(principalFrom(r), chi.URLParam(r, "walletAddress"), f)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	page(w, list, p)
}

func (s *Server) handleTaskStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.tasks.Stats(principalFrom(r), storage.TaskFilter{
		AgentWallet: r.URL.Query().Get("agentWallet"),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, "", stats)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.tasks.Get(principalFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, "", t)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var in tasks.CreateInput
	if err := decode(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	t, err := s.tasks.Create(principalFrom(r), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.record(r, nil, audit.Entry{
		Action:     audit.ActionTaskCreated,
		TargetType: audit.TargetTask,
		TargetID:   t.ID,
		TargetName: t.Title,
		Details:    fmt.Sprintf("Assigned task %q to %s", t.Title, t.AgentWallet),
		Metadata:   map[string]any{"agentWallet": t.AgentWallet, "priority": t.Priority},
	})
	created(w, "Task created successfully", t)
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	patch := tasks.NewPatch(p.Role)
	if err := decode(r, patch); err != nil {
		s.fail(w, r, err)
		return
	}
	t, err := s.tasks.Update(p, chi.URLParam(r, "id"), patch)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.record(r, nil, audit.Entry{
		Action:     audit.ActionTaskUpdated,
		TargetType: audit.TargetTask,
		TargetID:   t.ID,
		TargetName: t.Title,
		Details:    fmt.Sprintf("Updated task %q", t.Title),
		Metadata:   map[string]any{"status": t.Status},
	})
	ok(w, "Task updated successfully", t)
}

func (s *Server) handleStartTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.tasks.Start(principalFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.record(r, nil, audit.Entry{
		Action:     audit.ActionTaskStarted,
		TargetType: audit.TargetTask,
		TargetID:   t.ID,
		TargetName: t.Title,
		Details:    fmt.Sprintf("Started task %q", t.Title),
	})
	ok(w, "Task started successfully", t)
}

func (s *Server) handleCompleteTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.tasks.Complete(principalFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.record(r, nil, audit.Entry{
		Action:     audit.ActionTaskCompleted,
		TargetType: audit.TargetTask,
		TargetID:   t.ID,
		TargetName: t.Title,
		Details:    fmt.Sprintf("Completed task %q", t.Title),
	})
	ok(w, "Task completed successfully", t)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.tasks.Delete(principalFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.record(r, nil, audit.Entry{
		Action:     audit.ActionTaskDeleted,
		TargetType: audit.TargetTask,
		TargetID:   t.ID,
		TargetName: t.Title,
		Details:    fmt.Sprintf("Deleted task %q", t.Title),
	})
	ok(w, "Task deleted successfully", map[string]string{"id": t.ID})
}

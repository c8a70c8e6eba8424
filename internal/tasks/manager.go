// Package tasks implements the task lifecycle: creation by admins, start and
// completion by the owning agent, and the ownership rules that scope agents
// to their own wallet. Every successful change is announced through a
// Broadcaster.
package tasks

import (
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ssd-technologies/atlas/internal/agent"
	"github.com/ssd-technologies/atlas/internal/apperr"
	"github.com/ssd-technologies/atlas/internal/auth"
	"github.com/ssd-technologies/atlas/internal/storage"
)

// Event names sent to subscribers.
const (
	EventTaskCreated   = "taskCreated"
	EventTaskAssigned  = "taskAssigned"
	EventTaskUpdated   = "taskUpdated"
	EventTaskCompleted = "taskCompleted"
	EventTaskDeleted   = "taskDeleted"
)

const (
	DefaultLimit = 50
	MaxLimit     = 100
)

var (
	ErrTaskNotFound  = apperr.New(apperr.NotFound, "task not found")
	ErrAgentNotFound = apperr.New(apperr.NotFound, "agent not found")
	ErrAccessDenied  = apperr.New(apperr.Forbidden, "access denied")
	ErrAdminOnly     = apperr.New(apperr.Forbidden, "admin access required")
	ErrNoFields      = apperr.New(apperr.Validation, "no valid fields to update")
	ErrConcurrent    = apperr.New(apperr.Conflict, "task was modified concurrently")
)

// Broadcaster delivers task events to real-time subscribers. Broadcast must
// not block.
type Broadcaster interface {
	Broadcast(event string, data any)
}

type nopBroadcaster struct{}

func (nopBroadcaster) Broadcast(string, any) {}

// Manager applies task operations on behalf of an authenticated caller.
type Manager struct {
	db     *storage.DB
	events Broadcaster
	now    func() time.Time
}

// NewManager creates a Manager. A nil events discards all events.
func NewManager(db *storage.DB, events Broadcaster) *Manager {
	if events == nil {
		events = nopBroadcaster{}
	}
	return &Manager{db: db, events: events, now: time.Now}
}

// CreateInput is the payload of a task creation.
type CreateInput struct {
	Title       string               `json:"title"`
	Description string               `json:"description"`
	AgentWallet string               `json:"agentWallet"`
	Priority    storage.TaskPriority `json:"priority"`
	Status      storage.TaskStatus   `json:"status"`
	DueDate     *time.Time           `json:"dueDate"`
}

// UnmarshalJSON accepts dueDate as an RFC 3339 timestamp or a plain date.
func (in *CreateInput) UnmarshalJSON(data []byte) error {
	type plain CreateInput
	var raw struct {
		plain
		DueDate *string `json:"dueDate"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	due, err := parseDueDate(raw.DueDate)
	if err != nil {
		return err
	}
	*in = CreateInput(raw.plain)
	in.DueDate = due
	return nil
}

// Filter selects and pages a task listing.
type Filter struct {
	AgentWallet string
	Status      storage.TaskStatus
	Priority    storage.TaskPriority
	AssignedBy  string
	Page        int
	Limit       int
}

// ownsTask reports whether caller may see or act on t. Only agents are
// scoped; an agent without a wallet owns nothing.
func ownsTask(caller *auth.Principal, t *storage.Task) bool {
	if !caller.IsAgent() {
		return true
	}
	return caller.WalletAddress != "" && caller.WalletAddress == t.AgentWallet
}

func canMutate(caller *auth.Principal) error {
	if caller.IsAdmin() || caller.IsAgent() {
		return nil
	}
	return ErrAccessDenied
}

func (m *Manager) load(id string) (*storage.Task, error) {
	t, err := m.db.GetTask(id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	return t, err
}

// Create assigns a new task to an existing agent. Admin only.
func (m *Manager) Create(caller *auth.Principal, in CreateInput) (*storage.Task, error) {
	if !caller.IsAdmin() {
		return nil, ErrAdminOnly
	}
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" || in.AgentWallet == "" {
		return nil, apperr.Invalid("title and agent wallet are required")
	}
	if !agent.ValidWallet(in.AgentWallet) {
		return nil, agent.ErrInvalidWallet
	}
	if in.Priority == "" {
		in.Priority = storage.PriorityMedium
	}
	if !in.Priority.Valid() {
		return nil, apperr.Invalid("priority must be one of low, medium, high, urgent")
	}
	if in.Status == "" {
		in.Status = storage.TaskPending
	}
	if !in.Status.Valid() {
		return nil, apperr.Invalid("status must be one of pending, in_progress, completed, cancelled")
	}

	if _, err := m.db.GetAgentByWallet(in.AgentWallet); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAgentNotFound
		}
		return nil, err
	}

	now := m.now()
	t := &storage.Task{
		ID:          uuid.NewString(),
		Title:       in.Title,
		Description: in.Description,
		AgentWallet: in.AgentWallet,
		Status:      in.Status,
		Priority:    in.Priority,
		DueDate:     in.DueDate,
		AssignedBy:  caller.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	switch t.Status {
	case storage.TaskInProgress:
		t.StartedAt = &now
	case storage.TaskCompleted:
		t.CompletedAt = &now
	}
	if err := m.db.CreateTask(t); err != nil {
		if errors.Is(err, storage.ErrMissingReference) {
			return nil, ErrAgentNotFound
		}
		return nil, err
	}

	created, err := m.load(t.ID)
	if err != nil {
		return nil, err
	}
	m.events.Broadcast(EventTaskCreated, created)
	m.events.Broadcast(EventTaskAssigned, created)
	return created, nil
}

// Get returns a task the caller may see.
func (m *Manager) Get(caller *auth.Principal, id string) (*storage.Task, error) {
	t, err := m.load(id)
	if err != nil {
		return nil, err
	}
	if !ownsTask(caller, t) {
		return nil, ErrAccessDenied
	}
	return t, nil
}

// List returns a page of tasks. Agent callers only see their own wallet and
// asking for another wallet is denied.
func (m *Manager) List(caller *auth.Principal, f Filter) ([]storage.Task, storage.Pagination, error) {
	if caller.IsAgent() {
		if f.AgentWallet != "" && f.AgentWallet != caller.WalletAddress {
			return nil, storage.Pagination{}, ErrAccessDenied
		}
		if caller.WalletAddress == "" {
			return []storage.Task{}, storage.NewPagination(1, DefaultLimit, 0), nil
		}
		f.AgentWallet = caller.WalletAddress
	}
	return m.list(f)
}

// ListByAgent lists the tasks of one agent.
func (m *Manager) ListByAgent(caller *auth.Principal, wallet string, f Filter) ([]storage.Task, storage.Pagination, error) {
	if caller.IsAgent() && wallet != caller.WalletAddress {
		return nil, storage.Pagination{}, ErrAccessDenied
	}
	if _, err := m.db.GetAgentByWallet(wallet); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.Pagination{}, ErrAgentNotFound
		}
		return nil, storage.Pagination{}, err
	}
	f.AgentWallet = wallet
	return m.list(f)
}

func (m *Manager) list(f Filter) ([]storage.Task, storage.Pagination, error) {
	if f.Page == 0 {
		f.Page = 1
	}
	if f.Limit == 0 {
		f.Limit = DefaultLimit
	}
	if f.Page < 1 {
		return nil, storage.Pagination{}, apperr.Invalid("page must be at least 1")
	}
	if f.Limit < 1 || f.Limit > MaxLimit {
		return nil, storage.Pagination{}, apperr.Invalid("limit must be between 1 and %d", MaxLimit)
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, storage.Pagination{}, apperr.Invalid("invalid status filter %q", f.Status)
	}
	if f.Priority != "" && !f.Priority.Valid() {
		return nil, storage.Pagination{}, apperr.Invalid("invalid priority filter %q", f.Priority)
	}

	sf := storage.TaskFilter{
		AgentWallet: f.AgentWallet,
		Status:      f.Status,
		Priority:    f.Priority,
		AssignedBy:  f.AssignedBy,
	}
	total, err := m.db.CountTasks(sf)
	if err != nil {
		return nil, storage.Pagination{}, err
	}
	page := storage.NewPagination(f.Page, f.Limit, total)
	list, err := m.db.ListTasks(sf, page.Limit, page.Offset)
	if err != nil {
		return nil, storage.Pagination{}, err
	}
	return list, page, nil
}

// Update applies a typed patch. A status change must be a legal transition;
// entering in_progress or completed stamps the matching timestamp. The write
// only lands if the status is unchanged since it was read.
func (m *Manager) Update(caller *auth.Principal, id string, patch Patch) (*storage.Task, error) {
	if err := canMutate(caller); err != nil {
		return nil, err
	}
	t, err := m.Get(caller, id)
	if err != nil {
		return nil, err
	}

	p := patch.fields()
	now := m.now()
	var u storage.TaskUpdate
	changed := false

	if p.Title != nil {
		title := strings.TrimSpace(*p.Title)
		if title == "" {
			return nil, apperr.Invalid("title must not be empty")
		}
		u.Title = &title
		changed = true
	}
	if p.Description != nil {
		u.Description = p.Description
		changed = true
	}
	if p.Priority != nil {
		if !p.Priority.Valid() {
			return nil, apperr.Invalid("priority must be one of low, medium, high, urgent")
		}
		u.Priority = p.Priority
		changed = true
	}
	if p.DueDate != nil {
		u.DueDate = p.DueDate
		changed = true
	}
	if p.Status != nil && *p.Status != t.Status {
		if !CanTransition(t.Status, *p.Status) {
			return nil, errTransition(t.Status, *p.Status)
		}
		u.Status = p.Status
		switch *p.Status {
		case storage.TaskInProgress:
			u.StartedAt = &now
		case storage.TaskCompleted:
			u.CompletedAt = &now
		}
		changed = true
	}
	if !changed {
		return nil, ErrNoFields
	}

	ok, err := m.db.UpdateTask(id, t.Status, u, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, m.lostRace(id)
	}

	updated, err := m.load(id)
	if err != nil {
		return nil, err
	}
	m.events.Broadcast(EventTaskUpdated, updated)
	return updated, nil
}

// Start moves a pending task to in_progress.
func (m *Manager) Start(caller *auth.Principal, id string) (*storage.Task, error) {
	if err := canMutate(caller); err != nil {
		return nil, err
	}
	t, err := m.Get(caller, id)
	if err != nil {
		return nil, err
	}
	if !CanStart(t.Status) {
		return nil, errNotPending(t.Status)
	}
	ok, err := m.db.StartTask(id, m.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		if err := m.lostRace(id); errors.Is(err, ErrTaskNotFound) {
			return nil, err
		}
		return nil, errNotPending(storage.TaskInProgress)
	}

	started, err := m.load(id)
	if err != nil {
		return nil, err
	}
	m.events.Broadcast(EventTaskUpdated, started)
	return started, nil
}

// Complete moves any task that is not already completed to completed.
func (m *Manager) Complete(caller *auth.Principal, id string) (*storage.Task, error) {
	if err := canMutate(caller); err != nil {
		return nil, err
	}
	t, err := m.Get(caller, id)
	if err != nil {
		return nil, err
	}
	if !CanComplete(t.Status) {
		return nil, errAlreadyCompleted()
	}
	ok, err := m.db.CompleteTask(id, m.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		if err := m.lostRace(id); errors.Is(err, ErrTaskNotFound) {
			return nil, err
		}
		return nil, errAlreadyCompleted()
	}

	completed, err := m.load(id)
	if err != nil {
		return nil, err
	}
	m.events.Broadcast(EventTaskCompleted, completed)
	return completed, nil
}

// Delete removes a task and returns the removed record. Admin only.
func (m *Manager) Delete(caller *auth.Principal, id string) (*storage.Task, error) {
	if !caller.IsAdmin() {
		return nil, ErrAdminOnly
	}
	t, err := m.load(id)
	if err != nil {
		return nil, err
	}
	if err := m.db.DeleteTask(id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	m.events.Broadcast(EventTaskDeleted, map[string]string{"id": id})
	return t, nil
}

// Stats aggregates tasks by status and priority. Agent callers are limited
// to their own wallet.
func (m *Manager) Stats(caller *auth.Principal, f storage.TaskFilter) (*storage.TaskStats, error) {
	if caller.IsAgent() {
		if caller.WalletAddress == "" {
			return &storage.TaskStats{}, nil
		}
		f.AgentWallet = caller.WalletAddress
	}
	return m.db.GetTaskStats(storage.TaskFilter{AgentWallet: f.AgentWallet, AssignedBy: f.AssignedBy}, m.now())
}

// lostRace explains a conditional write that matched no row.
func (m *Manager) lostRace(id string) error {
	if _, err := m.load(id); err != nil {
		return err
	}
	return ErrConcurrent
}

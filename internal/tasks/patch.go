package tasks

import (
	"encoding/json"
	"time"

	"github.com/ssd-technologies/atlas/internal/apperr"
	"github.com/ssd-technologies/atlas/internal/storage"
)

// Patch is a typed task update. Only AdminPatch and AgentPatch implement it.
type Patch interface {
	fields() AdminPatch
}

// AdminPatch may change every editable field. Nil fields are left as they are.
type AdminPatch struct {
	Title       *string               `json:"title,omitempty"`
	Description *string               `json:"description,omitempty"`
	Status      *storage.TaskStatus   `json:"status,omitempty"`
	Priority    *storage.TaskPriority `json:"priority,omitempty"`
	DueDate     *time.Time            `json:"dueDate,omitempty"`
}

func (p AdminPatch) fields() AdminPatch { return p }

// UnmarshalJSON accepts dueDate as an RFC 3339 timestamp or a plain date.
func (p *AdminPatch) UnmarshalJSON(data []byte) error {
	type plain AdminPatch
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
	*p = AdminPatch(raw.plain)
	p.DueDate = due
	return nil
}

// AgentPatch may only change the status.
type AgentPatch struct {
	Status *storage.TaskStatus `json:"status,omitempty"`
}

func (p AgentPatch) fields() AdminPatch { return AdminPatch{Status: p.Status} }

// NewPatch returns an empty patch of the type role may send, ready to have a
// request body decoded into it. Fields the role may not change are never
// read, so their values cannot fail the decode.
func NewPatch(role storage.Role) Patch {
	if role == storage.RoleAdmin {
		return &AdminPatch{}
	}
	return &AgentPatch{}
}

// PatchForRole narrows a decoded patch to what role may change. Admins get
// the full patch; every other role keeps only the status and the remaining
// fields are dropped.
func PatchForRole(role storage.Role, p AdminPatch) Patch {
	if role == storage.RoleAdmin {
		return p
	}
	return AgentPatch{Status: p.Status}
}

// parseDueDate reads an RFC 3339 timestamp or a YYYY-MM-DD date. A plain
// date is midnight UTC of that day.
func parseDueDate(v *string) (*time.Time, error) {
	if v == nil || *v == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, *v); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, *v)
	if err != nil {
		return nil, apperr.Invalid("dueDate must be a date (YYYY-MM-DD) or RFC 3339 timestamp")
	}
	return &t, nil
}

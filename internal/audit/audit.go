// Package audit records who did what to which entity, and serves queries,
// statistics, exports and retention over the recorded trail.
package audit

import (
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ssd-technologies/atlas/internal/apperr"
	"github.com/ssd-technologies/atlas/internal/auth"
	"github.com/ssd-technologies/atlas/internal/storage"
)

// Recorded actions.
const (
	ActionUserRegistered     = "user_registered"
	ActionLogin              = "login"
	ActionAgentCreated       = "agent_created"
	ActionAgentStatusChanged = "agent_status_changed"
	ActionAgentDeleted       = "agent_deleted"
	ActionTaskCreated        = "task_created"
	ActionTaskUpdated        = "task_updated"
	ActionTaskStarted        = "task_started"
	ActionTaskCompleted      = "task_completed"
	ActionTaskDeleted        = "task_deleted"
	ActionUserRoleChanged    = "user_role_changed"
	ActionUserStatusChanged  = "user_status_changed"
	ActionLogCreated         = "log_created"
	ActionLogsViewed         = "logs_viewed"
	ActionLogsExported       = "logs_exported"
	ActionLogsDeleted        = "logs_deleted"
)

// Target types.
const (
	TargetUser   = "user"
	TargetAgent  = "agent"
	TargetTask   = "task"
	TargetSystem = "system"
)

const (
	DefaultLimit = 50
	MaxLimit     = 100
	// MaxExport caps the number of entries in one export.
	MaxExport = 10000
)

var ErrLogNotFound = apperr.New(apperr.NotFound, "activity log not found")

// Entry describes one action to record. Only Action and TargetType are
// required.
type Entry struct {
	Action     string
	TargetType string
	TargetID   string
	TargetName string
	Details    string
	Metadata   map[string]any
	IPAddress  string
	UserAgent  string
}

// Log is the activity trail.
type Log struct {
	db  *storage.DB
	now func() time.Time
}

// New creates a Log over db.
func New(db *storage.DB) *Log {
	return &Log{db: db, now: time.Now}
}

// Record stores e on behalf of p. Failures are logged and never returned;
// auditing must not break the action being audited.
func (l *Log) Record(p *auth.Principal, e Entry) {
	if p == nil {
		p = &auth.Principal{ID: "system", Name: "system"}
	}
	name := p.Name
	if name == "" {
		name = p.Email
	}
	entry := &storage.ActivityLog{
		ID:         uuid.NewString(),
		UserID:     p.ID,
		UserName:   name,
		UserEmail:  p.Email,
		Action:     e.Action,
		TargetType: e.TargetType,
		TargetID:   e.TargetID,
		TargetName: e.TargetName,
		Details:    e.Details,
		Metadata:   e.Metadata,
		IPAddress:  e.IPAddress,
		UserAgent:  e.UserAgent,
		Timestamp:  l.now(),
	}
	if err := l.db.CreateActivityLog(entry); err != nil {
		log.Printf("[audit] record %s on %s: %v", e.Action, e.TargetType, err)
	}
}

// CreateInput is an entry submitted directly by an administrator.
type CreateInput struct {
	UserID     string         `json:"userId"`
	UserName   string         `json:"userName"`
	UserEmail  string         `json:"userEmail"`
	Action     string         `json:"action"`
	TargetType string         `json:"targetType"`
	TargetID   string         `json:"targetId"`
	TargetName string         `json:"targetName"`
	Details    string         `json:"details"`
	Metadata   map[string]any `json:"metadata"`
	IPAddress  string         `json:"ipAddress"`
	UserAgent  string         `json:"userAgent"`
}

// Create stores a submitted entry. Unlike Record it reports failures.
func (l *Log) Create(in CreateInput) (*storage.ActivityLog, error) {
	if in.UserID == "" || in.UserName == "" || in.UserEmail == "" || in.Action == "" || in.TargetType == "" {
		return nil, apperr.Invalid("userId, userName, userEmail, action and targetType are required")
	}
	e := &storage.ActivityLog{
		ID:         uuid.NewString(),
		UserID:     in.UserID,
		UserName:   in.UserName,
		UserEmail:  in.UserEmail,
		Action:     in.Action,
		TargetType: in.TargetType,
		TargetID:   in.TargetID,
		TargetName: in.TargetName,
		Details:    in.Details,
		Metadata:   in.Metadata,
		IPAddress:  in.IPAddress,
		UserAgent:  in.UserAgent,
		Timestamp:  l.now(),
	}
	if err := l.db.CreateActivityLog(e); err != nil {
		return nil, err
	}
	return e, nil
}

// Get returns one entry.
func (l *Log) Get(id string) (*storage.ActivityLog, error) {
	e, err := l.db.GetActivityLog(id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLogNotFound
	}
	return e, err
}

// Query returns a page of entries matching f, newest first.
func (l *Log) Query(f storage.ActivityFilter, page, limit int) ([]storage.ActivityLog, storage.Pagination, error) {
	if page == 0 {
		page = 1
	}
	if limit == 0 {
		limit = DefaultLimit
	}
	if page < 1 {
		return nil, storage.Pagination{}, apperr.Invalid("page must be at least 1")
	}
	if limit < 1 || limit > MaxLimit {
		return nil, storage.Pagination{}, apperr.Invalid("limit must be between 1 and %d", MaxLimit)
	}
	if !f.Start.IsZero() && !f.End.IsZero() && f.End.Before(f.Start) {
		return nil, storage.Pagination{}, apperr.Invalid("endDate must not be before startDate")
	}

	offset := (page - 1) * limit
	entries, total, err := l.db.QueryActivityLogs(f, limit, offset)
	if err != nil {
		return nil, storage.Pagination{}, err
	}
	return entries, storage.NewPagination(page, limit, total), nil
}

// StatsWindow returns the look-back window of a stats period.
func StatsWindow(period string) (time.Duration, error) {
	switch period {
	case "", "week":
		return 7 * 24 * time.Hour, nil
	case "day":
		return 24 * time.Hour, nil
	case "month":
		return 30 * 24 * time.Hour, nil
	}
	return 0, apperr.Invalid("period must be one of day, week, month")
}

// Stats summarizes the entries of the last day, week or month.
func (l *Log) Stats(period string) (*storage.ActivityStats, error) {
	window, err := StatsWindow(period)
	if err != nil {
		return nil, err
	}
	return l.db.GetActivityStats(l.now().Add(-window))
}

// Purge deletes entries older than before and returns how many were removed.
func (l *Log) Purge(before time.Time) (int64, error) {
	if before.IsZero() {
		return 0, apperr.Invalid("olderThan is required")
	}
	return l.db.DeleteActivityLogsBefore(before)
}

// Export formats.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

var csvHeader = []string{
	"Timestamp", "User", "Email", "Action", "Target Type", "Target ID", "Target Name", "Details", "IP Address",
}

// Export writes up to MaxExport entries matching f to w and returns how many
// were written.
func (l *Log) Export(w io.Writer, format string, f storage.ActivityFilter) (int, error) {
	format = strings.ToLower(format)
	if format == "" {
		format = FormatCSV
	}
	if format != FormatCSV && format != FormatJSON {
		return 0, apperr.Invalid("format must be csv or json")
	}

	entries, _, err := l.db.QueryActivityLogs(f, MaxExport, 0)
	if err != nil {
		return 0, err
	}

	if format == FormatJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(entries); err != nil {
			return 0, fmt.Errorf("encode export: %w", err)
		}
		return len(entries), nil
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return 0, fmt.Errorf("write export header: %w", err)
	}
	for _, e := range entries {
		record := []string{
			e.Timestamp.UTC().Format(time.RFC3339),
			e.UserName,
			e.UserEmail,
			e.Action,
			e.TargetType,
			e.TargetID,
			e.TargetName,
			e.Details,
			e.IPAddress,
		}
		if err := cw.Write(record); err != nil {
			return 0, fmt.Errorf("write export row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, fmt.Errorf("flush export: %w", err)
	}
	return len(entries), nil
}

package server

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ssd-technologies/atlas/internal/apperr"
	"github.com/ssd-technologies/atlas/internal/audit"
	"github.com/ssd-technologies/atlas/internal/storage"
)

func (s *Server) logRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth, s.requireRole(storage.RoleAdmin))
		r.Get("/logs", s.handleQueryLogs)
		r.Post("/logs", s.handleCreateLog)
		r.Delete("/logs", s.handlePurgeLogs)
		r.Get("/logs/export", s.handleExportLogs)
		r.Get("/logs/stats", s.handleLogStats)
		r.Get("/logs/{id}", s.handleGetLog)
	})
}

// parseDate accepts RFC 3339 timestamps and plain dates. A plain end date
// covers the whole day.
func parseDate(name, v string, endOfDay bool) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, apperr.Invalid("%s must be a date (YYYY-MM-DD) or RFC 3339 timestamp", name)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Millisecond)
	}
	return t, nil
}

func activityFilter(r *http.Request) (storage.ActivityFilter, error) {
	q := r.URL.Query()
	f := storage.ActivityFilter{
		UserID:     q.Get("userId"),
		Action:     q.Get("action"),
		TargetType: q.Get("targetType"),
		Search:     q.Get("search"),
	}
	var err error
	if f.Start, err = parseDate("startDate", q.Get("startDate"), false); err != nil {
		return f, err
	}
	if f.End, err = parseDate("endDate", q.Get("endDate"), true); err != nil {
		return f, err
	}
	return f, nil
}

func (s *Server) handleQueryLogs(w http.ResponseWriter, r *http.Request) {
	f, err := activityFilter(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	pg, err := queryInt(r, "page")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	entries, p, err := s.audit.Query(f, pg, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.record(r, nil, audit.Entry{
		Action:     audit.ActionLogsViewed,
		TargetType: audit.TargetSystem,
		Details:    fmt.Sprintf("Viewed page %d of activity logs", p.Page),
	})
	page(w, entries, p)
}

func (s *Server) handleGetLog(w http.ResponseWriter, r *http.Request) {
	e, err := s.audit.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	ok(w, "", e)
}

func (s *Server) handleCreateLog(w http.ResponseWriter, r *http.Request) {
	var in audit.CreateInput
	if err := decode(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	if in.IPAddress == "" {
		in.IPAddress = getIP(r)
	}
	if in.UserAgent == "" {
		in.UserAgent = r.UserAgent()
	}
	e, err := s.audit.Create(in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	created(w, "Activity log created successfully", e)
}

func (s *Server) handlePurgeLogs(w http.ResponseWriter, r *http.Request) {
	before, err := parseDate("beforeDate", r.URL.Query().Get("beforeDate"), false)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if before.IsZero() {
		s.fail(w, r, apperr.Invalid("beforeDate query parameter is required"))
		return
	}
	n, err := s.audit.Purge(before)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.record(r, nil, audit.Entry{
		Action:     audit.ActionLogsDeleted,
		TargetType: audit.TargetSystem,
		Details:    fmt.Sprintf("Deleted %d activity logs before %s", n, before.Format(time.DateOnly)),
		Metadata:   map[string]any{"deletedCount": n},
	})
	ok(w, fmt.Sprintf("Successfully deleted %d logs", n), map[string]int64{"deletedCount": n})
}

func (s *Server) handleExportLogs(w http.ResponseWriter, r *http.Request) {
	f, err := activityFilter(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = audit.FormatJSON
	}

	// Render into a buffer so a failure can still produce an error envelope.
	var buf bytes.Buffer
	n, err := s.audit.Export(&buf, format, f)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.record(r, nil, audit.Entry{
		Action:     audit.ActionLogsExported,
		TargetType: audit.TargetSystem,
		Details:    fmt.Sprintf("Exported %d activity logs as %s", n, format),
		Metadata:   map[string]any{"format": format, "count": n},
	})

	contentType := "application/json"
	ext := audit.FormatJSON
	if format == audit.FormatCSV {
		contentType = "text/csv"
		ext = audit.FormatCSV
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=activity_logs_%d.%s", s.now().UnixMilli(), ext))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (s *Server) handleLogStats(w http.ResponseWriter, r *http.Request) {
	period := r.URL.Query().Get("period")
	stats, err := s.audit.Stats(period)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if period == "" {
		period = "week"
	}
	ok(w, "", map[string]any{"period": period, "stats": stats})
}

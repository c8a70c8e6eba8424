package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const activityColumns = `id, user_id, user_name, user_email, action, target_type, target_id, target_name,
	details, metadata, ip_address, user_agent, timestamp`

func scanActivityLog(row rowScanner) (*ActivityLog, error) {
	e := &ActivityLog{}
	var targetID, targetName, details, metadata, ip, ua sql.NullString
	var ts int64
	if err := row.Scan(&e.ID, &e.UserID, &e.UserName, &e.UserEmail, &e.Action, &e.TargetType,
		&targetID, &targetName, &details, &metadata, &ip, &ua, &ts); err != nil {
		return nil, err
	}
	e.TargetID = targetID.String
	e.TargetName = targetName.String
	e.Details = details.String
	e.IPAddress = ip.String
	e.UserAgent = ua.String
	e.Timestamp = fromMillis(ts)
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &e.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return e, nil
}

// CreateActivityLog appends an entry to the activity log.
func (d *DB) CreateActivityLog(e *ActivityLog) error {
	var metadata any
	if len(e.Metadata) > 0 {
		raw, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		metadata = string(raw)
	}
	_, err := d.db.Exec(
		`INSERT INTO activity_logs (`+activityColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.UserName, e.UserEmail, e.Action, e.TargetType,
		nullString(e.TargetID), nullString(e.TargetName), nullString(e.Details), metadata,
		nullString(e.IPAddress), nullString(e.UserAgent), toMillis(e.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("create activity log: %w", err)
	}
	return nil
}

// GetActivityLog retrieves a single entry by ID.
func (d *DB) GetActivityLog(id string) (*ActivityLog, error) {
	e, err := scanActivityLog(d.db.QueryRow(`SELECT `+activityColumns+` FROM activity_logs WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("get activity log: %w", err)
	}
	return e, nil
}

// ActivityFilter narrows activity log queries. Zero values match everything.
// Search matches details, user name and user email, ignoring case.
type ActivityFilter struct {
	Start      time.Time
	End        time.Time
	UserID     string
	Action     string
	TargetType string
	Search     string
}

func (f ActivityFilter) where() (string, []any) {
	var conds []string
	var args []any
	if !f.Start.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, toMillis(f.Start))
	}
	if !f.End.IsZero() {
		conds = append(conds, "timestamp <= ?")
		args = append(args, toMillis(f.End))
	}
	if f.UserID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Action != "" {
		conds = append(conds, "action = ?")
		args = append(args, f.Action)
	}
	if f.TargetType != "" {
		conds = append(conds, "target_type = ?")
		args = append(args, f.TargetType)
	}
	if f.Search != "" {
		like := containsPattern(f.Search)
		conds = append(conds, `(LOWER(COALESCE(details, '')) LIKE ? ESCAPE '\' OR LOWER(user_name) LIKE ? ESCAPE '\' OR LOWER(user_email) LIKE ? ESCAPE '\')`)
		args = append(args, like, like, like)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// QueryActivityLogs returns a page of entries matching f, newest first, and
// the total number of matches.
func (d *DB) QueryActivityLogs(f ActivityFilter, limit, offset int) ([]ActivityLog, int, error) {
	where, args := f.where()

	var total int
	if err := d.db.QueryRow(`SELECT COUNT(*) FROM activity_logs`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count activity logs: %w", err)
	}

	rows, err := d.db.Query(
		`SELECT `+activityColumns+` FROM activity_logs`+where+` ORDER BY timestamp DESC, id LIMIT ? OFFSET ?`,
		append(args, limit, offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("query activity logs: %w", err)
	}
	defer rows.Close()

	entries := []ActivityLog{}
	for rows.Next() {
		e, err := scanActivityLog(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan activity log: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, total, rows.Err()
}

// DeleteActivityLogsBefore removes entries older than before and returns the
// number removed.
func (d *DB) DeleteActivityLogsBefore(before time.Time) (int64, error) {
	res, err := d.db.Exec(`DELETE FROM activity_logs WHERE timestamp < ?`, toMillis(before))
	if err != nil {
		return 0, fmt.Errorf("delete activity logs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete activity logs rows affected: %w", err)
	}
	return n, nil
}

// ActionCount is the number of entries recorded for one action.
type ActionCount struct {
	Action string `json:"action"`
	Count  int    `json:"count"`
}

// DayCount is the number of entries recorded on one UTC day.
type DayCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// ActivityStats summarizes the activity log since a point in time.
type ActivityStats struct {
	TotalActivities int            `json:"totalActivities"`
	ByAction        map[string]int `json:"byAction"`
	ByUser          map[string]int `json:"byUser"`
	Timeline        []DayCount     `json:"timeline"`
}

// GetActivityStats aggregates entries recorded at or after since. ByUser
// holds the ten most active actors keyed as "name (email)".
func (d *DB) GetActivityStats(since time.Time) (*ActivityStats, error) {
	ms := toMillis(since)
	stats := &ActivityStats{
		ByAction: map[string]int{},
		ByUser:   map[string]int{},
		Timeline: []DayCount{},
	}

	if err := d.db.QueryRow(`SELECT COUNT(*) FROM activity_logs WHERE timestamp >= ?`, ms).
		Scan(&stats.TotalActivities); err != nil {
		return nil, fmt.Errorf("activity stats total: %w", err)
	}

	actions, err := d.TopActions(since, -1)
	if err != nil {
		return nil, err
	}
	for _, a := range actions {
		stats.ByAction[a.Action] = a.Count
	}

	rows, err := d.db.Query(`
SELECT user_name, user_email, COUNT(*) AS n FROM activity_logs
WHERE timestamp >= ?
GROUP BY user_name, user_email
ORDER BY n DESC
LIMIT 10`, ms)
	if err != nil {
		return nil, fmt.Errorf("activity stats by user: %w", err)
	}
	for rows.Next() {
		var name, email string
		var n int
		if err := rows.Scan(&name, &email, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan activity by user: %w", err)
		}
		stats.ByUser[fmt.Sprintf("%s (%s)", name, email)] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("activity stats by user: %w", err)
	}

	rows, err = d.db.Query(`
SELECT strftime('%Y-%m-%d', timestamp / 1000, 'unixepoch') AS day, COUNT(*) FROM activity_logs
WHERE timestamp >= ?
GROUP BY day
ORDER BY day ASC`, ms)
	if err != nil {
		return nil, fmt.Errorf("activity stats timeline: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var dc DayCount
		if err := rows.Scan(&dc.Date, &dc.Count); err != nil {
			return nil, fmt.Errorf("scan activity timeline: %w", err)
		}
		stats.Timeline = append(stats.Timeline, dc)
	}
	return stats, rows.Err()
}

// TopActions returns the most frequent actions since a point in time. A
// negative limit returns all of them.
func (d *DB) TopActions(since time.Time, limit int) ([]ActionCount, error) {
	rows, err := d.db.Query(`
SELECT action, COUNT(*) AS n FROM activity_logs
WHERE timestamp >= ?
GROUP BY action
ORDER BY n DESC, action ASC
LIMIT ?`, toMillis(since), limit)
	if err != nil {
		return nil, fmt.Errorf("top actions: %w", err)
	}
	defer rows.Close()

	out := []ActionCount{}
	for rows.Next() {
		var ac ActionCount
		if err := rows.Scan(&ac.Action, &ac.Count); err != nil {
			return nil, fmt.Errorf("scan action count: %w", err)
		}
		out = append(out, ac)
	}
	return out, rows.Err()
}

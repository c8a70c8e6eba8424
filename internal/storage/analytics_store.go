package storage

import (
	"fmt"
	"time"
)

// GrowthBucket counts the rows created within one period label.
type GrowthBucket struct {
	Period string `json:"period"`
	Total  int    `json:"total"`
	Active int    `json:"active"`
}

// RoleCounts splits a user count by role.
type RoleCounts struct {
	Admin int `json:"admin"`
	Agent int `json:"agent"`
	User  int `json:"user"`
}

// UserGrowthBucket counts users created within one period label.
type UserGrowthBucket struct {
	Period string     `json:"period"`
	Total  int        `json:"total"`
	Active int        `json:"active"`
	ByRole RoleCounts `json:"byRole"`
}

// ActivityBucket counts log entries within one period label.
type ActivityBucket struct {
	Period      string `json:"period"`
	Total       int    `json:"total"`
	UniqueUsers int    `json:"uniqueUsers"`
}

// AgentCounts is a snapshot of the agent population.
type AgentCounts struct {
	Total     int `json:"total"`
	Active    int `json:"active"`
	Inactive  int `json:"inactive"`
	Suspended int `json:"suspended"`
}

// UserCounts is a snapshot of the user population.
type UserCounts struct {
	Total  int        `json:"total"`
	Active int        `json:"active"`
	ByRole RoleCounts `json:"byRole"`
}

// AgentGrowth groups agents created since the given time by the strftime
// layout format.
func (d *DB) AgentGrowth(format string, since time.Time) ([]GrowthBucket, error) {
	rows, err := d.db.Query(`
SELECT strftime(?, created_at / 1000, 'unixepoch') AS period,
       COUNT(*),
       COALESCE(SUM(status = 'active'), 0)
FROM agents
WHERE created_at >= ?
GROUP BY period
ORDER BY period ASC`, format, toMillis(since))
	if err != nil {
		return nil, fmt.Errorf("agent growth: %w", err)
	}
	defer rows.Close()

	out := []GrowthBucket{}
	for rows.Next() {
		var b GrowthBucket
		if err := rows.Scan(&b.Period, &b.Total, &b.Active); err != nil {
			return nil, fmt.Errorf("scan agent growth: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// UserGrowth groups users created since the given time by the strftime
// layout format.
func (d *DB) UserGrowth(format string, since time.Time) ([]UserGrowthBucket, error) {
	rows, err := d.db.Query(`
SELECT strftime(?, created_at / 1000, 'unixepoch') AS period,
       COUNT(*),
       COALESCE(SUM(is_active = 1), 0),
       COALESCE(SUM(role = 'admin'), 0),
       COALESCE(SUM(role = 'agent'), 0),
       COALESCE(SUM(role = 'user'), 0)
FROM users
WHERE created_at >= ?
GROUP BY period
ORDER BY period ASC`, format, toMillis(since))
	if err != nil {
		return nil, fmt.Errorf("user growth: %w", err)
	}
	defer rows.Close()

	out := []UserGrowthBucket{}
	for rows.Next() {
		var b UserGrowthBucket
		if err := rows.Scan(&b.Period, &b.Total, &b.Active,
			&b.ByRole.Admin, &b.ByRole.Agent, &b.ByRole.User); err != nil {
			return nil, fmt.Errorf("scan user growth: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ActivityBuckets groups log entries since the given time by the strftime
// layout format.
func (d *DB) ActivityBuckets(format string, since time.Time) ([]ActivityBucket, error) {
	rows, err := d.db.Query(`
SELECT strftime(?, timestamp / 1000, 'unixepoch') AS period,
       COUNT(*),
       COUNT(DISTINCT user_id)
FROM activity_logs
WHERE timestamp >= ?
GROUP BY period
ORDER BY period ASC`, format, toMillis(since))
	if err != nil {
		return nil, fmt.Errorf("activity buckets: %w", err)
	}
	defer rows.Close()

	out := []ActivityBucket{}
	for rows.Next() {
		var b ActivityBucket
		if err := rows.Scan(&b.Period, &b.Total, &b.UniqueUsers); err != nil {
			return nil, fmt.Errorf("scan activity bucket: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// CountAgentsCreated returns the number of agents created in [from, to).
func (d *DB) CountAgentsCreated(from, to time.Time) (int, error) {
	return d.countBetween("agents", "created_at", from, to)
}

// CountUsersCreated returns the number of users created in [from, to).
func (d *DB) CountUsersCreated(from, to time.Time) (int, error) {
	return d.countBetween("users", "created_at", from, to)
}

// CountActivityLogs returns the number of log entries recorded in [from, to).
func (d *DB) CountActivityLogs(from, to time.Time) (int, error) {
	return d.countBetween("activity_logs", "timestamp", from, to)
}

// countBetween is only called with constant table and column names.
func (d *DB) countBetween(table, column string, from, to time.Time) (int, error) {
	var n int
	q := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s >= ? AND %s < ?`, table, column, column)
	if err := d.db.QueryRow(q, toMillis(from), toMillis(to)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// GetAgentCounts returns the agent population by status.
func (d *DB) GetAgentCounts() (*AgentCounts, error) {
	c := &AgentCounts{}
	err := d.db.QueryRow(`
SELECT COUNT(*),
       COALESCE(SUM(status = 'active'), 0),
       COALESCE(SUM(status = 'inactive'), 0),
       COALESCE(SUM(status = 'suspended'), 0)
FROM agents`).Scan(&c.Total, &c.Active, &c.Inactive, &c.Suspended)
	if err != nil {
		return nil, fmt.Errorf("agent counts: %w", err)
	}
	return c, nil
}

// GetUserCounts returns the user population by activation and role.
func (d *DB) GetUserCounts() (*UserCounts, error) {
	c := &UserCounts{}
	err := d.db.QueryRow(`
SELECT COUNT(*),
       COALESCE(SUM(is_active = 1), 0),
       COALESCE(SUM(role = 'admin'), 0),
       COALESCE(SUM(role = 'agent'), 0),
       COALESCE(SUM(role = 'user'), 0)
FROM users`).Scan(&c.Total, &c.Active, &c.ByRole.Admin, &c.ByRole.Agent, &c.ByRole.User)
	if err != nil {
		return nil, fmt.Errorf("user counts: %w", err)
	}
	return c, nil
}

package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const taskSelect = `
SELECT t.id, t.title, t.description, t.agent_wallet, t.assigned_by, t.status, t.priority,
       t.due_date, t.started_at, t.completed_at, t.created_at, t.updated_at,
       a.device_id, u.email, TRIM(COALESCE(u.first_name, '') || ' ' || COALESCE(u.last_name, ''))
FROM tasks t
LEFT JOIN agents a ON t.agent_wallet = a.wallet_address
LEFT JOIN users u ON t.assigned_by = u.id`

// taskOrder ranks urgent first, then earliest due date with undated tasks
// last, then newest.
const taskOrder = `
ORDER BY CASE t.priority
    WHEN 'urgent' THEN 1
    WHEN 'high' THEN 2
    WHEN 'medium' THEN 3
    WHEN 'low' THEN 4
  END,
  t.due_date IS NULL,
  t.due_date ASC,
  t.created_at DESC`

func scanTask(row rowScanner) (*Task, error) {
	t := &Task{}
	var desc, assignedBy, deviceID, email, name sql.NullString
	var due, started, completed sql.NullInt64
	var created, updated int64
	if err := row.Scan(&t.ID, &t.Title, &desc, &t.AgentWallet, &assignedBy, &t.Status, &t.Priority,
		&due, &started, &completed, &created, &updated,
		&deviceID, &email, &name); err != nil {
		return nil, err
	}
	t.Description = desc.String
	t.AssignedBy = assignedBy.String
	t.DueDate = timePtr(due)
	t.StartedAt = timePtr(started)
	t.CompletedAt = timePtr(completed)
	t.CreatedAt = fromMillis(created)
	t.UpdatedAt = fromMillis(updated)
	t.AgentDeviceID = deviceID.String
	t.AssignedByEmail = email.String
	if assignedBy.Valid {
		t.AssignedByName = name.String
	}
	return t, nil
}

// CreateTask inserts a new task. An unknown agent wallet or assigning user
// yields ErrMissingReference.
func (d *DB) CreateTask(t *Task) error {
	_, err := d.db.Exec(
		`INSERT INTO tasks (id, title, description, agent_wallet, assigned_by, status, priority,
		                    due_date, started_at, completed_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, nullString(t.Description), t.AgentWallet, nullString(t.AssignedBy),
		t.Status, t.Priority, nullMillis(t.DueDate), nullMillis(t.StartedAt), nullMillis(t.CompletedAt),
		toMillis(t.CreatedAt), toMillis(t.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("create task: %w", classify(err))
	}
	return nil
}

// GetTask retrieves a task by ID with its joined agent and assigner fields.
func (d *DB) GetTask(id string) (*Task, error) {
	t, err := scanTask(d.db.QueryRow(taskSelect+` WHERE t.id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// TaskFilter narrows task listings. Zero values match everything.
type TaskFilter struct {
	AgentWallet string
	Status      TaskStatus
	Priority    TaskPriority
	AssignedBy  string
}

func (f TaskFilter) where() (string, []any) {
	var conds []string
	var args []any
	if f.AgentWallet != "" {
		conds = append(conds, "t.agent_wallet = ?")
		args = append(args, f.AgentWallet)
	}
	if f.Status != "" {
		conds = append(conds, "t.status = ?")
		args = append(args, f.Status)
	}
	if f.Priority != "" {
		conds = append(conds, "t.priority = ?")
		args = append(args, f.Priority)
	}
	if f.AssignedBy != "" {
		conds = append(conds, "t.assigned_by = ?")
		args = append(args, f.AssignedBy)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// ListTasks returns a page of tasks matching f in priority order.
func (d *DB) ListTasks(f TaskFilter, limit, offset int) ([]Task, error) {
	where, args := f.where()
	args = append(args, limit, offset)
	rows, err := d.db.Query(taskSelect+where+taskOrder+` LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// CountTasks returns the number of tasks matching f.
func (d *DB) CountTasks(f TaskFilter) (int, error) {
	where, args := f.where()
	var n int
	if err := d.db.QueryRow(`SELECT COUNT(*) FROM tasks t`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}
	return n, nil
}

// TaskUpdate lists the columns to change. Nil fields are left untouched.
type TaskUpdate struct {
	Title       *string
	Description *string
	Status      *TaskStatus
	Priority    *TaskPriority
	DueDate     *time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// UpdateTask applies u to the task only if its status is still expected.
// It reports false when no row matched: the task is gone or its status moved.
func (d *DB) UpdateTask(id string, expected TaskStatus, u TaskUpdate, at time.Time) (bool, error) {
	sets := []string{"updated_at = ?"}
	args := []any{toMillis(at)}
	if u.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *u.Title)
	}
	if u.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, nullString(*u.Description))
	}
	if u.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *u.Status)
	}
	if u.Priority != nil {
		sets = append(sets, "priority = ?")
		args = append(args, *u.Priority)
	}
	if u.DueDate != nil {
		sets = append(sets, "due_date = ?")
		args = append(args, toMillis(*u.DueDate))
	}
	if u.StartedAt != nil {
		sets = append(sets, "started_at = ?")
		args = append(args, toMillis(*u.StartedAt))
	}
	if u.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, toMillis(*u.CompletedAt))
	}
	args = append(args, id, expected)

	res, err := d.db.Exec(
		`UPDATE tasks SET `+strings.Join(sets, ", ")+` WHERE id = ? AND status = ?`, args...,
	)
	if err != nil {
		return false, fmt.Errorf("update task: %w", err)
	}
	return affected(res, "update task")
}

// StartTask moves a pending task to in_progress. It reports false when the
// task does not exist or is not pending.
func (d *DB) StartTask(id string, at time.Time) (bool, error) {
	ms := toMillis(at)
	res, err := d.db.Exec(
		`UPDATE tasks SET status = 'in_progress', started_at = ?, updated_at = ?
		 WHERE id = ? AND status = 'pending'`,
		ms, ms, id,
	)
	if err != nil {
		return false, fmt.Errorf("start task: %w", err)
	}
	return affected(res, "start task")
}

// CompleteTask moves any non-completed task to completed. It reports false
// when the task does not exist or is already completed.
func (d *DB) CompleteTask(id string, at time.Time) (bool, error) {
	ms := toMillis(at)
	res, err := d.db.Exec(
		`UPDATE tasks SET status = 'completed', completed_at = ?, updated_at = ?
		 WHERE id = ? AND status <> 'completed'`,
		ms, ms, id,
	)
	if err != nil {
		return false, fmt.Errorf("complete task: %w", err)
	}
	return affected(res, "complete task")
}

// DeleteTask removes a task.
func (d *DB) DeleteTask(id string) error {
	res, err := d.db.Exec(`DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return expectOne(res, "delete task")
}

// TaskStats counts tasks by status and priority.
type TaskStats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	InProgress int `json:"inProgress"`
	Completed  int `json:"completed"`
	Cancelled  int `json:"cancelled"`
	Urgent     int `json:"urgent"`
	High       int `json:"high"`
	Medium     int `json:"medium"`
	Low        int `json:"low"`
	Overdue    int `json:"overdue"`
}

// GetTaskStats aggregates the tasks matching f. Overdue tasks are those due
// before now that are neither completed nor cancelled.
func (d *DB) GetTaskStats(f TaskFilter, now time.Time) (*TaskStats, error) {
	where, args := f.where()
	args = append([]any{toMillis(now)}, args...)
	s := &TaskStats{}
	err := d.db.QueryRow(`
SELECT COUNT(*),
       COALESCE(SUM(t.status = 'pending'), 0),
       COALESCE(SUM(t.status = 'in_progress'), 0),
       COALESCE(SUM(t.status = 'completed'), 0),
       COALESCE(SUM(t.status = 'cancelled'), 0),
       COALESCE(SUM(t.priority = 'urgent'), 0),
       COALESCE(SUM(t.priority = 'high'), 0),
       COALESCE(SUM(t.priority = 'medium'), 0),
       COALESCE(SUM(t.priority = 'low'), 0),
       COALESCE(SUM(t.due_date IS NOT NULL AND t.due_date < ?
                    AND t.status NOT IN ('completed', 'cancelled')), 0)
FROM tasks t`+where, args...,
	).Scan(&s.Total, &s.Pending, &s.InProgress, &s.Completed, &s.Cancelled,
		&s.Urgent, &s.High, &s.Medium, &s.Low, &s.Overdue)
	if err != nil {
		return nil, fmt.Errorf("task stats: %w", err)
	}
	return s, nil
}

func affected(res sql.Result, op string) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s rows affected: %w", op, err)
	}
	return n > 0, nil
}

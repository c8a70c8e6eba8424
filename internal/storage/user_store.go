package storage

import (
	"fmt"
	"strings"
	"time"
)

const userColumns = `id, email, password_hash, first_name, last_name, role, is_active, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	u := &User{}
	var active int
	var created, updated int64
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName,
		&u.Role, &active, &created, &updated); err != nil {
		return nil, err
	}
	u.IsActive = active == 1
	u.CreatedAt = fromMillis(created)
	u.UpdatedAt = fromMillis(updated)
	return u, nil
}

// CreateUser inserts a new user. A duplicate email yields ErrConflict.
func (d *DB) CreateUser(u *User) error {
	_, err := d.db.Exec(
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.PasswordHash, u.FirstName, u.LastName, u.Role,
		boolToInt(u.IsActive), toMillis(u.CreatedAt), toMillis(u.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("create user: %w", classify(err))
	}
	return nil
}

// GetUser retrieves a user by ID.
func (d *DB) GetUser(id string) (*User, error) {
	u, err := scanUser(d.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// GetUserByEmail retrieves a user by email. Emails are stored lowercased.
func (d *DB) GetUserByEmail(email string) (*User, error) {
	u, err := scanUser(d.db.QueryRow(`SELECT `+userColumns+` FROM users WHERE email = ?`, email))
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

// UserFilter narrows ListUsers. Zero values match everything.
type UserFilter struct {
	Role   Role
	Active *bool
	Search string
}

// ListUsers returns users matching f, newest first.
func (d *DB) ListUsers(f UserFilter) ([]User, error) {
	var where []string
	var args []any
	if f.Role != "" {
		where = append(where, "role = ?")
		args = append(args, f.Role)
	}
	if f.Active != nil {
		where = append(where, "is_active = ?")
		args = append(args, boolToInt(*f.Active))
	}
	if f.Search != "" {
		like := containsPattern(f.Search)
		where = append(where, `(LOWER(email) LIKE ? ESCAPE '\' OR LOWER(first_name) LIKE ? ESCAPE '\' OR LOWER(last_name) LIKE ? ESCAPE '\')`)
		args = append(args, like, like, like)
	}

	q := `SELECT ` + userColumns + ` FROM users`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC"

	rows, err := d.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// UpdateUserRole sets a user's role.
func (d *DB) UpdateUserRole(id string, role Role, at time.Time) error {
	res, err := d.db.Exec(`UPDATE users SET role = ?, updated_at = ? WHERE id = ?`, role, toMillis(at), id)
	if err != nil {
		return fmt.Errorf("update user role: %w", err)
	}
	return expectOne(res, "update user role")
}

// SetUserActive sets a user's activation flag.
func (d *DB) SetUserActive(id string, active bool, at time.Time) error {
	res, err := d.db.Exec(`UPDATE users SET is_active = ?, updated_at = ? WHERE id = ?`,
		boolToInt(active), toMillis(at), id)
	if err != nil {
		return fmt.Errorf("set user active: %w", err)
	}
	return expectOne(res, "set user active")
}

package storage

import (
	"fmt"
	"time"
)

const agentColumns = `id, device_id, wallet_address, status, created_at, updated_at`

func scanAgent(row rowScanner) (*Agent, error) {
	a := &Agent{}
	var created, updated int64
	if err := row.Scan(&a.ID, &a.DeviceID, &a.WalletAddress, &a.Status, &created, &updated); err != nil {
		return nil, err
	}
	a.CreatedAt = fromMillis(created)
	a.UpdatedAt = fromMillis(updated)
	return a, nil
}

// CreateAgent inserts a new agent record. A duplicate device id or wallet
// yields ErrConflict.
func (d *DB) CreateAgent(a *Agent) error {
	_, err := d.db.Exec(
		`INSERT INTO agents (`+agentColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.DeviceID, a.WalletAddress, a.Status, toMillis(a.CreatedAt), toMillis(a.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("create agent: %w", classify(err))
	}
	return nil
}

// GetAgent retrieves an agent by ID.
func (d *DB) GetAgent(id string) (*Agent, error) {
	a, err := scanAgent(d.db.QueryRow(`SELECT `+agentColumns+` FROM agents WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return a, nil
}

// GetAgentByWallet retrieves an agent by wallet address.
func (d *DB) GetAgentByWallet(wallet string) (*Agent, error) {
	a, err := scanAgent(d.db.QueryRow(`SELECT `+agentColumns+` FROM agents WHERE wallet_address = ?`, wallet))
	if err != nil {
		return nil, fmt.Errorf("get agent by wallet: %w", err)
	}
	return a, nil
}

// FindAgentByDeviceOrWallet returns the agent holding either identifier.
// The device id match wins when two different agents qualify.
func (d *DB) FindAgentByDeviceOrWallet(deviceID, wallet string) (*Agent, error) {
	a, err := scanAgent(d.db.QueryRow(
		`SELECT `+agentColumns+` FROM agents
		 WHERE device_id = ? OR wallet_address = ?
		 ORDER BY device_id = ? DESC LIMIT 1`,
		deviceID, wallet, deviceID,
	))
	if err != nil {
		return nil, fmt.Errorf("find agent: %w", err)
	}
	return a, nil
}

// ListAgents returns a page of agents, newest first.
func (d *DB) ListAgents(limit, offset int) ([]Agent, error) {
	rows, err := d.db.Query(
		`SELECT `+agentColumns+` FROM agents ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	agents := []Agent{}
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, *a)
	}
	return agents, rows.Err()
}

// CountAgents returns the number of registered agents.
func (d *DB) CountAgents() (int, error) {
	var n int
	if err := d.db.QueryRow(`SELECT COUNT(*) FROM agents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count agents: %w", err)
	}
	return n, nil
}

// UpdateAgentStatus sets the status for an agent.
func (d *DB) UpdateAgentStatus(id string, status AgentStatus, at time.Time) error {
	res, err := d.db.Exec(
		`UPDATE agents SET status = ?, updated_at = ? WHERE id = ?`,
		status, toMillis(at), id,
	)
	if err != nil {
		return fmt.Errorf("update agent status: %w", err)
	}
	return expectOne(res, "update agent status")
}

// DeleteAgent removes an agent. Its tasks are removed by the foreign key cascade.
func (d *DB) DeleteAgent(id string) error {
	res, err := d.db.Exec(`DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	return expectOne(res, "delete agent")
}

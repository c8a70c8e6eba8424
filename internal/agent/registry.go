// Package agent manages registered devices and the wallets that own tasks.
package agent

import (
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ssd-technologies/atlas/internal/apperr"
	"github.com/ssd-technologies/atlas/internal/auth"
	"github.com/ssd-technologies/atlas/internal/storage"
)

// DefaultListLimit is the page size used when a listing does not set one.
const DefaultListLimit = 50

// MaxListLimit caps the page size of agent listings.
const MaxListLimit = 100

var walletPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

var (
	ErrInvalidWallet  = apperr.New(apperr.Validation, "invalid wallet address format")
	ErrDeviceRequired = apperr.New(apperr.Validation, "device id is required")
	ErrInvalidStatus  = apperr.New(apperr.Validation, "status must be one of active, inactive, suspended")
	ErrNotFound       = apperr.New(apperr.NotFound, "agent not found")
)

// ValidWallet reports whether s is "0x" followed by exactly 40 hex digits.
func ValidWallet(s string) bool {
	return walletPattern.MatchString(s)
}

// ConflictError is returned when a device id or wallet is already
// registered. Existing is the record that holds it.
type ConflictError struct {
	Existing *storage.Agent
}

func (e *ConflictError) Error() string {
	return "agent with this device id or wallet address already exists"
}

// Unwrap lets the error classify as apperr.Conflict.
func (e *ConflictError) Unwrap() error {
	return apperr.New(apperr.Conflict, e.Error())
}

// Registration is the result of a successful Register.
type Registration struct {
	Agent        *storage.Agent `json:"agent"`
	Token        string         `json:"token"`
	RefreshToken string         `json:"refreshToken"`
}

// Registry registers agents and administers their status.
type Registry struct {
	db     *storage.DB
	tokens *auth.Issuer
	now    func() time.Time
}

// NewRegistry creates a Registry.
func NewRegistry(db *storage.DB, tokens *auth.Issuer) *Registry {
	return &Registry{db: db, tokens: tokens, now: time.Now}
}

// Register records a new device and issues its token pair. Registering a
// device id or wallet that already exists returns a *ConflictError carrying
// the existing record and creates nothing.
func (r *Registry) Register(deviceID, wallet string) (*Registration, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return nil, ErrDeviceRequired
	}
	if !ValidWallet(wallet) {
		return nil, ErrInvalidWallet
	}

	existing, err := r.db.FindAgentByDeviceOrWallet(deviceID, wallet)
	if err == nil {
		return nil, &ConflictError{Existing: existing}
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	now := r.now()
	a := &storage.Agent{
		ID:            uuid.NewString(),
		DeviceID:      deviceID,
		WalletAddress: wallet,
		Status:        storage.AgentActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := r.db.CreateAgent(a); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			// Lost a race with a concurrent registration.
			if existing, ferr := r.db.FindAgentByDeviceOrWallet(deviceID, wallet); ferr == nil {
				return nil, &ConflictError{Existing: existing}
			}
		}
		return nil, err
	}

	token, err := r.TokenFor(a)
	if err != nil {
		return nil, err
	}
	refresh, err := r.tokens.IssueDeviceRefreshToken(a.ID, a.DeviceID)
	if err != nil {
		return nil, err
	}
	return &Registration{Agent: a, Token: token, RefreshToken: refresh}, nil
}

// TokenFor issues an access token for a registered agent.
func (r *Registry) TokenFor(a *storage.Agent) (string, error) {
	return r.tokens.IssueAccessToken(auth.AgentClaims(a))
}

// List returns a page of agents, newest first, with offset pagination.
func (r *Registry) List(limit, offset int) ([]storage.Agent, storage.Pagination, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		return nil, storage.Pagination{}, apperr.Invalid("limit must be at most %d", MaxListLimit)
	}
	if offset < 0 {
		return nil, storage.Pagination{}, apperr.Invalid("offset must not be negative")
	}
	total, err := r.db.CountAgents()
	if err != nil {
		return nil, storage.Pagination{}, err
	}
	agents, err := r.db.ListAgents(limit, offset)
	if err != nil {
		return nil, storage.Pagination{}, err
	}
	return agents, storage.NewOffsetPagination(limit, offset, total), nil
}

// Get returns the agent with id.
func (r *Registry) Get(id string) (*storage.Agent, error) {
	a, err := r.db.GetAgent(id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

// UpdateStatus changes an agent's status and returns the updated record.
func (r *Registry) UpdateStatus(id string, status storage.AgentStatus) (*storage.Agent, error) {
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}
	err := r.db.UpdateAgentStatus(id, status, r.now())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update agent %s: %w", id, err)
	}
	return r.Get(id)
}

// Delete removes an agent and, through the foreign key, its tasks. The
// deleted record is returned for auditing.
func (r *Registry) Delete(id string) (*storage.Agent, error) {
	a, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	err = r.db.DeleteAgent(id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

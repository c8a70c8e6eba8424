package auth

import (
	"database/sql"
	"errors"

	"github.com/ssd-technologies/atlas/internal/apperr"
	"github.com/ssd-technologies/atlas/internal/storage"
)

// ErrAgentSuspended is returned when a suspended agent presents a token.
var ErrAgentSuspended = apperr.New(apperr.Forbidden, "agent is suspended")

// Principal is the authenticated caller of a request. Agents registered
// through the device registry carry a wallet address; user accounts do not.
type Principal struct {
	ID            string       `json:"id"`
	Email         string       `json:"email,omitempty"`
	Name          string       `json:"name"`
	Role          storage.Role `json:"role"`
	DeviceID      string       `json:"deviceId,omitempty"`
	WalletAddress string       `json:"walletAddress,omitempty"`
}

func (p *Principal) IsAdmin() bool { return p.Role == storage.RoleAdmin }

func (p *Principal) IsAgent() bool { return p.Role == storage.RoleAgent }

// IsDevice reports whether the principal is a registered device rather than
// a user account.
func (p *Principal) IsDevice() bool { return p.DeviceID != "" }

// Authenticator resolves access tokens to principals. The store is consulted
// on every call so role changes, deactivation and suspension take effect
// immediately.
type Authenticator struct {
	tokens *Issuer
	db     *storage.DB
}

// AgentClaims returns the access token claims of a registered device.
func AgentClaims(a *storage.Agent) Claims {
	return Claims{
		ID:            a.ID,
		Role:          storage.RoleAgent,
		DeviceID:      a.DeviceID,
		WalletAddress: a.WalletAddress,
	}
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(tokens *Issuer, db *storage.DB) *Authenticator {
	return &Authenticator{tokens: tokens, db: db}
}

// Authenticate verifies an access token and loads its principal.
func (a *Authenticator) Authenticate(token string) (*Principal, error) {
	claims, err := a.tokens.Verify(token, AccessToken)
	if err != nil {
		return nil, err
	}

	if claims.DeviceID != "" {
		agent, err := a.db.GetAgent(claims.ID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidToken
		}
		if err != nil {
			return nil, err
		}
		if agent.Status == storage.AgentSuspended {
			return nil, ErrAgentSuspended
		}
		return &Principal{
			ID:            agent.ID,
			Name:          agent.DeviceID,
			Role:          storage.RoleAgent,
			DeviceID:      agent.DeviceID,
			WalletAddress: agent.WalletAddress,
		}, nil
	}

	u, err := a.db.GetUser(claims.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	if !u.IsActive {
		return nil, ErrAccountDisabled
	}
	name := u.Name()
	if name == "" {
		name = u.Email
	}
	return &Principal{ID: u.ID, Email: u.Email, Name: name, Role: u.Role}, nil
}

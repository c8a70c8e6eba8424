package auth

import (
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ssd-technologies/atlas/internal/apperr"
	"github.com/ssd-technologies/atlas/internal/crypto"
	"github.com/ssd-technologies/atlas/internal/storage"
)

const minPasswordLen = 6

var (
	ErrDuplicateEmail     = apperr.New(apperr.Conflict, "user with this email already exists")
	ErrInvalidCredentials = apperr.New(apperr.Unauthorized, "invalid email or password")
	ErrAccountDisabled    = apperr.New(apperr.Forbidden, "account is disabled")
	ErrUserNotFound       = apperr.New(apperr.NotFound, "user not found")
)

// dummyHash is verified against when the email is unknown so that a miss
// costs the same as a wrong password.
var dummyHash = crypto.HashPassword("atlas-dummy-password")

// Service implements account registration, login and token refresh.
type Service struct {
	db     *storage.DB
	tokens *Issuer
	now    func() time.Time
}

// NewService creates an auth service.
func NewService(db *storage.DB, tokens *Issuer) *Service {
	return &Service{db: db, tokens: tokens, now: time.Now}
}

// RegisterInput is the payload of a registration request.
type RegisterInput struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// Session is returned by a successful login.
type Session struct {
	User         *storage.User `json:"user"`
	AccessToken  string        `json:"accessToken"`
	RefreshToken string        `json:"refreshToken"`
}

// Register creates a new active user with the user role.
func (s *Service) Register(in RegisterInput) (*storage.User, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if len(in.Password) < minPasswordLen {
		return nil, apperr.Invalid("password must be at least %d characters", minPasswordLen)
	}
	return s.createUser(email, in.Password, strings.TrimSpace(in.FirstName), strings.TrimSpace(in.LastName), storage.RoleUser)
}

func (s *Service) createUser(email, password, first, last string, role storage.Role) (*storage.User, error) {
	now := s.now()
	u := &storage.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: crypto.HashPassword(password),
		FirstName:    first,
		LastName:     last,
		Role:         role,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.db.CreateUser(u); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}
	return u, nil
}

// Login verifies credentials and returns a fresh token pair.
func (s *Service) Login(email, password string) (*Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, apperr.Invalid("email and password are required")
	}
	u, err := s.db.GetUserByEmail(email)
	if errors.Is(err, sql.ErrNoRows) {
		crypto.VerifyPassword(password, dummyHash)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !crypto.VerifyPassword(password, u.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	if !u.IsActive {
		return nil, ErrAccountDisabled
	}

	return s.SessionFor(u)
}

// SessionFor issues a token pair for u.
func (s *Service) SessionFor(u *storage.User) (*Session, error) {
	access, err := s.AccessTokenFor(u)
	if err != nil {
		return nil, err
	}
	refresh, err := s.tokens.IssueRefreshToken(u.ID)
	if err != nil {
		return nil, err
	}
	return &Session{User: u, AccessToken: access, RefreshToken: refresh}, nil
}

// AccessTokenFor issues an access token carrying the user's identity.
func (s *Service) AccessTokenFor(u *storage.User) (string, error) {
	return s.tokens.IssueAccessToken(Claims{ID: u.ID, Email: u.Email, Role: u.Role})
}

// Refresh exchanges a refresh token for a new access token. The refresh
// token itself is not rotated. Device refresh tokens renew the agent's
// access token as long as the agent exists and is not suspended.
func (s *Service) Refresh(refreshToken string) (string, error) {
	if refreshToken == "" {
		return "", apperr.Invalid("refresh token is required")
	}
	claims, err := s.tokens.Verify(refreshToken, RefreshToken)
	if err != nil {
		return "", err
	}
	if claims.DeviceID != "" {
		return s.refreshAgent(claims.ID)
	}
	u, err := s.db.GetUser(claims.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrInvalidToken
	}
	if err != nil {
		return "", err
	}
	if !u.IsActive {
		return "", ErrAccountDisabled
	}
	return s.AccessTokenFor(u)
}

func (s *Service) refreshAgent(id string) (string, error) {
	a, err := s.db.GetAgent(id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrInvalidToken
	}
	if err != nil {
		return "", err
	}
	if a.Status == storage.AgentSuspended {
		return "", ErrAgentSuspended
	}
	return s.tokens.IssueAccessToken(AgentClaims(a))
}

// Profile returns the user with the given id.
func (s *Service) Profile(id string) (*storage.User, error) {
	u, err := s.db.GetUser(id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	return u, err
}

// EnsureAdmin makes sure an active admin account exists for email, creating
// it with password or promoting and reactivating an existing account. An
// existing account keeps its password.
func (s *Service) EnsureAdmin(email, password string) (*storage.User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	u, err := s.db.GetUserByEmail(email)
	if errors.Is(err, sql.ErrNoRows) {
		return s.createUser(email, password, "Admin", "", storage.RoleAdmin)
	}
	if err != nil {
		return nil, err
	}
	now := s.now()
	if u.Role != storage.RoleAdmin {
		if err := s.db.UpdateUserRole(u.ID, storage.RoleAdmin, now); err != nil {
			return nil, fmt.Errorf("promote admin: %w", err)
		}
		u.Role = storage.RoleAdmin
	}
	if !u.IsActive {
		if err := s.db.SetUserActive(u.ID, true, now); err != nil {
			return nil, fmt.Errorf("activate admin: %w", err)
		}
		u.IsActive = true
	}
	return u, nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", apperr.Invalid("email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apperr.Invalid("invalid email address")
	}
	return email, nil
}

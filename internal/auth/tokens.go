// Package auth issues and verifies bearer tokens and manages user accounts.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ssd-technologies/atlas/internal/apperr"
	"github.com/ssd-technologies/atlas/internal/config"
	"github.com/ssd-technologies/atlas/internal/storage"
)

// TokenKind distinguishes access tokens from refresh tokens.
type TokenKind string

const (
	AccessToken  TokenKind = "access"
	RefreshToken TokenKind = "refresh"
)

// ErrInvalidToken is returned for any token that fails verification.
var ErrInvalidToken = apperr.New(apperr.Unauthorized, "invalid or expired token")

// Claims is the JWT payload. Refresh tokens only carry ID.
type Claims struct {
	ID            string       `json:"id"`
	Email         string       `json:"email,omitempty"`
	Role          storage.Role `json:"role,omitempty"`
	DeviceID      string       `json:"deviceId,omitempty"`
	WalletAddress string       `json:"walletAddress,omitempty"`
	Kind          TokenKind    `json:"kind"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies HS256 tokens. Each kind has its own secret and
// lifetime.
type Issuer struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

// NewIssuer creates an Issuer from the JWT configuration.
func NewIssuer(cfg config.JWTConfig) *Issuer {
	return &Issuer{
		accessSecret:  []byte(cfg.Secret),
		refreshSecret: []byte(cfg.RefreshSecret),
		accessTTL:     cfg.ExpiresIn,
		refreshTTL:    cfg.RefreshTTL,
		now:           time.Now,
	}
}

// IssueAccessToken signs c as an access token.
func (i *Issuer) IssueAccessToken(c Claims) (string, error) {
	c.Kind = AccessToken
	return i.sign(c, i.accessSecret, i.accessTTL)
}

// IssueRefreshToken signs a refresh token for the principal id.
func (i *Issuer) IssueRefreshToken(id string) (string, error) {
	return i.sign(Claims{ID: id, Kind: RefreshToken}, i.refreshSecret, i.refreshTTL)
}

// IssueDeviceRefreshToken signs a refresh token for a registered device. The
// device id marks it so Refresh resolves it against the agent table.
func (i *Issuer) IssueDeviceRefreshToken(id, deviceID string) (string, error) {
	return i.sign(Claims{ID: id, DeviceID: deviceID, Kind: RefreshToken}, i.refreshSecret, i.refreshTTL)
}

func (i *Issuer) sign(c Claims, secret []byte, ttl time.Duration) (string, error) {
	now := i.now()
	c.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   c.ID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", c.Kind, err)
	}
	return token, nil
}

// Verify checks the signature, expiry and kind of token.
func (i *Issuer) Verify(token string, kind TokenKind) (*Claims, error) {
	secret := i.accessSecret
	if kind == RefreshToken {
		secret = i.refreshSecret
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}
	if claims.Kind != kind || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

package auth

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ssd-technologies/atlas/internal/apperr"
	"github.com/ssd-technologies/atlas/internal/config"
	"github.com/ssd-technologies/atlas/internal/storage"
)

func testDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testIssuer() *Issuer {
	return NewIssuer(config.JWTConfig{
		Secret:        "access-secret",
		ExpiresIn:     time.Hour,
		RefreshSecret: "refresh-secret",
		RefreshTTL:    24 * time.Hour,
	})
}

func setupService(t *testing.T) (*Service, *Authenticator, *storage.DB) {
	t.Helper()
	db := testDB(t)
	issuer := testIssuer()
	return NewService(db, issuer), NewAuthenticator(issuer, db), db
}

func TestIssuer_RoundTrip(t *testing.T) {
	issuer := testIssuer()
	token, err := issuer.IssueAccessToken(Claims{ID: "u1", Email: "a@example.com", Role: storage.RoleAdmin})
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	claims, err := issuer.Verify(token, AccessToken)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.ID != "u1" || claims.Email != "a@example.com" || claims.Role != storage.RoleAdmin {
		t.Errorf("claims = %+v", claims)
	}
}

func TestIssuer_KindsAreNotInterchangeable(t *testing.T) {
	issuer := testIssuer()
	access, _ := issuer.IssueAccessToken(Claims{ID: "u1"})
	refresh, _ := issuer.IssueRefreshToken("u1")

	if _, err := issuer.Verify(access, RefreshToken); apperr.KindOf(err) != apperr.Unauthorized {
		t.Errorf("access token accepted as refresh: %v", err)
	}
	if _, err := issuer.Verify(refresh, AccessToken); apperr.KindOf(err) != apperr.Unauthorized {
		t.Errorf("refresh token accepted as access: %v", err)
	}
	if _, err := issuer.Verify(refresh, RefreshToken); err != nil {
		t.Errorf("refresh token rejected: %v", err)
	}
}

func TestIssuer_Expired(t *testing.T) {
	issuer := testIssuer()
	issuer.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, _ := issuer.IssueAccessToken(Claims{ID: "u1"})

	issuer.now = time.Now
	if _, err := issuer.Verify(token, AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestIssuer_WrongSecret(t *testing.T) {
	token, _ := testIssuer().IssueAccessToken(Claims{ID: "u1"})
	other := NewIssuer(config.JWTConfig{Secret: "other", RefreshSecret: "other2", ExpiresIn: time.Hour, RefreshTTL: time.Hour})

	if _, err := other.Verify(token, AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if _, err := other.Verify("not.a.token", AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for garbage, got %v", err)
	}
}

func TestRegister(t *testing.T) {
	svc, _, _ := setupService(t)

	u, err := svc.Register(RegisterInput{Email: " Ada@Example.com ", Password: "secret1", FirstName: "Ada", LastName: "Lovelace"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if u.Email != "ada@example.com" || u.Role != storage.RoleUser || !u.IsActive {
		t.Errorf("user = %+v", u)
	}
	if !strings.HasPrefix(u.PasswordHash, "$argon2id$") {
		t.Errorf("password not hashed: %q", u.PasswordHash)
	}

	_, err = svc.Register(RegisterInput{Email: "ada@example.com", Password: "secret2"})
	if !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
	if apperr.KindOf(err).Status() != 409 {
		t.Errorf("duplicate email status = %d, want 409", apperr.KindOf(err).Status())
	}
}

func TestRegister_Validation(t *testing.T) {
	svc, _, _ := setupService(t)
	for _, in := range []RegisterInput{
		{Email: "", Password: "secret1"},
		{Email: "not-an-email", Password: "secret1"},
		{Email: "a@example.com", Password: "short"},
	} {
		if _, err := svc.Register(in); apperr.KindOf(err) != apperr.Validation {
			t.Errorf("Register(%+v) = %v, want validation error", in, err)
		}
	}
}

func TestLogin(t *testing.T) {
	svc, authn, _ := setupService(t)
	svc.Register(RegisterInput{Email: "ada@example.com", Password: "secret1", FirstName: "Ada"})

	session, err := svc.Login("ADA@example.com", "secret1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if session.AccessToken == "" || session.RefreshToken == "" {
		t.Fatal("expected both tokens")
	}
	p, err := authn.Authenticate(session.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if p.ID != session.User.ID || p.Name != "Ada" || p.Role != storage.RoleUser {
		t.Errorf("principal = %+v", p)
	}

	if _, err := svc.Login("ada@example.com", "wrong-pass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password: got %v", err)
	}
	if _, err := svc.Login("nobody@example.com", "secret1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown email: got %v", err)
	}
}

func TestLogin_DisabledAccount(t *testing.T) {
	svc, authn, db := setupService(t)
	u, _ := svc.Register(RegisterInput{Email: "ada@example.com", Password: "secret1"})
	session, _ := svc.Login("ada@example.com", "secret1")

	if err := db.SetUserActive(u.ID, false, time.Now()); err != nil {
		t.Fatalf("SetUserActive: %v", err)
	}
	if _, err := svc.Login("ada@example.com", "secret1"); !errors.Is(err, ErrAccountDisabled) {
		t.Errorf("Login: expected ErrAccountDisabled, got %v", err)
	}
	if _, err := authn.Authenticate(session.AccessToken); !errors.Is(err, ErrAccountDisabled) {
		t.Errorf("Authenticate: expected ErrAccountDisabled, got %v", err)
	}
	if _, err := svc.Refresh(session.RefreshToken); !errors.Is(err, ErrAccountDisabled) {
		t.Errorf("Refresh: expected ErrAccountDisabled, got %v", err)
	}
}

func TestRefresh_ReissuesAccessOnly(t *testing.T) {
	svc, authn, _ := setupService(t)
	svc.Register(RegisterInput{Email: "ada@example.com", Password: "secret1"})
	session, _ := svc.Login("ada@example.com", "secret1")

	access, err := svc.Refresh(session.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if _, err := authn.Authenticate(access); err != nil {
		t.Fatalf("refreshed token rejected: %v", err)
	}
	if _, err := svc.Refresh(session.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("access token used as refresh: got %v", err)
	}
}

func TestAuthenticate_RoleChangeTakesEffect(t *testing.T) {
	svc, authn, db := setupService(t)
	u, _ := svc.Register(RegisterInput{Email: "ada@example.com", Password: "secret1"})
	session, _ := svc.Login("ada@example.com", "secret1")

	db.UpdateUserRole(u.ID, storage.RoleAdmin, time.Now())
	p, err := authn.Authenticate(session.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if !p.IsAdmin() {
		t.Errorf("role = %q, want admin", p.Role)
	}
}

func TestAuthenticate_Agent(t *testing.T) {
	_, authn, db := setupService(t)
	agent := &storage.Agent{
		ID: uuid.NewString(), DeviceID: "device-1",
		WalletAddress: "0x1111111111111111111111111111111111111111",
		Status:        storage.AgentActive, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	if err := db.CreateAgent(agent); err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	token, _ := authn.tokens.IssueAccessToken(Claims{
		ID: agent.ID, Role: storage.RoleAgent, DeviceID: agent.DeviceID, WalletAddress: agent.WalletAddress,
	})

	p, err := authn.Authenticate(token)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if !p.IsAgent() || !p.IsDevice() || p.WalletAddress != agent.WalletAddress {
		t.Errorf("principal = %+v", p)
	}

	db.UpdateAgentStatus(agent.ID, storage.AgentSuspended, time.Now())
	if _, err := authn.Authenticate(token); !errors.Is(err, ErrAgentSuspended) {
		t.Errorf("suspended agent: got %v", err)
	}

	db.DeleteAgent(agent.ID)
	if _, err := authn.Authenticate(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("deleted agent: got %v", err)
	}
}

func TestRefresh_DeviceToken(t *testing.T) {
	svc, authn, db := setupService(t)
	agent := &storage.Agent{
		ID: uuid.NewString(), DeviceID: "device-1",
		WalletAddress: "0x1111111111111111111111111111111111111111",
		Status:        storage.AgentActive, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	if err := db.CreateAgent(agent); err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	refresh, err := svc.tokens.IssueDeviceRefreshToken(agent.ID, agent.DeviceID)
	if err != nil {
		t.Fatalf("IssueDeviceRefreshToken: %v", err)
	}

	access, err := svc.Refresh(refresh)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	p, err := authn.Authenticate(access)
	if err != nil {
		t.Fatalf("renewed token rejected: %v", err)
	}
	if !p.IsDevice() || p.ID != agent.ID || p.WalletAddress != agent.WalletAddress {
		t.Errorf("principal = %+v", p)
	}

	db.UpdateAgentStatus(agent.ID, storage.AgentSuspended, time.Now())
	if _, err := svc.Refresh(refresh); !errors.Is(err, ErrAgentSuspended) {
		t.Errorf("suspended agent: got %v", err)
	}

	db.DeleteAgent(agent.ID)
	if _, err := svc.Refresh(refresh); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("deleted agent: got %v", err)
	}
}

func TestEnsureAdmin(t *testing.T) {
	svc, _, _ := setupService(t)

	created, err := svc.EnsureAdmin("root@example.com", "bootstrap-pass")
	if err != nil {
		t.Fatalf("EnsureAdmin create: %v", err)
	}
	if created.Role != storage.RoleAdmin {
		t.Errorf("role = %q", created.Role)
	}
	if _, err := svc.Login("root@example.com", "bootstrap-pass"); err != nil {
		t.Errorf("bootstrap admin cannot log in: %v", err)
	}

	svc.Register(RegisterInput{Email: "ada@example.com", Password: "secret1"})
	promoted, err := svc.EnsureAdmin("ada@example.com", "ignored")
	if err != nil {
		t.Fatalf("EnsureAdmin promote: %v", err)
	}
	if promoted.Role != storage.RoleAdmin {
		t.Errorf("role = %q, want admin", promoted.Role)
	}
	if _, err := svc.Login("ada@example.com", "secret1"); err != nil {
		t.Errorf("promoted user should keep password: %v", err)
	}
}

package agent

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ssd-technologies/atlas/internal/apperr"
	"github.com/ssd-technologies/atlas/internal/auth"
	"github.com/ssd-technologies/atlas/internal/config"
	"github.com/ssd-technologies/atlas/internal/storage"
)

const wallet1 = "0x1111111111111111111111111111111111111111"

func setupRegistry(t *testing.T) (*Registry, *storage.DB, *auth.Issuer) {
	t.Helper()
	db, err := storage.NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	issuer := auth.NewIssuer(config.JWTConfig{
		Secret: "a", RefreshSecret: "b", ExpiresIn: time.Hour, RefreshTTL: time.Hour,
	})
	return NewRegistry(db, issuer), db, issuer
}

func TestValidWallet(t *testing.T) {
	valid := []string{
		wallet1,
		"0xABCDEFabcdef0123456789ABCDEFabcdef012345",
	}
	invalid := []string{
		"",
		"0x",
		"1111111111111111111111111111111111111111",
		"0X1111111111111111111111111111111111111111",
		"0x111111111111111111111111111111111111111",   // 39 digits
		"0x11111111111111111111111111111111111111111", // 41 digits
		"0x111111111111111111111111111111111111111g",
		" 0x1111111111111111111111111111111111111111",
		"0x1111111111111111111111111111111111111111\n",
	}
	for _, w := range valid {
		if !ValidWallet(w) {
			t.Errorf("ValidWallet(%q) = false, want true", w)
		}
	}
	for _, w := range invalid {
		if ValidWallet(w) {
			t.Errorf("ValidWallet(%q) = true, want false", w)
		}
	}
}

func TestRegister_InvalidWalletIsValidationError(t *testing.T) {
	r, db, _ := setupRegistry(t)
	for _, w := range []string{"0x123", "zz" + strings.Repeat("1", 40), wallet1 + "0"} {
		_, err := r.Register("device-1", w)
		if !errors.Is(err, ErrInvalidWallet) {
			t.Errorf("Register(%q): expected ErrInvalidWallet, got %v", w, err)
		}
		if apperr.KindOf(err) != apperr.Validation {
			t.Errorf("Register(%q): kind = %v, want Validation", w, apperr.KindOf(err))
		}
	}
	if n, _ := db.CountAgents(); n != 0 {
		t.Fatalf("invalid registrations created %d agents", n)
	}
}

func TestRegister_EmptyDevice(t *testing.T) {
	r, _, _ := setupRegistry(t)
	if _, err := r.Register("  ", wallet1); !errors.Is(err, ErrDeviceRequired) {
		t.Fatalf("expected ErrDeviceRequired, got %v", err)
	}
}

func TestRegister_IssuesAgentToken(t *testing.T) {
	r, _, issuer := setupRegistry(t)
	reg, err := r.Register("device-1", wallet1)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if reg.Agent.Status != storage.AgentActive {
		t.Errorf("Status = %q, want active", reg.Agent.Status)
	}
	claims, err := issuer.Verify(reg.Token, auth.AccessToken)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Role != storage.RoleAgent || claims.WalletAddress != wallet1 || claims.DeviceID != "device-1" {
		t.Errorf("claims = %+v", claims)
	}

	refresh, err := issuer.Verify(reg.RefreshToken, auth.RefreshToken)
	if err != nil {
		t.Fatalf("Verify refresh: %v", err)
	}
	if refresh.ID != reg.Agent.ID || refresh.DeviceID != "device-1" {
		t.Errorf("refresh claims = %+v", refresh)
	}
	if _, err := issuer.Verify(reg.RefreshToken, auth.AccessToken); err == nil {
		t.Error("refresh token accepted as access token")
	}
}

func TestRegister_DuplicateDeviceReturnsExisting(t *testing.T) {
	r, db, _ := setupRegistry(t)
	first, err := r.Register("device-1", wallet1)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	_, err = r.Register("device-1", "0x2222222222222222222222222222222222222222")
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected *ConflictError, got %v", err)
	}
	if conflict.Existing.ID != first.Agent.ID {
		t.Errorf("conflict carries %s, want first record %s", conflict.Existing.ID, first.Agent.ID)
	}
	if apperr.KindOf(err) != apperr.Conflict {
		t.Errorf("kind = %v, want Conflict", apperr.KindOf(err))
	}

	_, err = r.Register("device-2", wallet1)
	if !errors.As(err, &conflict) || conflict.Existing.ID != first.Agent.ID {
		t.Fatalf("duplicate wallet: got %v", err)
	}

	if n, _ := db.CountAgents(); n != 1 {
		t.Fatalf("CountAgents = %d, want 1", n)
	}
}

func TestList_Pagination(t *testing.T) {
	r, _, _ := setupRegistry(t)
	for i := 0; i < 3; i++ {
		w := "0x" + strings.Repeat(string(rune('1'+i)), 40)
		if _, err := r.Register("device-"+string(rune('a'+i)), w); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}

	agents, page, err := r.List(2, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(agents) != 2 || page.Total != 3 || !page.HasMore {
		t.Errorf("first page: len=%d page=%+v", len(agents), page)
	}
	agents, page, _ = r.List(2, 2)
	if len(agents) != 1 || page.HasMore {
		t.Errorf("second page: len=%d page=%+v", len(agents), page)
	}

	if _, _, err := r.List(MaxListLimit+1, 0); apperr.KindOf(err) != apperr.Validation {
		t.Errorf("oversized limit: got %v", err)
	}
}

func TestUpdateStatusAndDelete(t *testing.T) {
	r, _, _ := setupRegistry(t)
	reg, _ := r.Register("device-1", wallet1)

	a, err := r.UpdateStatus(reg.Agent.ID, storage.AgentSuspended)
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if a.Status != storage.AgentSuspended {
		t.Errorf("Status = %q", a.Status)
	}
	if _, err := r.UpdateStatus(reg.Agent.ID, "paused"); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("bad status: got %v", err)
	}
	if _, err := r.UpdateStatus("missing", storage.AgentActive); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing agent: got %v", err)
	}

	deleted, err := r.Delete(reg.Agent.ID)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if deleted.DeviceID != "device-1" {
		t.Errorf("deleted = %+v", deleted)
	}
	if _, err := r.Get(reg.Agent.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete: got %v", err)
	}
}

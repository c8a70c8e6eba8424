package storage

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

const (
	walletA = "0x1111111111111111111111111111111111111111"
	walletB = "0x2222222222222222222222222222222222222222"
)

func TestCreateAndGetAgent(t *testing.T) {
	db := testDB(t)
	a := seedAgent(t, db, "device-1", walletA)

	got, err := db.GetAgent(a.ID)
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if got.DeviceID != "device-1" || got.WalletAddress != walletA {
		t.Errorf("got %+v", got)
	}
	if got.Status != AgentActive {
		t.Errorf("Status = %q, want active", got.Status)
	}
	if !got.CreatedAt.Equal(a.CreatedAt.Truncate(time.Millisecond)) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, a.CreatedAt)
	}

	byWallet, err := db.GetAgentByWallet(walletA)
	if err != nil {
		t.Fatalf("GetAgentByWallet: %v", err)
	}
	if byWallet.ID != a.ID {
		t.Errorf("GetAgentByWallet returned %s, want %s", byWallet.ID, a.ID)
	}
}

func TestCreateAgent_Conflicts(t *testing.T) {
	db := testDB(t)
	seedAgent(t, db, "device-1", walletA)

	for name, a := range map[string]*Agent{
		"same device": {ID: uuid.NewString(), DeviceID: "device-1", WalletAddress: walletB, Status: AgentActive},
		"same wallet": {ID: uuid.NewString(), DeviceID: "device-2", WalletAddress: walletA, Status: AgentActive},
	} {
		t.Run(name, func(t *testing.T) {
			if err := db.CreateAgent(a); !errors.Is(err, ErrConflict) {
				t.Fatalf("expected ErrConflict, got %v", err)
			}
		})
	}

	n, _ := db.CountAgents()
	if n != 1 {
		t.Fatalf("CountAgents = %d, want 1", n)
	}
}

func TestFindAgentByDeviceOrWallet(t *testing.T) {
	db := testDB(t)
	first := seedAgent(t, db, "device-1", walletA)
	second := seedAgent(t, db, "device-2", walletB)

	got, err := db.FindAgentByDeviceOrWallet("device-1", "0xnope")
	if err != nil || got.ID != first.ID {
		t.Fatalf("by device: got %v, %v", got, err)
	}
	got, err = db.FindAgentByDeviceOrWallet("device-9", walletB)
	if err != nil || got.ID != second.ID {
		t.Fatalf("by wallet: got %v, %v", got, err)
	}
	got, err = db.FindAgentByDeviceOrWallet("device-1", walletB)
	if err != nil || got.ID != first.ID {
		t.Fatalf("device match should win: got %v, %v", got, err)
	}
	if _, err := db.FindAgentByDeviceOrWallet("device-9", "0xnope"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestListAgents_NewestFirst(t *testing.T) {
	db := testDB(t)
	base := time.Now().Add(-time.Hour)
	for i, w := range []string{walletA, walletB} {
		a := &Agent{
			ID:            uuid.NewString(),
			DeviceID:      w[:8] + "-dev",
			WalletAddress: w,
			Status:        AgentActive,
			CreatedAt:     base.Add(time.Duration(i) * time.Minute),
			UpdatedAt:     base,
		}
		if err := db.CreateAgent(a); err != nil {
			t.Fatalf("CreateAgent: %v", err)
		}
	}

	agents, err := db.ListAgents(10, 0)
	if err != nil {
		t.Fatalf("ListAgents: %v", err)
	}
	if len(agents) != 2 || agents[0].WalletAddress != walletB {
		t.Fatalf("expected newest first, got %+v", agents)
	}

	page, _ := db.ListAgents(1, 1)
	if len(page) != 1 || page[0].WalletAddress != walletA {
		t.Fatalf("offset page: got %+v", page)
	}
}

func TestUpdateAgentStatus(t *testing.T) {
	db := testDB(t)
	a := seedAgent(t, db, "device-1", walletA)

	if err := db.UpdateAgentStatus(a.ID, AgentSuspended, time.Now()); err != nil {
		t.Fatalf("UpdateAgentStatus: %v", err)
	}
	got, _ := db.GetAgent(a.ID)
	if got.Status != AgentSuspended {
		t.Errorf("Status = %q, want suspended", got.Status)
	}

	if err := db.UpdateAgentStatus("missing", AgentActive, time.Now()); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestDeleteAgent_CascadesTasks(t *testing.T) {
	db := testDB(t)
	a := seedAgent(t, db, "device-1", walletA)
	task := seedTask(t, db, walletA, PriorityMedium, nil)

	if err := db.DeleteAgent(a.ID); err != nil {
		t.Fatalf("DeleteAgent: %v", err)
	}
	if _, err := db.GetTask(task.ID); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("task should be removed with its agent, got %v", err)
	}
	if err := db.DeleteAgent(a.ID); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("second delete: expected sql.ErrNoRows, got %v", err)
	}
}

package storage

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
)

func TestAgentGrowth_Buckets(t *testing.T) {
	db := testDB(t)
	day1 := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC)
	for i, row := range []struct {
		at     time.Time
		status AgentStatus
	}{
		{day1, AgentActive},
		{day1.Add(time.Hour), AgentSuspended},
		{day2, AgentActive},
	} {
		a := &Agent{
			ID:            uuid.NewString(),
			DeviceID:      uuid.NewString(),
			WalletAddress: "0x" + string(rune('a'+i)),
			Status:        row.status,
			CreatedAt:     row.at,
			UpdatedAt:     row.at,
		}
		if err := db.CreateAgent(a); err != nil {
			t.Fatalf("CreateAgent: %v", err)
		}
	}

	got, err := db.AgentGrowth("%Y-%m-%d", day1.Add(-time.Hour))
	if err != nil {
		t.Fatalf("AgentGrowth: %v", err)
	}
	want := []GrowthBucket{
		{Period: "2026-03-10", Total: 2, Active: 1},
		{Period: "2026-03-11", Total: 1, Active: 1},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("growth mismatch (-want +got):\n%s", diff)
	}

	monthly, _ := db.AgentGrowth("%Y-%m", day1.Add(-time.Hour))
	if len(monthly) != 1 || monthly[0].Total != 3 {
		t.Errorf("monthly = %+v", monthly)
	}

	n, err := db.CountAgentsCreated(day1, day2)
	if err != nil {
		t.Fatalf("CountAgentsCreated: %v", err)
	}
	if n != 2 {
		t.Errorf("CountAgentsCreated = %d, want 2", n)
	}

	counts, err := db.GetAgentCounts()
	if err != nil {
		t.Fatalf("GetAgentCounts: %v", err)
	}
	if diff := cmp.Diff(&AgentCounts{Total: 3, Active: 2, Suspended: 1}, counts); diff != "" {
		t.Errorf("counts mismatch (-want +got):\n%s", diff)
	}
}

func TestUserGrowth_ByRole(t *testing.T) {
	db := testDB(t)
	seedUser(t, db, "a@example.com", RoleAdmin)
	seedUser(t, db, "b@example.com", RoleUser)
	c := seedUser(t, db, "c@example.com", RoleAgent)
	if err := db.SetUserActive(c.ID, false, time.Now()); err != nil {
		t.Fatalf("SetUserActive: %v", err)
	}

	got, err := db.UserGrowth("%Y", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("UserGrowth: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected one yearly bucket, got %+v", got)
	}
	want := UserGrowthBucket{
		Period: time.Now().UTC().Format("2006"),
		Total:  3,
		Active: 2,
		ByRole: RoleCounts{Admin: 1, Agent: 1, User: 1},
	}
	if diff := cmp.Diff(want, got[0]); diff != "" {
		t.Errorf("bucket mismatch (-want +got):\n%s", diff)
	}

	counts, _ := db.GetUserCounts()
	if counts.Total != 3 || counts.Active != 2 || counts.ByRole.Admin != 1 {
		t.Errorf("counts = %+v", counts)
	}
}

func TestActivityBuckets_UniqueUsers(t *testing.T) {
	db := testDB(t)
	at := time.Date(2026, 5, 1, 9, 15, 0, 0, time.UTC)
	seedLog(t, db, "u1", "Ada", "ada@example.com", "login", at)
	seedLog(t, db, "u1", "Ada", "ada@example.com", "login", at.Add(10*time.Minute))
	seedLog(t, db, "u2", "Grace", "grace@example.com", "login", at.Add(20*time.Minute))
	seedLog(t, db, "u2", "Grace", "grace@example.com", "login", at.Add(2*time.Hour))

	got, err := db.ActivityBuckets("%Y-%m-%d %H:00", at.Add(-time.Hour))
	if err != nil {
		t.Fatalf("ActivityBuckets: %v", err)
	}
	want := []ActivityBucket{
		{Period: "2026-05-01 09:00", Total: 3, UniqueUsers: 2},
		{Period: "2026-05-01 11:00", Total: 1, UniqueUsers: 1},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("buckets mismatch (-want +got):\n%s", diff)
	}

	n, _ := db.CountActivityLogs(at, at.Add(time.Hour))
	if n != 3 {
		t.Errorf("CountActivityLogs = %d, want 3", n)
	}
}

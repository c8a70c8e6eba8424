package analytics

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/ssd-technologies/atlas/internal/apperr"
	"github.com/ssd-technologies/atlas/internal/storage"
)

func TestPercentageChange(t *testing.T) {
	tests := []struct {
		current, previous int
		want              float64
	}{
		{0, 0, 0},
		{5, 0, 100},
		{0, 4, -100},
		{10, 10, 0},
		{15, 10, 50},
		{1, 3, -66.67},
		{2, 3, -33.33},
		{7, 3, 133.33},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_vs_%d", tt.current, tt.previous), func(t *testing.T) {
			if got := PercentageChange(tt.current, tt.previous); got != tt.want {
				t.Errorf("PercentageChange(%d, %d) = %v, want %v", tt.current, tt.previous, got, tt.want)
			}
		})
	}
}

func TestGrowthPeriod(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		format string
		since  time.Time
	}{
		{"day", "%Y-%m-%d", now.Add(-30 * day)},
		{"week", "%Y-W%W", now.Add(-84 * day)},
		{"month", "%Y-%m", time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)},
		{"year", "%Y", time.Date(2020, 6, 15, 12, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		p, err := GrowthPeriod(tt.name)
		if err != nil {
			t.Fatalf("GrowthPeriod(%s): %v", tt.name, err)
		}
		if p.Format != tt.format || !p.Window(now).Equal(tt.since) {
			t.Errorf("%s: format %q since %v", tt.name, p.Format, p.Window(now))
		}
	}
	if p, _ := GrowthPeriod(""); p.Name != "month" {
		t.Errorf("default period = %s, want month", p.Name)
	}
	if _, err := GrowthPeriod("decade"); apperr.KindOf(err) != apperr.Validation {
		t.Errorf("decade: got %v", err)
	}
}

func TestActivityPeriod(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	p, err := ActivityPeriod("", 0)
	if err != nil || p.Name != "day" || !p.Window(now).Equal(now.Add(-7*day)) {
		t.Errorf("default = %+v, %v", p.Name, err)
	}
	p, _ = ActivityPeriod("day", 14)
	if !p.Window(now).Equal(now.Add(-14 * day)) {
		t.Errorf("14 days window = %v", p.Window(now))
	}
	p, _ = ActivityPeriod("hour", 0)
	if p.Format != "%Y-%m-%d %H:00" {
		t.Errorf("hour format = %q", p.Format)
	}
	for _, bad := range []struct {
		name string
		days int
	}{{"month", 0}, {"day", -1}, {"day", 400}} {
		if _, err := ActivityPeriod(bad.name, bad.days); err == nil {
			t.Errorf("ActivityPeriod(%s, %d) should fail", bad.name, bad.days)
		}
	}
}

func testDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedAgentAt(t *testing.T, db *storage.DB, n int, status storage.AgentStatus, at time.Time) {
	t.Helper()
	a := &storage.Agent{
		ID:            uuid.NewString(),
		DeviceID:      fmt.Sprintf("device-%d", n),
		WalletAddress: fmt.Sprintf("0x%040d", n),
		Status:        status,
		CreatedAt:     at,
		UpdatedAt:     at,
	}
	if err := db.CreateAgent(a); err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
}

func TestAgentsGrowth(t *testing.T) {
	db := testDB(t)
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	s := NewService(db)
	s.now = func() time.Time { return now }

	// Two in the current 30-day window, one in the window before.
	seedAgentAt(t, db, 1, storage.AgentActive, now.Add(-2*day))
	seedAgentAt(t, db, 2, storage.AgentSuspended, now.Add(-10*day))
	seedAgentAt(t, db, 3, storage.AgentInactive, now.Add(-40*day))

	g, err := s.AgentsGrowth("day")
	if err != nil {
		t.Fatalf("AgentsGrowth: %v", err)
	}
	want := []storage.GrowthBucket{
		{Period: "2025-06-05", Total: 1, Active: 0},
		{Period: "2025-06-13", Total: 1, Active: 1},
	}
	if diff := cmp.Diff(want, g.Growth); diff != "" {
		t.Errorf("growth mismatch (-want +got):\n%s", diff)
	}
	wantStats := AgentStats{
		AgentCounts:      storage.AgentCounts{Total: 3, Active: 1, Inactive: 1, Suspended: 1},
		NewLastWeek:      1,
		PercentageChange: 100,
	}
	if diff := cmp.Diff(wantStats, g.Stats); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
}

func TestUsersGrowthAndOverview(t *testing.T) {
	db := testDB(t)
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	s := NewService(db)
	s.now = func() time.Time { return now }

	for i, role := range []storage.Role{storage.RoleAdmin, storage.RoleUser, storage.RoleUser} {
		u := &storage.User{
			ID: uuid.NewString(), Email: fmt.Sprintf("u%d@example.com", i), PasswordHash: "x",
			FirstName: "U", Role: role, IsActive: i != 2, CreatedAt: now.Add(-time.Hour), UpdatedAt: now,
		}
		if err := db.CreateUser(u); err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
		for j := 0; j <= i; j++ {
			l := &storage.ActivityLog{ID: uuid.NewString(), UserID: u.ID, UserName: "U", UserEmail: u.Email,
				Action: fmt.Sprintf("action_%d", j), TargetType: "user", Timestamp: now.Add(-time.Minute)}
			if err := db.CreateActivityLog(l); err != nil {
				t.Fatalf("CreateActivityLog: %v", err)
			}
		}
	}
	seedAgentAt(t, db, 1, storage.AgentActive, now.Add(-time.Hour))

	ug, err := s.UsersGrowth("month")
	if err != nil {
		t.Fatalf("UsersGrowth: %v", err)
	}
	if len(ug.Growth) != 1 || ug.Growth[0].Total != 3 || ug.Growth[0].Active != 2 || ug.Growth[0].ByRole.User != 2 {
		t.Errorf("user growth = %+v", ug.Growth)
	}

	act, err := s.Activity("day", 0)
	if err != nil {
		t.Fatalf("Activity: %v", err)
	}
	if len(act.Activity) != 1 || act.Activity[0].Total != 6 || act.Activity[0].UniqueUsers != 3 {
		t.Errorf("activity = %+v", act.Activity)
	}
	if act.TopActions[0].Action != "action_0" || act.TopActions[0].Count != 3 {
		t.Errorf("top actions = %+v", act.TopActions)
	}

	o, err := s.Overview()
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}
	if o.Agents.Total != 1 || o.Agents.NewThisWeek != 1 || o.Agents.NewThisMonth != 1 {
		t.Errorf("agents = %+v", o.Agents)
	}
	if o.Users.Total != 3 || o.Users.Active != 2 || o.Users.NewThisWeek != 3 || o.Users.ByRole.Admin != 1 {
		t.Errorf("users = %+v", o.Users)
	}
	if o.Logs.Total != 6 || o.Logs.Last24h != 6 || o.Logs.Last7d != 6 {
		t.Errorf("logs = %+v", o.Logs)
	}
	if o.Tasks == nil || o.Tasks.Total != 0 {
		t.Errorf("tasks = %+v", o.Tasks)
	}
	if len(o.RecentActivity) != 3 {
		t.Errorf("recent activity = %+v", o.RecentActivity)
	}
}

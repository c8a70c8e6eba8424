package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ssd-technologies/atlas/internal/config"
	"github.com/ssd-technologies/atlas/internal/server"
	"github.com/ssd-technologies/atlas/internal/storage"
)

const (
	walletA = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	walletB = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

func setupTestServer(t *testing.T) (*server.Server, *httptest.Server) {
	t.Helper()
	return setupServerWith(t, func(*config.Config) {})
}

func setupServerWith(t *testing.T, edit func(*config.Config)) (*server.Server, *httptest.Server) {
	t.Helper()
	db, err := storage.NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := config.Default()
	cfg.Server.Env = config.Test
	cfg.RateLimit.Requests = 0
	edit(&cfg)
	srv := server.New(cfg, db)
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		srv.Hub().Close()
		ts.Close()
	})
	return srv, ts
}

// adminClient returns a client holding an admin access token.
func adminClient(t *testing.T, srv *server.Server, ts *httptest.Server) *Client {
	t.Helper()
	if _, err := srv.Accounts().EnsureAdmin("admin@example.com", "admin-secret"); err != nil {
		t.Fatalf("EnsureAdmin: %v", err)
	}
	sess, err := srv.Accounts().Login("admin@example.com", "admin-secret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	return New(ts.URL, sess.AccessToken)
}

func assign(t *testing.T, admin *Client, wallet, title string) storage.Task {
	t.Helper()
	var task storage.Task
	err := admin.do(context.Background(), http.MethodPost, "/tasks", map[string]string{
		"title": title, "agentWallet": wallet,
	}, &task)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func TestRegisterAndTaskFlow(t *testing.T) {
	srv, ts := setupTestServer(t)
	admin := adminClient(t, srv, ts)
	ctx := context.Background()

	c := New(ts.URL+"/", "")
	reg, err := c.Register(ctx, "device-1", walletA)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if reg.Token == "" || reg.DeviceID != "device-1" || reg.Status != storage.AgentActive {
		t.Fatalf("registration = %+v", reg)
	}

	_, err = New(ts.URL, "").Register(ctx, "device-1", walletA)
	if !IsStatus(err, http.StatusConflict) {
		t.Fatalf("duplicate register err = %v", err)
	}

	if _, err := New(ts.URL, "").Register(ctx, "device-2", walletB); err != nil {
		t.Fatalf("Register B: %v", err)
	}
	task := assign(t, admin, walletA, "Sync ledger")
	assign(t, admin, walletB, "Not mine")

	list, err := c.Tasks(ctx, "")
	if err != nil {
		t.Fatalf("Tasks: %v", err)
	}
	if diff := cmp.Diff([]string{task.ID}, taskIDs(list)); diff != "" {
		t.Errorf("tasks (-want +got):\n%s", diff)
	}

	started, err := c.Start(ctx, task.ID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if started.Status != storage.TaskInProgress {
		t.Errorf("status = %s", started.Status)
	}
	if _, err := c.Start(ctx, task.ID); !IsStatus(err, http.StatusBadRequest) {
		t.Errorf("second start err = %v", err)
	}

	pending, err := c.Tasks(ctx, storage.TaskPending)
	if err != nil {
		t.Fatalf("Tasks(pending): %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending = %v", taskIDs(pending))
	}

	done, err := c.Complete(ctx, task.ID)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if done.Status != storage.TaskCompleted || done.CompletedAt == nil {
		t.Errorf("completed = %+v", done)
	}
}

func TestRenewsExpiredToken(t *testing.T) {
	_, ts := setupServerWith(t, func(cfg *config.Config) { cfg.JWT.ExpiresIn = time.Second })
	ctx := context.Background()

	reg, err := New(ts.URL, "").Register(ctx, "device-1", walletA)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if reg.RefreshToken == "" {
		t.Fatal("registration returned no refresh token")
	}

	var renewed []string
	c := New(ts.URL, reg.Token).WithRefresh(reg.RefreshToken, func(access string) {
		renewed = append(renewed, access)
	})
	bare := New(ts.URL, reg.Token)

	time.Sleep(2100 * time.Millisecond)
	if _, err := bare.Tasks(ctx, ""); !IsStatus(err, http.StatusUnauthorized) {
		t.Fatalf("expired token without refresh: err = %v", err)
	}
	if _, err := c.Tasks(ctx, ""); err != nil {
		t.Fatalf("Tasks after expiry: %v", err)
	}
	if len(renewed) != 1 || renewed[0] == reg.Token {
		t.Errorf("renewed = %v", renewed)
	}
}

func TestUnauthenticated(t *testing.T) {
	_, ts := setupTestServer(t)
	_, err := New(ts.URL, "").Tasks(context.Background(), "")
	if !IsStatus(err, http.StatusUnauthorized) {
		t.Fatalf("err = %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "access token required" {
		t.Errorf("message = %v", err)
	}
}

func TestWatchFiltersByWallet(t *testing.T) {
	srv, ts := setupTestServer(t)
	admin := adminClient(t, srv, ts)

	c := New(ts.URL, "")
	if _, err := c.Register(context.Background(), "device-1", walletA); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := New(ts.URL, "").Register(context.Background(), "device-2", walletB); err != nil {
		t.Fatalf("Register B: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := make(chan Event, 16)
	watchErr := make(chan error, 1)
	go func() {
		watchErr <- c.Watch(ctx, walletA, 200*time.Millisecond, func(e Event) { events <- e })
	}()

	deadline := time.Now().Add(5 * time.Second)
	for srv.Hub().Stats().Clients == 0 {
		if time.Now().After(deadline) {
			t.Fatal("watcher never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	assign(t, admin, walletB, "Not mine")
	mine := assign(t, admin, walletA, "Mine")

	select {
	case e := <-events:
		if e.Event != "taskCreated" {
			t.Errorf("event = %s", e.Event)
		}
		var got storage.Task
		if err := json.Unmarshal(e.Data, &got); err != nil || got.ID != mine.ID {
			t.Errorf("first event task = %+v (%v), want %s", got, err, mine.ID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no event received")
	}

	cancel()
	select {
	case err := <-watchErr:
		if err != nil {
			t.Errorf("Watch returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not stop")
	}
}

func TestWatchRejectsBadToken(t *testing.T) {
	_, ts := setupTestServer(t)
	err := New(ts.URL, "bogus").Watch(context.Background(), walletA, time.Second, func(Event) {})
	if !IsStatus(err, http.StatusUnauthorized) {
		t.Fatalf("err = %v", err)
	}
}

func TestIdentityRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "agent.json")
	want := Identity{Server: "http://localhost:3000", AgentID: "a1", DeviceID: "d1", WalletAddress: walletA, Token: "tok"}
	if err := SaveIdentity(path, want); err != nil {
		t.Fatalf("SaveIdentity: %v", err)
	}
	got, err := LoadIdentity(path)
	if err != nil {
		t.Fatalf("LoadIdentity: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("identity (-want +got):\n%s", diff)
	}

	if _, err := LoadIdentity(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing identity")
	}
	if err := SaveIdentity(path, Identity{Server: "x"}); err != nil {
		t.Fatalf("SaveIdentity: %v", err)
	}
	if _, err := LoadIdentity(path); err == nil {
		t.Error("expected error for identity without token")
	}
}

func taskIDs(list []storage.Task) []string {
	ids := make([]string, 0, len(list))
	for _, t := range list {
		ids = append(ids, t.ID)
	}
	return ids
}

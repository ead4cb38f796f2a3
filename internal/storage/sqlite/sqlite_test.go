package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/okanya/scriptbox/internal/approval"
	"github.com/okanya/scriptbox/internal/domain"
	"github.com/okanya/scriptbox/internal/registry"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "scriptbox.db")}, logger)
	if err != nil {
		t.Fatalf("opening sqlite: %v", err)
	}
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testInstance(name string) *domain.Instance {
	now := time.Now().UTC()
	return &domain.Instance{
		ID:                   uuid.New(),
		Name:                 name,
		Kind:                 domain.DatabasePostgres,
		Host:                 "db.internal",
		Port:                 5432,
		User:                 "svc_scripts",
		CredentialsEnvPrefix: "PG_MAIN",
		Enabled:              true,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

func testRequest(ttl time.Duration) *domain.ScriptRequest {
	now := time.Now().UTC()
	return &domain.ScriptRequest{
		ID:           uuid.New(),
		Title:        "count users",
		Script:       "const rows = await db.query('SELECT count(*) FROM users');",
		Language:     domain.LanguageJavaScript,
		DatabaseKind: domain.DatabasePostgres,
		InstanceName: "pg-main",
		RequestedBy:  "alice",
		Status:       domain.StatusPending,
		SubmittedAt:  now,
		ExpiresAt:    now.Add(ttl),
		UpdatedAt:    now,
	}
}

func TestStore_InstanceRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	inst := testInstance("pg-main")
	if err := s.Instances().SaveInstance(ctx, inst); err != nil {
		t.Fatalf("SaveInstance: %v", err)
	}

	got, err := s.Instances().InstanceByName(ctx, "pg-main")
	if err != nil {
		t.Fatalf("InstanceByName: %v", err)
	}
	if got.ID != inst.ID {
		t.Errorf("ID = %s, want %s", got.ID, inst.ID)
	}
	if got.Kind != domain.DatabasePostgres {
		t.Errorf("Kind = %q, want %q", got.Kind, domain.DatabasePostgres)
	}
	if got.Host != "db.internal" || got.Port != 5432 || got.User != "svc_scripts" {
		t.Errorf("connection fields = %q/%d/%q, want db.internal/5432/svc_scripts", got.Host, got.Port, got.User)
	}
	if got.CredentialsEnvPrefix != "PG_MAIN" {
		t.Errorf("CredentialsEnvPrefix = %q, want PG_MAIN", got.CredentialsEnvPrefix)
	}
	if !got.Enabled {
		t.Error("Enabled = false, want true")
	}
}

func TestStore_InstanceUpsertKeepsIdentity(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	inst := testInstance("pg-main")
	if err := s.Instances().SaveInstance(ctx, inst); err != nil {
		t.Fatalf("SaveInstance: %v", err)
	}

	update := testInstance("pg-main")
	update.Host = "db2.internal"
	update.Enabled = false
	if err := s.Instances().SaveInstance(ctx, update); err != nil {
		t.Fatalf("SaveInstance update: %v", err)
	}
	if update.ID != inst.ID {
		t.Errorf("upsert assigned ID %s, want original %s", update.ID, inst.ID)
	}

	got, err := s.Instances().InstanceByName(ctx, "pg-main")
	if err != nil {
		t.Fatalf("InstanceByName: %v", err)
	}
	if got.ID != inst.ID {
		t.Errorf("ID = %s, want original %s", got.ID, inst.ID)
	}
	if got.Host != "db2.internal" {
		t.Errorf("Host = %q, want db2.internal", got.Host)
	}
	if got.Enabled {
		t.Error("Enabled = true, want false after update")
	}
}

func TestStore_InstanceListSortsByName(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for _, name := range []string{"pg-reporting", "mongo-events", "pg-main"} {
		inst := testInstance(name)
		if name == "mongo-events" {
			inst.Kind = domain.DatabaseMongo
			inst.Host = ""
			inst.URI = "mongodb://mongo.internal:27017"
		}
		if err := s.Instances().SaveInstance(ctx, inst); err != nil {
			t.Fatalf("SaveInstance %q: %v", name, err)
		}
	}

	list, err := s.Instances().ListInstances(ctx)
	if err != nil {
		t.Fatalf("ListInstances: %v", err)
	}
	want := []string{"mongo-events", "pg-main", "pg-reporting"}
	if len(list) != len(want) {
		t.Fatalf("got %d instances, want %d", len(list), len(want))
	}
	for i, name := range want {
		if list[i].Name != name {
			t.Errorf("list[%d].Name = %q, want %q", i, list[i].Name, name)
		}
	}
}

func TestStore_InstanceDelete(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.Instances().SaveInstance(ctx, testInstance("pg-main")); err != nil {
		t.Fatalf("SaveInstance: %v", err)
	}
	if err := s.Instances().DeleteInstance(ctx, "pg-main"); err != nil {
		t.Fatalf("DeleteInstance: %v", err)
	}

	if _, err := s.Instances().InstanceByName(ctx, "pg-main"); !errors.Is(err, registry.ErrInstanceNotFound) {
		t.Errorf("InstanceByName after delete = %v, want ErrInstanceNotFound", err)
	}
	if err := s.Instances().DeleteInstance(ctx, "pg-main"); !errors.Is(err, registry.ErrInstanceNotFound) {
		t.Errorf("second DeleteInstance = %v, want ErrInstanceNotFound", err)
	}
}

func TestStore_RequestLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	req := testRequest(time.Hour)
	if err := s.Requests().Create(ctx, req); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.Requests().Get(ctx, req.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != domain.StatusPending {
		t.Fatalf("Status = %s, want pending", got.Status)
	}
	if got.Script != req.Script || got.Title != req.Title {
		t.Errorf("stored request lost content: %q / %q", got.Title, got.Script)
	}

	if err := s.Requests().Resolve(ctx, req.ID, domain.StatusApproved, "bob", "looks safe"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	got, err = s.Requests().Get(ctx, req.ID)
	if err != nil {
		t.Fatalf("Get after resolve: %v", err)
	}
	if got.Status != domain.StatusApproved {
		t.Errorf("Status = %s, want approved", got.Status)
	}
	if got.ReviewedBy != "bob" || got.Reason != "looks safe" {
		t.Errorf("review fields = %q/%q, want bob/looks safe", got.ReviewedBy, got.Reason)
	}
	if got.ReviewedAt == nil {
		t.Error("ReviewedAt not set")
	}

	outcome := json.RawMessage(`{"success":true,"returnValue":42}`)
	if err := s.Requests().SetOutcome(ctx, req.ID, domain.StatusExecuted, outcome); err != nil {
		t.Fatalf("SetOutcome: %v", err)
	}
	got, err = s.Requests().Get(ctx, req.ID)
	if err != nil {
		t.Fatalf("Get after outcome: %v", err)
	}
	if got.Status != domain.StatusExecuted {
		t.Errorf("Status = %s, want executed", got.Status)
	}
	if string(got.ExecutionResult) != string(outcome) {
		t.Errorf("ExecutionResult = %s, want %s", got.ExecutionResult, outcome)
	}
	if got.ExecutedAt == nil {
		t.Error("ExecutedAt not set")
	}
}

func TestStore_ResolveGuards(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.Requests().Resolve(ctx, uuid.New(), domain.StatusApproved, "bob", ""); !errors.Is(err, approval.ErrNotFound) {
		t.Errorf("Resolve unknown = %v, want ErrNotFound", err)
	}

	req := testRequest(time.Hour)
	if err := s.Requests().Create(ctx, req); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Requests().SetOutcome(ctx, req.ID, domain.StatusExecuted, nil); !errors.Is(err, approval.ErrNotApproved) {
		t.Errorf("SetOutcome on pending = %v, want ErrNotApproved", err)
	}

	if err := s.Requests().Resolve(ctx, req.ID, domain.StatusRejected, "bob", "no"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := s.Requests().Resolve(ctx, req.ID, domain.StatusApproved, "carol", ""); !errors.Is(err, approval.ErrAlreadyResolved) {
		t.Errorf("second Resolve = %v, want ErrAlreadyResolved", err)
	}
}

func TestStore_ExpiryOnAccess(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	stale := testRequest(-time.Minute)
	if err := s.Requests().Create(ctx, stale); err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := s.Requests().Get(ctx, stale.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != domain.StatusExpired {
		t.Errorf("Status = %s, want expired on access", got.Status)
	}

	stale2 := testRequest(-time.Minute)
	if err := s.Requests().Create(ctx, stale2); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Requests().Resolve(ctx, stale2.ID, domain.StatusApproved, "bob", ""); !errors.Is(err, approval.ErrExpired) {
		t.Errorf("Resolve past-due = %v, want ErrExpired", err)
	}
}

func TestStore_CleanupQueries(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		stale := testRequest(-time.Minute)
		stale.SubmittedAt = time.Now().UTC().Add(-time.Hour)
		if err := s.Requests().Create(ctx, stale); err != nil {
			t.Fatalf("Create stale: %v", err)
		}
	}
	fresh := testRequest(time.Hour)
	if err := s.Requests().Create(ctx, fresh); err != nil {
		t.Fatalf("Create fresh: %v", err)
	}

	expired, err := s.Requests().ExpireOld(ctx)
	if err != nil {
		t.Fatalf("ExpireOld: %v", err)
	}
	if expired != 2 {
		t.Errorf("ExpireOld = %d, want 2", expired)
	}

	deleted, err := s.Requests().DeleteResolved(ctx, 30*time.Minute)
	if err != nil {
		t.Fatalf("DeleteResolved: %v", err)
	}
	if deleted != 2 {
		t.Errorf("DeleteResolved = %d, want 2", deleted)
	}

	remaining, err := s.Requests().List(ctx, approval.ListFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != fresh.ID {
		t.Fatalf("remaining = %d requests, want only the fresh one", len(remaining))
	}
}

func TestStore_ListFilters(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	older := testRequest(time.Hour)
	older.SubmittedAt = time.Now().UTC().Add(-time.Hour)
	if err := s.Requests().Create(ctx, older); err != nil {
		t.Fatalf("Create older: %v", err)
	}
	newer := testRequest(time.Hour)
	if err := s.Requests().Create(ctx, newer); err != nil {
		t.Fatalf("Create newer: %v", err)
	}
	if err := s.Requests().Resolve(ctx, newer.ID, domain.StatusApproved, "bob", ""); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	all, err := s.Requests().List(ctx, approval.ListFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d requests, want 2", len(all))
	}
	if all[0].ID != newer.ID {
		t.Errorf("list[0] = %s, want newest first", all[0].ID)
	}

	pending := domain.StatusPending
	filtered, err := s.Requests().List(ctx, approval.ListFilter{Status: &pending})
	if err != nil {
		t.Fatalf("List filtered: %v", err)
	}
	if len(filtered) != 1 || filtered[0].ID != older.ID {
		t.Fatalf("filtered = %d requests, want only the pending one", len(filtered))
	}

	limited, err := s.Requests().List(ctx, approval.ListFilter{Limit: 1})
	if err != nil {
		t.Fatalf("List limited: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("limited = %d requests, want 1", len(limited))
	}
}

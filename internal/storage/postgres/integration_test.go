//go:build integration

package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/okanya/scriptbox/internal/approval"
	"github.com/okanya/scriptbox/internal/domain"
	"github.com/okanya/scriptbox/internal/registry"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set, skipping integration test")
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	db, err := Open(Config{DSN: dsn}, logger)
	if err != nil {
		t.Fatalf("opening postgres: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestInstanceRepository_RoundTrip(t *testing.T) {
	db := testDB(t)
	repo := NewInstanceRepository(db.GormDB())
	ctx := context.Background()

	name := fmt.Sprintf("pg-test-%s", uuid.New().String()[:8])
	now := time.Now().UTC()
	inst := &domain.Instance{
		ID:                   uuid.New(),
		Name:                 name,
		Kind:                 domain.DatabasePostgres,
		Host:                 "db.internal",
		Port:                 5432,
		User:                 "svc_scripts",
		CredentialsEnvPrefix: "PG_TEST",
		Enabled:              true,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := repo.SaveInstance(ctx, inst); err != nil {
		t.Fatalf("SaveInstance: %v", err)
	}
	t.Cleanup(func() { repo.DeleteInstance(ctx, name) })

	got, err := repo.InstanceByName(ctx, name)
	if err != nil {
		t.Fatalf("InstanceByName: %v", err)
	}
	if got.ID != inst.ID || got.Host != "db.internal" || got.CredentialsEnvPrefix != "PG_TEST" {
		t.Errorf("round trip mismatch: %+v", got)
	}

	if err := repo.DeleteInstance(ctx, name); err != nil {
		t.Fatalf("DeleteInstance: %v", err)
	}
	if _, err := repo.InstanceByName(ctx, name); !errors.Is(err, registry.ErrInstanceNotFound) {
		t.Errorf("InstanceByName after delete = %v, want ErrInstanceNotFound", err)
	}
}

func TestRequestRepository_Lifecycle(t *testing.T) {
	db := testDB(t)
	repo := NewRequestRepository(db.GormDB())
	ctx := context.Background()

	now := time.Now().UTC()
	req := &domain.ScriptRequest{
		ID:           uuid.New(),
		Title:        "count users",
		Script:       "const rows = await db.query('SELECT count(*) FROM users');",
		Language:     domain.LanguageJavaScript,
		DatabaseKind: domain.DatabasePostgres,
		InstanceName: "pg-main",
		RequestedBy:  "alice",
		Status:       domain.StatusPending,
		SubmittedAt:  now,
		ExpiresAt:    now.Add(time.Hour),
		UpdatedAt:    now,
	}
	if err := repo.Create(ctx, req); err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() {
		db.GormDB().Delete(&ScriptRequestModel{}, "id = ?", req.ID)
	})

	if err := repo.Resolve(ctx, req.ID, domain.StatusApproved, "bob", "ok"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := repo.Resolve(ctx, req.ID, domain.StatusApproved, "carol", ""); !errors.Is(err, approval.ErrAlreadyResolved) {
		t.Errorf("second Resolve = %v, want ErrAlreadyResolved", err)
	}

	if err := repo.SetOutcome(ctx, req.ID, domain.StatusExecuted, []byte(`{"success":true}`)); err != nil {
		t.Fatalf("SetOutcome: %v", err)
	}
	got, err := repo.Get(ctx, req.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != domain.StatusExecuted || got.ReviewedBy != "bob" {
		t.Errorf("final state = %s reviewed by %q, want executed/bob", got.Status, got.ReviewedBy)
	}
}

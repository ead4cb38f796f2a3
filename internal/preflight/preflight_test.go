package preflight

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/okanya/scriptbox/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPostgresDSN_Defaults(t *testing.T) {
	inst := &domain.Instance{
		Name: "pg-main",
		Kind: domain.DatabasePostgres,
		Host: "db.internal",
	}

	got := postgresDSN(inst)
	want := "postgres://postgres@db.internal:5432/postgres"
	if got != want {
		t.Errorf("dsn = %q, want %q", got, want)
	}
}

func TestPostgresDSN_EnvCredentials(t *testing.T) {
	t.Setenv("PG_MAIN_USER", "svc_scripts")
	t.Setenv("PG_MAIN_PASSWORD", "s3cr@t/értes")

	inst := &domain.Instance{
		Name:                 "pg-main",
		Kind:                 domain.DatabasePostgres,
		Host:                 "db.internal",
		Port:                 5433,
		User:                 "fallback_user",
		CredentialsEnvPrefix: "PG_MAIN",
	}

	got := postgresDSN(inst)
	if !strings.Contains(got, "svc_scripts:") {
		t.Errorf("dsn %q missing env user", got)
	}
	if !strings.Contains(got, "@db.internal:5433/postgres") {
		t.Errorf("dsn %q missing host:port", got)
	}
	if strings.Contains(got, "s3cr@t/értes") {
		t.Errorf("dsn %q contains unescaped password", got)
	}
}

func TestPostgresDSN_FallbackUser(t *testing.T) {
	inst := &domain.Instance{
		Name:                 "pg-main",
		Kind:                 domain.DatabasePostgres,
		Host:                 "db.internal",
		User:                 "svc_scripts",
		CredentialsEnvPrefix: "PREFLIGHT_UNSET_PREFIX",
	}

	got := postgresDSN(inst)
	want := "postgres://svc_scripts@db.internal:5432/postgres"
	if got != want {
		t.Errorf("dsn = %q, want %q", got, want)
	}
}

func TestMongoURI_EnvOverride(t *testing.T) {
	t.Setenv("MONGO_EVENTS_CONNECTION_STRING", "mongodb://svc:pw@mongo.internal:27017")

	inst := &domain.Instance{
		Name:                 "mongo-events",
		Kind:                 domain.DatabaseMongo,
		URI:                  "mongodb://mongo.internal:27017",
		CredentialsEnvPrefix: "MONGO_EVENTS",
	}

	if got := mongoURI(inst); got != "mongodb://svc:pw@mongo.internal:27017" {
		t.Errorf("uri = %q, want env override", got)
	}
}

func TestMongoURI_NoPrefix(t *testing.T) {
	inst := &domain.Instance{
		Name: "mongo-events",
		Kind: domain.DatabaseMongo,
		URI:  "mongodb://mongo.internal:27017",
	}

	if got := mongoURI(inst); got != inst.URI {
		t.Errorf("uri = %q, want stored URI", got)
	}
}

func TestCheck_UnsupportedKind(t *testing.T) {
	c := NewChecker(0, testLogger())
	err := c.Check(context.Background(), &domain.Instance{Name: "x", Kind: "mysql"})
	if err == nil {
		t.Fatal("expected error for unsupported kind")
	}
	if !strings.Contains(err.Error(), "unsupported database kind") {
		t.Errorf("error = %v, want unsupported kind", err)
	}
}

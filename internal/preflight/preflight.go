// Package preflight probes database instance connectivity before execution.
//
// Security:
//   - Credentials are resolved from the instance's env var prefix at probe
//     time, used for the connection attempt, and never retained or logged
//   - Probes authenticate only; they run no statements beyond the driver ping
//   - Each probe is bounded by its own timeout
package preflight

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver.
	goutils "github.com/jkaninda/go-utils"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoOptions "go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/okanya/scriptbox/internal/domain"
)

const defaultProbeTimeout = 5 * time.Second

// Prober is implemented by connectivity checkers.
type Prober interface {
	Check(ctx context.Context, inst *domain.Instance) error
}

// Checker verifies that an instance accepts connections with the
// credentials resolved from its env prefix.
type Checker struct {
	timeout time.Duration
	logger  *slog.Logger
}

// NewChecker creates a connectivity checker. A zero timeout uses the default.
func NewChecker(timeout time.Duration, logger *slog.Logger) *Checker {
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{timeout: timeout, logger: logger}
}

// Check probes the instance. A nil return means the server is reachable and
// the resolved credentials authenticate.
func (c *Checker) Check(ctx context.Context, inst *domain.Instance) error {
	probeCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	var err error
	switch inst.Kind {
	case domain.DatabasePostgres:
		err = c.checkPostgres(probeCtx, inst)
	case domain.DatabaseMongo:
		err = c.checkMongo(probeCtx, inst)
	default:
		return fmt.Errorf("unsupported database kind %q", inst.Kind)
	}

	if err != nil {
		return fmt.Errorf("instance %q unreachable: %w", inst.Name, err)
	}
	c.logger.Debug("preflight probe ok",
		slog.String("instance", inst.Name),
		slog.String("kind", string(inst.Kind)),
		slog.Duration("took", time.Since(start)),
	)
	return nil
}

// checkPostgres dials the maintenance database and pings it. Access to the
// script's target database is the worker's concern, not the probe's.
func (c *Checker) checkPostgres(ctx context.Context, inst *domain.Instance) error {
	db, err := sql.Open("pgx", postgresDSN(inst))
	if err != nil {
		return fmt.Errorf("opening connection: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

func (c *Checker) checkMongo(ctx context.Context, inst *domain.Instance) error {
	client, err := mongo.Connect(mongoOptions.Client().ApplyURI(mongoURI(inst)))
	if err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	defer func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = client.Disconnect(disconnectCtx)
	}()

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// postgresDSN builds the probe connection URL. User and password come from
// the instance's env prefix (<PREFIX>_USER, <PREFIX>_PASSWORD), falling back
// to the instance's configured user.
func postgresDSN(inst *domain.Instance) string {
	port := inst.Port
	if port == 0 {
		port = 5432
	}

	user := inst.User
	if user == "" {
		user = "postgres"
	}
	password := ""
	if prefix := inst.CredentialsEnvPrefix; prefix != "" {
		user = goutils.Env(prefix+"_USER", user)
		password = goutils.Env(prefix+"_PASSWORD", "")
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(inst.Host, strconv.Itoa(port)),
		Path:   "/postgres",
	}
	if password != "" {
		u.User = url.UserPassword(user, password)
	} else {
		u.User = url.User(user)
	}
	return u.String()
}

// mongoURI resolves the probe URI. <PREFIX>_CONNECTION_STRING overrides the
// instance URI so the stored record stays free of secrets.
func mongoURI(inst *domain.Instance) string {
	uri := inst.URI
	if prefix := inst.CredentialsEnvPrefix; prefix != "" {
		uri = goutils.Env(prefix+"_CONNECTION_STRING", uri)
	}
	return uri
}

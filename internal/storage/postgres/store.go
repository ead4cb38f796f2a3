package postgres

import (
	"context"
	"sync"

	"github.com/okanya/scriptbox/internal/approval"
	"github.com/okanya/scriptbox/internal/registry"
	"github.com/okanya/scriptbox/internal/storage"
)

// Store implements storage.Store backed by PostgreSQL.
// It wraps the existing DB and lazily creates sub-store repositories.
type Store struct {
	pgDB *DB

	mu        sync.Mutex
	instances registry.Store
	requests  approval.RequestStore
}

// NewStore wraps an existing DB as a unified Store.
func NewStore(pgDB *DB) *Store {
	return &Store{pgDB: pgDB}
}

func (s *Store) Migrate(_ context.Context) error {
	// PostgreSQL migration is done in Open() via autoMigrate.
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pgDB.Ping(ctx)
}

func (s *Store) Close() error {
	return s.pgDB.Close()
}

func (s *Store) Driver() string {
	return storage.DriverPostgres
}

// GormDB returns the underlying GORM DB for direct access when needed.
func (s *Store) GormDB() *DB {
	return s.pgDB
}

// --- Sub-store accessors ---

func (s *Store) Instances() registry.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.instances == nil {
		s.instances = NewInstanceRepository(s.pgDB.GormDB())
	}
	return s.instances
}

func (s *Store) Requests() approval.RequestStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.requests == nil {
		s.requests = NewRequestRepository(s.pgDB.GormDB())
	}
	return s.requests
}

// compile-time interface check
var _ storage.Store = (*Store)(nil)

// Package registry resolves named database instances for script execution.
// Instances come from two places: entries seeded from configuration, and an
// optional persistent store. Seeded entries win on name collision so a
// config file can pin or override what operators created at runtime.
//
// Credential material is never part of an instance record. Each instance
// carries only a CredentialsEnvPrefix naming the environment variables the
// worker's connection layer reads; the registry never sees secret values.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okanya/scriptbox/internal/domain"
)

// ErrInstanceNotFound is returned when no instance matches the requested
// name. Store implementations return it too so callers match one sentinel.
var ErrInstanceNotFound = errors.New("instance not found")

// ErrNoStore is returned by mutating operations when the registry runs
// without a persistent store.
var ErrNoStore = errors.New("no instance store configured")

// Store is the persistence contract for instance records. The storage
// backends implement it; lookups that miss return ErrInstanceNotFound.
type Store interface {
	InstanceByName(ctx context.Context, name string) (*domain.Instance, error)
	ListInstances(ctx context.Context) ([]domain.Instance, error)
	SaveInstance(ctx context.Context, inst *domain.Instance) error
	DeleteInstance(ctx context.Context, name string) error
}

// Registry merges config-seeded instances with an optional store.
// Thread-safe.
type Registry struct {
	mu     sync.RWMutex
	seeded map[string]domain.Instance
	store  Store // may be nil
	logger *slog.Logger
}

// New creates a registry. store may be nil for config-only deployments.
func New(store Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		seeded: make(map[string]domain.Instance),
		store:  store,
		logger: logger.With("component", "registry"),
	}
}

// Seed loads instances from configuration. Records without an ID get one
// assigned; records that fail validation abort the whole load.
func (r *Registry) Seed(instances []domain.Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range instances {
		inst := instances[i]
		inst.Name = strings.TrimSpace(inst.Name)
		if err := validate(&inst); err != nil {
			return fmt.Errorf("instance %q: %w", inst.Name, err)
		}
		if inst.ID == uuid.Nil {
			inst.ID = uuid.New()
		}
		if inst.CreatedAt.IsZero() {
			inst.CreatedAt = time.Now().UTC()
		}
		if _, dup := r.seeded[inst.Name]; dup {
			return fmt.Errorf("instance %q: duplicate name in configuration", inst.Name)
		}
		r.seeded[inst.Name] = inst
	}

	r.logger.Info("instance registry seeded", slog.Int("count", len(instances)))
	return nil
}

// Lookup finds the instance with the given name and checks it serves the
// requested database kind. The returned record is a copy.
func (r *Registry) Lookup(ctx context.Context, kind domain.DatabaseKind, name string) (*domain.Instance, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInstanceNotFound
	}

	r.mu.RLock()
	inst, ok := r.seeded[name]
	r.mu.RUnlock()

	if !ok {
		if r.store == nil {
			return nil, ErrInstanceNotFound
		}
		found, err := r.store.InstanceByName(ctx, name)
		if err != nil {
			return nil, err
		}
		inst = *found
	}

	if inst.Kind != kind {
		return nil, fmt.Errorf("instance %q serves %s, not %s", name, inst.Kind, kind)
	}
	return &inst, nil
}

// List returns every known instance sorted by name. Seeded entries shadow
// store entries with the same name.
func (r *Registry) List(ctx context.Context) ([]domain.Instance, error) {
	byName := make(map[string]domain.Instance)

	if r.store != nil {
		stored, err := r.store.ListInstances(ctx)
		if err != nil {
			return nil, err
		}
		for _, inst := range stored {
			byName[inst.Name] = inst
		}
	}

	r.mu.RLock()
	for name, inst := range r.seeded {
		byName[name] = inst
	}
	r.mu.RUnlock()

	out := make([]domain.Instance, 0, len(byName))
	for _, inst := range byName {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Save validates and persists an instance record.
func (r *Registry) Save(ctx context.Context, inst *domain.Instance) error {
	if r.store == nil {
		return ErrNoStore
	}
	inst.Name = strings.TrimSpace(inst.Name)
	if err := validate(inst); err != nil {
		return err
	}
	if inst.ID == uuid.Nil {
		inst.ID = uuid.New()
	}
	now := time.Now().UTC()
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = now
	}
	inst.UpdatedAt = now

	if err := r.store.SaveInstance(ctx, inst); err != nil {
		return err
	}
	r.logger.Info("instance saved",
		slog.String("name", inst.Name),
		slog.String("kind", string(inst.Kind)),
	)
	return nil
}

// Delete removes a stored instance. Seeded instances cannot be deleted at
// runtime; change the configuration instead.
func (r *Registry) Delete(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)

	r.mu.RLock()
	_, isSeeded := r.seeded[name]
	r.mu.RUnlock()
	if isSeeded {
		return fmt.Errorf("instance %q is defined in configuration and cannot be deleted", name)
	}
	if r.store == nil {
		return ErrNoStore
	}
	if err := r.store.DeleteInstance(ctx, name); err != nil {
		return err
	}
	r.logger.Info("instance deleted", slog.String("name", name))
	return nil
}

func validate(inst *domain.Instance) error {
	if inst.Name == "" {
		return errors.New("name is required")
	}
	if !inst.Kind.Valid() {
		return fmt.Errorf("unsupported database kind %q", string(inst.Kind))
	}
	switch inst.Kind {
	case domain.DatabasePostgres:
		if inst.Host == "" {
			return errors.New("postgresql instances require a host")
		}
	case domain.DatabaseMongo:
		if inst.URI == "" {
			return errors.New("mongodb instances require a connection URI")
		}
	}
	return nil
}

package postgres

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/okanya/scriptbox/internal/domain"
	"github.com/okanya/scriptbox/internal/registry"
)

// InstanceRepository implements registry.Store with PostgreSQL.
type InstanceRepository struct {
	db *gorm.DB
}

// NewInstanceRepository creates a PostgreSQL-backed instance store.
func NewInstanceRepository(db *gorm.DB) *InstanceRepository {
	return &InstanceRepository{db: db}
}

func (r *InstanceRepository) InstanceByName(ctx context.Context, name string) (*domain.Instance, error) {
	var model InstanceModel
	if err := r.db.WithContext(ctx).First(&model, "name = ?", name).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("%w: %q", registry.ErrInstanceNotFound, name)
		}
		return nil, fmt.Errorf("getting instance: %w", err)
	}
	return toInstanceDomain(&model), nil
}

func (r *InstanceRepository) ListInstances(ctx context.Context) ([]domain.Instance, error) {
	var models []InstanceModel
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing instances: %w", err)
	}
	instances := make([]domain.Instance, len(models))
	for i := range models {
		instances[i] = *toInstanceDomain(&models[i])
	}
	return instances, nil
}

// SaveInstance upserts by name: an existing row keeps its ID and CreatedAt,
// everything else is replaced.
func (r *InstanceRepository) SaveInstance(ctx context.Context, inst *domain.Instance) error {
	model := toInstanceModel(inst)
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing InstanceModel
		err := tx.First(&existing, "name = ?", inst.Name).Error
		switch {
		case err == gorm.ErrRecordNotFound:
			if err := tx.Create(&model).Error; err != nil {
				return fmt.Errorf("creating instance: %w", err)
			}
			return nil
		case err != nil:
			return fmt.Errorf("looking up instance: %w", err)
		}

		model.ID = existing.ID
		model.CreatedAt = existing.CreatedAt
		inst.ID = existing.ID
		inst.CreatedAt = existing.CreatedAt
		if err := tx.Save(&model).Error; err != nil {
			return fmt.Errorf("updating instance: %w", err)
		}
		return nil
	})
}

func (r *InstanceRepository) DeleteInstance(ctx context.Context, name string) error {
	result := r.db.WithContext(ctx).Delete(&InstanceModel{}, "name = ?", name)
	if result.Error != nil {
		return fmt.Errorf("deleting instance %q: %w", name, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %q", registry.ErrInstanceNotFound, name)
	}
	return nil
}

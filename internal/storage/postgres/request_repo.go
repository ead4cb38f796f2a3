package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/okanya/scriptbox/internal/approval"
	"github.com/okanya/scriptbox/internal/domain"
)

// RequestRepository implements approval.RequestStore with PostgreSQL.
type RequestRepository struct {
	db *gorm.DB
}

// NewRequestRepository creates a PostgreSQL-backed script request store.
func NewRequestRepository(db *gorm.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

// Create persists a new pending script request.
func (r *RequestRepository) Create(ctx context.Context, req *domain.ScriptRequest) error {
	model := toRequestModel(req)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("creating script request: %w", err)
	}
	return nil
}

// Get retrieves a request by ID, marking it expired if past ExpiresAt.
func (r *RequestRepository) Get(ctx context.Context, id uuid.UUID) (*domain.ScriptRequest, error) {
	var model ScriptRequestModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, approval.ErrNotFound
		}
		return nil, fmt.Errorf("getting script request: %w", err)
	}

	// Mark as expired on access if past TTL.
	if model.Status == int16(domain.StatusPending) && time.Now().UTC().After(model.ExpiresAt) {
		r.db.WithContext(ctx).Model(&model).Update("status", int16(domain.StatusExpired))
		model.Status = int16(domain.StatusExpired)
	}

	return toRequestDomain(&model), nil
}

// List returns requests newest first, optionally filtered by status.
func (r *RequestRepository) List(ctx context.Context, filter approval.ListFilter) ([]domain.ScriptRequest, error) {
	q := r.db.WithContext(ctx).Model(&ScriptRequestModel{}).Order("submitted_at DESC")
	if filter.Status != nil {
		q = q.Where("status = ?", int16(*filter.Status))
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var models []ScriptRequestModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing script requests: %w", err)
	}
	requests := make([]domain.ScriptRequest, len(models))
	for i := range models {
		requests[i] = *toRequestDomain(&models[i])
	}
	return requests, nil
}

// Resolve transitions a pending request to approved or rejected.
func (r *RequestRepository) Resolve(ctx context.Context, id uuid.UUID, status domain.RequestStatus, reviewer, reason string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model ScriptRequestModel
		if err := tx.First(&model, "id = ?", id).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return approval.ErrNotFound
			}
			return err
		}

		if model.Status == int16(domain.StatusExpired) {
			return approval.ErrExpired
		}
		if model.Status == int16(domain.StatusPending) && time.Now().UTC().After(model.ExpiresAt) {
			tx.Model(&model).Update("status", int16(domain.StatusExpired))
			return approval.ErrExpired
		}
		if model.Status != int16(domain.StatusPending) {
			return approval.ErrAlreadyResolved
		}

		now := time.Now().UTC()
		return tx.Model(&model).Updates(map[string]any{
			"status":      int16(status),
			"reviewed_by": reviewer,
			"reason":      reason,
			"reviewed_at": now,
		}).Error
	})
}

// SetOutcome records the execution result on an approved request.
func (r *RequestRepository) SetOutcome(ctx context.Context, id uuid.UUID, status domain.RequestStatus, result json.RawMessage) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model ScriptRequestModel
		if err := tx.First(&model, "id = ?", id).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return approval.ErrNotFound
			}
			return err
		}

		if model.Status != int16(domain.StatusApproved) {
			return approval.ErrNotApproved
		}

		now := time.Now().UTC()
		return tx.Model(&model).Updates(map[string]any{
			"status":           int16(status),
			"execution_result": JSONB(result),
			"executed_at":      now,
		}).Error
	})
}

// ExpireOld bulk-updates status to expired for all pending rows past expires_at.
func (r *RequestRepository) ExpireOld(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&ScriptRequestModel{}).
		Where("status = ? AND expires_at < ?", int16(domain.StatusPending), time.Now().UTC()).
		Update("status", int16(domain.StatusExpired))
	if result.Error != nil {
		return 0, fmt.Errorf("expiring script requests: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// DeleteResolved removes resolved/expired rows older than the given age.
func (r *RequestRepository) DeleteResolved(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	result := r.db.WithContext(ctx).
		Where("status != ? AND submitted_at < ?", int16(domain.StatusPending), cutoff).
		Delete(&ScriptRequestModel{})
	if result.Error != nil {
		return 0, fmt.Errorf("deleting resolved script requests: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Package approval implements the review workflow for submitted scripts:
// every script is held pending until a human approves or rejects it, and
// only approved requests can be dispatched to the execution engine.
package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/okanya/scriptbox/internal/domain"
	"github.com/okanya/scriptbox/internal/ratelimit"
)

var (
	ErrNotFound        = errors.New("request not found")
	ErrExpired         = errors.New("request expired")
	ErrAlreadyResolved = errors.New("request already resolved")
	ErrNotApproved     = errors.New("request is not approved")
)

// ListFilter narrows List results.
type ListFilter struct {
	Status *domain.RequestStatus
	Limit  int
}

// RequestStore is the persistence contract for script requests. The memory
// store and the storage backends implement it.
type RequestStore interface {
	// Create persists a new request.
	Create(ctx context.Context, req *domain.ScriptRequest) error
	// Get retrieves a request by ID.
	Get(ctx context.Context, id uuid.UUID) (*domain.ScriptRequest, error)
	// List returns requests, newest first.
	List(ctx context.Context, filter ListFilter) ([]domain.ScriptRequest, error)
	// Resolve transitions a pending request to approved or rejected,
	// enforcing the pending precondition and expiry.
	Resolve(ctx context.Context, id uuid.UUID, status domain.RequestStatus, reviewer, reason string) error
	// SetOutcome records the execution result on an approved request,
	// moving it to executed or failed.
	SetOutcome(ctx context.Context, id uuid.UUID, status domain.RequestStatus, result json.RawMessage) error
	// ExpireOld marks pending requests past their expiry. Returns the
	// number of requests expired.
	ExpireOld(ctx context.Context) (int64, error)
	// DeleteResolved removes non-pending requests older than the given
	// age. Returns the number removed.
	DeleteResolved(ctx context.Context, olderThan time.Duration) (int64, error)
}

// SubmitRequest is the input for a new script request.
type SubmitRequest struct {
	Title        string
	Script       string
	Language     domain.Language
	DatabaseKind domain.DatabaseKind
	InstanceName string
	DatabaseName string
	RequestedBy  string
}

// Manager runs the approval workflow on top of a RequestStore. Execution
// dispatch is the caller's job: fetch an approved request, run it, then
// record the outcome with MarkExecuted or MarkFailed.
type Manager struct {
	store   RequestStore
	ttl     time.Duration
	limiter *ratelimit.Limiter
	logger  *slog.Logger
}

// NewManager creates a Manager. ttl bounds how long a request may sit
// unreviewed before it expires.
func NewManager(store RequestStore, ttl time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  store,
		ttl:    ttl,
		logger: logger.With("component", "approval"),
	}
}

// WithRateLimit guards Submit with a per-submitter token bucket.
func (m *Manager) WithRateLimit(l *ratelimit.Limiter) *Manager {
	m.limiter = l
	return m
}

// Submit stores a new pending request and returns it.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (*domain.ScriptRequest, error) {
	if err := validateSubmit(&req); err != nil {
		return nil, err
	}

	if m.limiter != nil {
		if err := m.limiter.Allow(strings.TrimSpace(req.RequestedBy)); err != nil {
			return nil, fmt.Errorf("submitter %q: %w", strings.TrimSpace(req.RequestedBy), err)
		}
	}

	now := time.Now().UTC()
	sr := &domain.ScriptRequest{
		ID:           uuid.New(),
		Title:        strings.TrimSpace(req.Title),
		Script:       req.Script,
		Language:     req.Language,
		DatabaseKind: req.DatabaseKind,
		InstanceName: strings.TrimSpace(req.InstanceName),
		DatabaseName: strings.TrimSpace(req.DatabaseName),
		RequestedBy:  strings.TrimSpace(req.RequestedBy),
		Status:       domain.StatusPending,
		SubmittedAt:  now,
		ExpiresAt:    now.Add(m.ttl),
		UpdatedAt:    now,
	}

	if err := m.store.Create(ctx, sr); err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	m.logger.Info("script request submitted",
		slog.String("request_id", sr.ID.String()),
		slog.String("title", sr.Title),
		slog.String("requested_by", sr.RequestedBy),
		slog.String("instance", sr.InstanceName),
	)
	return sr, nil
}

// Get retrieves a request by ID.
func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*domain.ScriptRequest, error) {
	return m.store.Get(ctx, id)
}

// List returns requests, newest first.
func (m *Manager) List(ctx context.Context, filter ListFilter) ([]domain.ScriptRequest, error) {
	return m.store.List(ctx, filter)
}

// Approve marks a pending request approved.
func (m *Manager) Approve(ctx context.Context, id uuid.UUID, reviewer, reason string) error {
	if err := m.store.Resolve(ctx, id, domain.StatusApproved, reviewer, reason); err != nil {
		return err
	}
	m.logger.Info("script request approved",
		slog.String("request_id", id.String()),
		slog.String("reviewer", reviewer),
	)
	return nil
}

// Reject marks a pending request rejected.
func (m *Manager) Reject(ctx context.Context, id uuid.UUID, reviewer, reason string) error {
	if err := m.store.Resolve(ctx, id, domain.StatusRejected, reviewer, reason); err != nil {
		return err
	}
	m.logger.Info("script request rejected",
		slog.String("request_id", id.String()),
		slog.String("reviewer", reviewer),
	)
	return nil
}

// MarkExecuted records a successful execution result on an approved request.
func (m *Manager) MarkExecuted(ctx context.Context, id uuid.UUID, result json.RawMessage) error {
	return m.store.SetOutcome(ctx, id, domain.StatusExecuted, result)
}

// MarkFailed records a failed execution result on an approved request.
func (m *Manager) MarkFailed(ctx context.Context, id uuid.UUID, result json.RawMessage) error {
	return m.store.SetOutcome(ctx, id, domain.StatusFailed, result)
}

// StartCleanup runs expiry and retention of resolved requests on a ticker.
// Returns a cancel function.
func (m *Manager) StartCleanup(ctx context.Context, interval time.Duration) func() {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := m.store.ExpireOld(ctx); err != nil {
					m.logger.Error("expiring requests", slog.String("error", err.Error()))
				} else if n > 0 {
					m.logger.Info("expired stale requests", slog.Int64("count", n))
				}
				if _, err := m.store.DeleteResolved(ctx, 2*m.ttl); err != nil {
					m.logger.Error("deleting resolved requests", slog.String("error", err.Error()))
				}
			}
		}
	}()
	return cancel
}

func validateSubmit(req *SubmitRequest) error {
	if strings.TrimSpace(req.Title) == "" {
		return errors.New("title is required")
	}
	if strings.TrimSpace(req.Script) == "" {
		return errors.New("script is required")
	}
	if !req.Language.Valid() {
		return fmt.Errorf("unsupported language %q", string(req.Language))
	}
	if !req.DatabaseKind.Valid() {
		return fmt.Errorf("unsupported database kind %q", string(req.DatabaseKind))
	}
	if strings.TrimSpace(req.InstanceName) == "" {
		return errors.New("instance name is required")
	}
	if strings.TrimSpace(req.RequestedBy) == "" {
		return errors.New("requester is required")
	}
	return nil
}

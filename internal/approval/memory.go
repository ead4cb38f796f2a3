package approval

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okanya/scriptbox/internal/domain"
)

// MemoryStore keeps script requests in memory. Thread-safe. Used when no
// database is configured, and by tests.
type MemoryStore struct {
	mu       sync.Mutex
	requests map[uuid.UUID]*domain.ScriptRequest
}

// NewMemoryStore creates an empty in-memory request store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{requests: make(map[uuid.UUID]*domain.ScriptRequest)}
}

func (s *MemoryStore) Create(_ context.Context, req *domain.ScriptRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *req
	s.requests[req.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*domain.ScriptRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	expirePending(req)
	cp := *req
	return &cp, nil
}

func (s *MemoryStore) List(_ context.Context, filter ListFilter) ([]domain.ScriptRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.ScriptRequest, 0, len(s.requests))
	for _, req := range s.requests {
		expirePending(req)
		if filter.Status != nil && req.Status != *filter.Status {
			continue
		}
		out = append(out, *req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.After(out[j].SubmittedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) Resolve(_ context.Context, id uuid.UUID, status domain.RequestStatus, reviewer, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return ErrNotFound
	}
	expirePending(req)
	if req.Status == domain.StatusExpired {
		return ErrExpired
	}
	if req.Status != domain.StatusPending {
		return ErrAlreadyResolved
	}

	now := time.Now().UTC()
	req.Status = status
	req.ReviewedBy = reviewer
	req.Reason = reason
	req.ReviewedAt = &now
	req.UpdatedAt = now
	return nil
}

func (s *MemoryStore) SetOutcome(_ context.Context, id uuid.UUID, status domain.RequestStatus, result json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return ErrNotFound
	}
	if req.Status != domain.StatusApproved {
		return ErrNotApproved
	}

	now := time.Now().UTC()
	req.Status = status
	req.ExecutionResult = append(json.RawMessage(nil), result...)
	req.ExecutedAt = &now
	req.UpdatedAt = now
	return nil
}

func (s *MemoryStore) ExpireOld(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, req := range s.requests {
		if expirePending(req) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) DeleteResolved(_ context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-olderThan)
	var n int64
	for id, req := range s.requests {
		if req.Status != domain.StatusPending && req.SubmittedAt.Before(cutoff) {
			delete(s.requests, id)
			n++
		}
	}
	return n, nil
}

// expirePending transitions a stale pending request to expired. Reports
// whether a transition happened. Callers hold the store lock.
func expirePending(req *domain.ScriptRequest) bool {
	if req.Status == domain.StatusPending && time.Now().UTC().After(req.ExpiresAt) {
		now := time.Now().UTC()
		req.Status = domain.StatusExpired
		req.UpdatedAt = now
		return true
	}
	return false
}

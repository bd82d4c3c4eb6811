package infrastructure

import (
	"context"
	"sync"

	"checkoutcore/internal/service/routing/domain"
)

type MemoryAssignmentRepository struct {
	mu   sync.RWMutex
	rows map[string][]domain.Assignment
}

func NewMemoryAssignmentRepository() *MemoryAssignmentRepository {
	return &MemoryAssignmentRepository{rows: make(map[string][]domain.Assignment)}
}

func (r *MemoryAssignmentRepository) Replace(_ context.Context, orderID string, assignments []domain.Assignment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(assignments) == 0 {
		delete(r.rows, orderID)
		return nil
	}
	r.rows[orderID] = cloneAssignments(assignments)
	return nil
}

func (r *MemoryAssignmentRepository) FindByOrder(_ context.Context, orderID string) ([]domain.Assignment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneAssignments(r.rows[orderID]), nil
}

func cloneAssignments(in []domain.Assignment) []domain.Assignment {
	if in == nil {
		return nil
	}
	out := make([]domain.Assignment, len(in))
	for i, a := range in {
		a.Items = append([]domain.Line(nil), a.Items...)
		out[i] = a
	}
	return out
}

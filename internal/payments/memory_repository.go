package payments

import (
	"context"
	"sync"
	"time"

	"github.com/payease/payease/internal/apperror"
)

type memoryRepository struct {
	mu       sync.Mutex
	payments map[string]Payment
}

// NewMemoryRepository returns an in-memory payment repository.
func NewMemoryRepository() Repository {
	return &memoryRepository{payments: make(map[string]Payment)}
}

func (r *memoryRepository) Create(_ context.Context, p Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.payments[p.Reference]; ok {
		return apperror.ErrDuplicateReference
	}
	p.UpdatedAt = p.CreatedAt
	r.payments[p.Reference] = p
	return nil
}

func (r *memoryRepository) Get(_ context.Context, reference string) (Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[reference]
	if !ok {
		return Payment{}, ErrNotFound
	}
	return p, nil
}

func (r *memoryRepository) Discard(_ context.Context, reference string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.payments[reference]; ok && p.Status == StatusSubmitted {
		delete(r.payments, reference)
	}
	return nil
}

func (r *memoryRepository) MarkVerifying(_ context.Context, reference string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[reference]
	if !ok {
		return ErrNotFound
	}
	if p.Status == StatusSubmitted {
		p.Status = StatusVerifying
		p.UpdatedAt = time.Now().UTC()
		r.payments[reference] = p
	}
	return nil
}

func (r *memoryRepository) Resolve(_ context.Context, reference string, res Resolution) (Payment, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[reference]
	if !ok {
		return Payment{}, false, ErrNotFound
	}
	if p.Status.Terminal() {
		return p, false, nil
	}
	resolvedAt := res.ResolvedAt.UTC()
	p.Status = res.Status
	p.SettledAmount = res.SettledAmount
	p.FailureReason = res.FailureReason
	p.BalanceAfter = res.BalanceAfter
	p.ResolvedAt = &resolvedAt
	p.UpdatedAt = resolvedAt
	r.payments[reference] = p
	return p, true, nil
}

package txn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ivankudzin/modgate/internal/domain/enums"
	"github.com/ivankudzin/modgate/internal/domain/model"
)

const recordMaxAge = time.Hour

var ErrTransactionNotFound = errors.New("transaction record not found")

// GroupStore applies an ordered operation list as one atomic unit; either
// every operation lands or none does.
type GroupStore interface {
	Apply(ctx context.Context, ops []model.TxOperation) error
}

// Registry tracks grouped transactions in memory. Records are kept for
// post-mortem inspection and swept after recordMaxAge regardless of status.
type Registry struct {
	mu       sync.Mutex
	store    GroupStore
	records  map[string]*model.TransactionRecord
	inflight map[string]struct{}
	now      func() time.Time
}

func NewRegistry(store GroupStore) *Registry {
	return &Registry{
		store:    store,
		records:  make(map[string]*model.TransactionRecord),
		inflight: make(map[string]struct{}),
		now:      time.Now,
	}
}

// Begin assembles a pending record from the ordered operation list.
func (r *Registry) Begin(ops []model.TxOperation) (*model.TransactionRecord, error) {
	if len(ops) == 0 {
		return nil, fmt.Errorf("transaction requires at least one operation")
	}

	record := &model.TransactionRecord{
		ID:         uuid.NewString(),
		Operations: ops,
		Status:     enums.TxStatusPending,
		CreatedAt:  r.now(),
	}

	r.mu.Lock()
	r.records[record.ID] = record
	r.mu.Unlock()

	return record, nil
}

// Submit applies the record's operations atomically. On any failure the
// whole group is reported rolled back; no partial application is visible.
// A record can be claimed by exactly one Submit at a time: the pending
// check and the in-flight mark happen under the same lock, so a duplicate
// call can never apply the group twice.
func (r *Registry) Submit(ctx context.Context, id string) error {
	if r.store == nil {
		return fmt.Errorf("transaction store is nil")
	}

	r.mu.Lock()
	record, ok := r.records[id]
	if !ok {
		r.mu.Unlock()
		return ErrTransactionNotFound
	}
	if record.Status != enums.TxStatusPending {
		status := record.Status
		r.mu.Unlock()
		return fmt.Errorf("transaction %s already %s", id, status)
	}
	if _, busy := r.inflight[id]; busy {
		r.mu.Unlock()
		return fmt.Errorf("transaction %s is already being applied", id)
	}
	r.inflight[id] = struct{}{}
	ops := record.Operations
	r.mu.Unlock()

	applyErr := r.store.Apply(ctx, ops)

	r.mu.Lock()
	delete(r.inflight, id)
	if record, ok := r.records[id]; ok {
		if applyErr != nil {
			record.Status = enums.TxStatusRolledBack
		} else {
			record.Status = enums.TxStatusCommitted
		}
	}
	r.mu.Unlock()

	if applyErr != nil {
		return fmt.Errorf("apply transaction group: %w", WrapConstraint(applyErr))
	}
	return nil
}

func (r *Registry) Get(id string) (model.TransactionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[id]
	if !ok {
		return model.TransactionRecord{}, ErrTransactionNotFound
	}
	return *record, nil
}

// Sweep drops records older than recordMaxAge and returns how many went.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-recordMaxAge)

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, record := range r.records {
		if record.CreatedAt.Before(cutoff) {
			delete(r.records, id)
			removed++
		}
	}
	return removed
}

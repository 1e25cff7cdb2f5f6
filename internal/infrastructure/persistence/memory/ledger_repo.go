// Package memory provides in-process implementations of the persistence
// ports. They keep the same concurrency contract as the postgres adapters
// (version-checked saves, unique mutation ids) and back the dev server and
// the application-layer tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alem-hub/mastery-engine/internal/domain/progress"
	"github.com/alem-hub/mastery-engine/internal/domain/shared"
)

// LedgerRepository is a mutex-guarded map of ledgers plus the mutation log.
type LedgerRepository struct {
	mu        sync.RWMutex
	ledgers   map[string]progress.Ledger
	mutations map[string]progress.AppliedMutation
}

// NewLedgerRepository creates an empty repository.
func NewLedgerRepository() *LedgerRepository {
	return &LedgerRepository{
		ledgers:   make(map[string]progress.Ledger),
		mutations: make(map[string]progress.AppliedMutation),
	}
}

var _ progress.Repository = (*LedgerRepository)(nil)

func mutationKey(accountID, mutationID string) string {
	return accountID + "\x00" + mutationID
}

// Get implements progress.Repository.
func (r *LedgerRepository) Get(ctx context.Context, accountID string) (progress.Ledger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	l, ok := r.ledgers[accountID]
	if !ok {
		return progress.Ledger{}, shared.ErrAccountNotFound
	}
	return l.Clone(), nil
}

// FindMutation implements progress.Repository.
func (r *LedgerRepository) FindMutation(ctx context.Context, accountID, mutationID string) (progress.AppliedMutation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.mutations[mutationKey(accountID, mutationID)]
	if !ok {
		return progress.AppliedMutation{}, shared.ErrMutationNotFound
	}
	m.Result = m.Result.Clone()
	return m, nil
}

// ListAccountIDs implements progress.Repository.
func (r *LedgerRepository) ListAccountIDs(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.ledgers))
	for id := range r.ledgers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Create implements progress.Repository.
func (r *LedgerRepository) Create(ctx context.Context, l progress.Ledger) error {
	if err := l.CheckInvariants(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.ledgers[l.AccountID]; exists {
		return nil
	}
	l.Version = 1
	r.ledgers[l.AccountID] = l.Clone()
	return nil
}

// Save implements progress.Repository.
func (r *LedgerRepository) Save(ctx context.Context, prev, next progress.Ledger, m *progress.AppliedMutation) error {
	if err := next.CheckInvariants(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.ledgers[prev.AccountID]
	if !ok {
		return shared.ErrAccountNotFound
	}
	if current.Version != prev.Version {
		return shared.ErrVersionConflict
	}
	if m != nil {
		if _, dup := r.mutations[mutationKey(m.AccountID, m.MutationID)]; dup {
			return progress.ErrDuplicateMutation
		}
	}

	next.Version = prev.Version + 1
	r.ledgers[next.AccountID] = next.Clone()
	if m != nil {
		stored := *m
		stored.Result = next.Clone()
		r.mutations[mutationKey(m.AccountID, m.MutationID)] = stored
	}
	return nil
}

// PurgeMutations implements progress.Repository.
func (r *LedgerRepository) PurgeMutations(ctx context.Context, olderThan time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for k, m := range r.mutations {
		if m.AppliedAt.Before(olderThan) {
			delete(r.mutations, k)
			n++
		}
	}
	return n, nil
}

// Package memory provides an in-memory store.Store implementation. It is
// used by tests and single-node development; data is lost on restart.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/expenseai/engine/internal/domain"
	"github.com/expenseai/engine/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Store keeps all rows in maps guarded by a RWMutex and is safe for
// concurrent use. RunAtomic snapshots the maps and restores them when the
// callback fails, mirroring transactional rollback.
type Store struct {
	mu   sync.RWMutex
	txMu sync.Mutex

	users        map[string]domain.User
	budgets      map[string]domain.Budget
	transactions map[string]domain.Transaction
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		users:        make(map[string]domain.User),
		budgets:      make(map[string]domain.Budget),
		transactions: make(map[string]domain.Transaction),
	}
}

// UserByID implements store.Store.
func (s *Store) UserByID(ctx context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("UserByID: user %s: %w", id, store.ErrNotFound)
	}
	userCopy := u
	return &userCopy, nil
}

// UserByEmail implements store.Store.
func (s *Store) UserByEmail(ctx context.Context, email string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.Email == email {
			userCopy := u
			return &userCopy, nil
		}
	}
	return nil, fmt.Errorf("UserByEmail: %s: %w", email, store.ErrNotFound)
}

// InsertUser implements store.Store. Email uniqueness is enforced the way
// the real store's unique index would.
func (s *Store) InsertUser(ctx context.Context, u *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[u.ID]; exists {
		return fmt.Errorf("InsertUser: user %s already exists", u.ID)
	}
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return fmt.Errorf("InsertUser: email %s already taken", u.Email)
		}
	}

	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	s.users[u.ID] = *u
	return nil
}

// PutBudget seeds or replaces a budget row. Budget creation is user action,
// outside the workflow core, so this is not part of store.Store.
func (s *Store) PutBudget(b domain.Budget) domain.Budget {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	s.budgets[b.ID] = b
	return b
}

// Budget returns one budget row by id, for test assertions.
func (s *Store) Budget(id string) (domain.Budget, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.budgets[id]
	return b, ok
}

// Budgets implements store.Store.
func (s *Store) Budgets(ctx context.Context) ([]domain.Budget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Budget, 0, len(s.budgets))
	for _, b := range s.budgets {
		result = append(result, b)
	}
	return result, nil
}

// SetBudgetAlertFlag implements store.Store.
func (s *Store) SetBudgetAlertFlag(ctx context.Context, budgetID string, sent bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.budgets[budgetID]
	if !ok {
		return fmt.Errorf("SetBudgetAlertFlag: budget %s: %w", budgetID, store.ErrNotFound)
	}
	b.IsLastAlertSent = sent
	now := time.Now().UTC()
	b.UpdatedAt = &now
	s.budgets[budgetID] = b
	return nil
}

// SumExpensesInRange implements store.Store.
func (s *Store) SumExpensesInRange(ctx context.Context, userID string, from, to time.Time) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	for _, t := range s.transactions {
		if t.UserID != userID || t.Type != domain.TypeExpense {
			continue
		}
		if t.TransactionDate.Before(from) || t.TransactionDate.After(to) {
			continue
		}
		total = total.Add(t.Amount)
	}
	return total, nil
}

// DueRecurringTransactions implements store.Store.
func (s *Store) DueRecurringTransactions(ctx context.Context, now time.Time) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []domain.Transaction
	for _, t := range s.transactions {
		if !t.IsRecurring {
			continue
		}
		if t.NextRecurringDate == nil || !t.NextRecurringDate.After(now) {
			due = append(due, t)
		}
	}
	return due, nil
}

// TransactionByID implements store.Store.
func (s *Store) TransactionByID(ctx context.Context, id string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.transactions[id]
	if !ok {
		return nil, fmt.Errorf("TransactionByID: transaction %s: %w", id, store.ErrNotFound)
	}
	txCopy := t
	return &txCopy, nil
}

// InsertTransaction implements store.Store.
func (s *Store) InsertTransaction(ctx context.Context, t *domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	s.transactions[t.ID] = *t
	return nil
}

// ClearRecurrence implements store.Store.
func (s *Store) ClearRecurrence(ctx context.Context, transactionID string, processedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.transactions[transactionID]
	if !ok {
		return fmt.Errorf("ClearRecurrence: transaction %s: %w", transactionID, store.ErrNotFound)
	}
	t.IsRecurring = false
	t.RecurringInterval = nil
	t.NextRecurringDate = nil
	t.LastProcessedDate = &processedAt
	now := time.Now().UTC()
	t.UpdatedAt = &now
	s.transactions[transactionID] = t
	return nil
}

// RunAtomic implements store.Store. Transactions are serialized; on error
// the pre-transaction snapshot is restored so partial writes never survive.
func (s *Store) RunAtomic(ctx context.Context, fn func(ctx context.Context, st store.Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snapshot := s.snapshot()
	if err := fn(ctx, s); err != nil {
		s.restore(snapshot)
		return err
	}
	return nil
}

type stateSnapshot struct {
	users        map[string]domain.User
	budgets      map[string]domain.Budget
	transactions map[string]domain.Transaction
}

func (s *Store) snapshot() stateSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := stateSnapshot{
		users:        make(map[string]domain.User, len(s.users)),
		budgets:      make(map[string]domain.Budget, len(s.budgets)),
		transactions: make(map[string]domain.Transaction, len(s.transactions)),
	}
	for k, v := range s.users {
		snap.users[k] = v
	}
	for k, v := range s.budgets {
		snap.budgets[k] = v
	}
	for k, v := range s.transactions {
		snap.transactions[k] = v
	}
	return snap
}

func (s *Store) restore(snap stateSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users = snap.users
	s.budgets = snap.budgets
	s.transactions = snap.transactions
}

var _ store.Store = (*Store)(nil)

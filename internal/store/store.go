package store

import (
	"context"
	"errors"
	"time"

	"github.com/expenseai/engine/internal/domain"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a referenced row does not exist. Workflows
// treat it as non-retryable: the row's state will not change favorably on
// retry.
var ErrNotFound = errors.New("store: not found")

// Store is the relational store surface consumed by the workflow engine.
// Every read and write is row-level filtered by owner where applicable; the
// real engine behind it is external.
type Store interface {
	// UserByID returns the user with the given provider-assigned id, or
	// ErrNotFound.
	UserByID(ctx context.Context, id string) (*domain.User, error)

	// UserByEmail returns the user with the given email, or ErrNotFound.
	UserByEmail(ctx context.Context, email string) (*domain.User, error)

	// InsertUser creates a user row. Email uniqueness is enforced by the
	// store.
	InsertUser(ctx context.Context, u *domain.User) error

	// Budgets returns every budget row.
	Budgets(ctx context.Context) ([]domain.Budget, error)

	// SetBudgetAlertFlag updates isLastAlertSent for one budget.
	SetBudgetAlertFlag(ctx context.Context, budgetID string, sent bool) error

	// SumExpensesInRange sums expense amounts for one user with
	// transactionDate in [from, to] inclusive.
	SumExpensesInRange(ctx context.Context, userID string, from, to time.Time) (decimal.Decimal, error)

	// DueRecurringTransactions returns transactions with isRecurring=true
	// and nextRecurringDate either null or <= now.
	DueRecurringTransactions(ctx context.Context, now time.Time) ([]domain.Transaction, error)

	// TransactionByID returns one transaction, or ErrNotFound.
	TransactionByID(ctx context.Context, id string) (*domain.Transaction, error)

	// InsertTransaction creates a transaction row. A zero ID is assigned.
	InsertTransaction(ctx context.Context, t *domain.Transaction) error

	// ClearRecurrence closes out a recurring transaction: isRecurring=false,
	// recurringInterval and nextRecurringDate cleared, lastProcessedDate set.
	ClearRecurrence(ctx context.Context, transactionID string, processedAt time.Time) error

	// RunAtomic executes fn inside a single store-level transaction. Every
	// write fn performs through the passed Store commits or rolls back as a
	// unit.
	RunAtomic(ctx context.Context, fn func(ctx context.Context, s Store) error) error
}

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/expenseai/engine/internal/domain"
	"github.com/expenseai/engine/internal/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Store is the Postgres-backed relational store accessor. db is either the
// pool itself or a pgx.Tx when the Store was created inside RunAtomic.
type Store struct {
	pool *pgxpool.Pool
	db   dbtx
}

// dbtx is the subset of pgx operations shared by *pgxpool.Pool and pgx.Tx,
// so the same query code serves both pooled and transactional use.
type dbtx interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Connect opens a pgx pool against url and verifies connectivity.
func Connect(ctx context.Context, url string) (*Store, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("postgres.Connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres.Connect: ping: %w", err)
	}

	return &Store{pool: pool, db: pool}, nil
}

// Close releases the underlying pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

const userColumns = `id, name, email, phone, created_at, updated_at`

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Phone, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// UserByID implements store.Store.
func (s *Store) UserByID(ctx context.Context, id string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	u, err := scanUser(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("UserByID: %w", err)
	}
	return u, nil
}

// UserByEmail implements store.Store.
func (s *Store) UserByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	u, err := scanUser(s.db.QueryRow(ctx, query, email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("UserByEmail: %w", err)
	}
	return u, nil
}

// InsertUser implements store.Store.
func (s *Store) InsertUser(ctx context.Context, u *domain.User) error {
	query := `
		INSERT INTO users (id, name, email, phone)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`
	err := s.db.QueryRow(ctx, query, u.ID, u.Name, u.Email, u.Phone).Scan(&u.CreatedAt)
	if err != nil {
		return fmt.Errorf("InsertUser: %w", err)
	}
	return nil
}

// Budgets implements store.Store.
func (s *Store) Budgets(ctx context.Context) ([]domain.Budget, error) {
	query := `
		SELECT id, user_id, amount, is_last_alert_sent, created_at, updated_at
		FROM budgets
		ORDER BY created_at
	`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("Budgets: %w", err)
	}
	defer rows.Close()

	var budgets []domain.Budget
	for rows.Next() {
		var b domain.Budget
		if err := rows.Scan(&b.ID, &b.UserID, &b.Amount, &b.IsLastAlertSent, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("Budgets: scan: %w", err)
		}
		budgets = append(budgets, b)
	}
	return budgets, rows.Err()
}

// SetBudgetAlertFlag implements store.Store.
func (s *Store) SetBudgetAlertFlag(ctx context.Context, budgetID string, sent bool) error {
	query := `
		UPDATE budgets
		SET is_last_alert_sent = $1, updated_at = NOW()
		WHERE id = $2
	`
	tag, err := s.exec(ctx, query, sent, budgetID)
	if err != nil {
		return fmt.Errorf("SetBudgetAlertFlag: %w", err)
	}
	if tag == 0 {
		return fmt.Errorf("SetBudgetAlertFlag: budget %s: %w", budgetID, store.ErrNotFound)
	}
	return nil
}

// SumExpensesInRange implements store.Store.
func (s *Store) SumExpensesInRange(ctx context.Context, userID string, from, to time.Time) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(amount), 0)
		FROM transactions
		WHERE user_id = $1
		  AND type = 'expense'
		  AND transaction_date >= $2
		  AND transaction_date <= $3
	`
	var total decimal.Decimal
	if err := s.db.QueryRow(ctx, query, userID, from, to).Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("SumExpensesInRange: %w", err)
	}
	return total, nil
}

const transactionColumns = `
	id, user_id, type, amount, name, description, category,
	transaction_date, is_recurring, recurring_interval,
	next_recurring_date, last_processed_date, created_at, updated_at
`

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var (
		t        domain.Transaction
		txType   string
		category string
		interval *string
	)
	err := row.Scan(
		&t.ID, &t.UserID, &txType, &t.Amount, &t.Name, &t.Description, &category,
		&t.TransactionDate, &t.IsRecurring, &interval,
		&t.NextRecurringDate, &t.LastProcessedDate, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	parsedType, err := domain.ParseTransactionType(txType)
	if err != nil {
		return nil, err
	}
	t.Type = parsedType
	t.Category = domain.ParseCategory(category)
	if interval != nil {
		parsed, err := domain.ParseRecurringInterval(*interval)
		if err != nil {
			return nil, err
		}
		t.RecurringInterval = &parsed
	}
	return &t, nil
}

// DueRecurringTransactions implements store.Store.
func (s *Store) DueRecurringTransactions(ctx context.Context, now time.Time) ([]domain.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE is_recurring = TRUE
		  AND (next_recurring_date IS NULL OR next_recurring_date <= $1)
	`
	rows, err := s.db.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("DueRecurringTransactions: %w", err)
	}
	defer rows.Close()

	var txs []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("DueRecurringTransactions: scan: %w", err)
		}
		txs = append(txs, *t)
	}
	return txs, rows.Err()
}

// TransactionByID implements store.Store.
func (s *Store) TransactionByID(ctx context.Context, id string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	t, err := scanTransaction(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("TransactionByID: %w", err)
	}
	return t, nil
}

// InsertTransaction implements store.Store.
func (s *Store) InsertTransaction(ctx context.Context, t *domain.Transaction) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	var interval *string
	if t.RecurringInterval != nil {
		v := string(*t.RecurringInterval)
		interval = &v
	}

	query := `
		INSERT INTO transactions (
			id, user_id, type, amount, name, description, category,
			transaction_date, is_recurring, recurring_interval,
			next_recurring_date, last_processed_date
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at
	`
	err := s.db.QueryRow(ctx, query,
		t.ID, t.UserID, string(t.Type), t.Amount, t.Name, t.Description, string(t.Category),
		t.TransactionDate, t.IsRecurring, interval,
		t.NextRecurringDate, t.LastProcessedDate,
	).Scan(&t.CreatedAt)
	if err != nil {
		return fmt.Errorf("InsertTransaction: %w", err)
	}
	return nil
}

// ClearRecurrence implements store.Store.
func (s *Store) ClearRecurrence(ctx context.Context, transactionID string, processedAt time.Time) error {
	query := `
		UPDATE transactions
		SET is_recurring = FALSE,
		    recurring_interval = NULL,
		    next_recurring_date = NULL,
		    last_processed_date = $1,
		    updated_at = NOW()
		WHERE id = $2
	`
	tag, err := s.exec(ctx, query, processedAt, transactionID)
	if err != nil {
		return fmt.Errorf("ClearRecurrence: %w", err)
	}
	if tag == 0 {
		return fmt.Errorf("ClearRecurrence: transaction %s: %w", transactionID, store.ErrNotFound)
	}
	return nil
}

// RunAtomic implements store.Store. The callback receives a Store bound to
// the transaction; commit only happens when fn returns nil.
func (s *Store) RunAtomic(ctx context.Context, fn func(ctx context.Context, st store.Store) error) error {
	if s.pool == nil {
		// Already inside a transaction; nested RunAtomic joins it.
		return fn(ctx, s)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("RunAtomic: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	txStore := &Store{db: tx}
	if err := fn(ctx, txStore); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("RunAtomic: commit: %w", err)
	}
	return nil
}

// exec runs a statement and returns the affected row count, working for both
// pooled and transactional execution.
func (s *Store) exec(ctx context.Context, sql string, args ...any) (int64, error) {
	switch db := s.db.(type) {
	case *pgxpool.Pool:
		tag, err := db.Exec(ctx, sql, args...)
		if err != nil {
			return 0, err
		}
		return tag.RowsAffected(), nil
	case pgx.Tx:
		tag, err := db.Exec(ctx, sql, args...)
		if err != nil {
			return 0, err
		}
		return tag.RowsAffected(), nil
	default:
		return 0, fmt.Errorf("exec: unsupported executor %T", s.db)
	}
}

var _ store.Store = (*Store)(nil)

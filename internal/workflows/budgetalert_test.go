package workflows

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/expenseai/engine/internal/domain"
	"github.com/expenseai/engine/internal/store/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedExpense(t *testing.T, st *memory.Store, userID string, amount int64, at time.Time) {
	t.Helper()
	err := st.InsertTransaction(context.Background(), &domain.Transaction{
		UserID:          userID,
		Type:            domain.TypeExpense,
		Amount:          decimal.NewFromInt(amount),
		Name:            "Expense",
		Category:        domain.CategoryOther,
		TransactionDate: at,
	})
	require.NoError(t, err)
}

func runSweep(t *testing.T, c *CheckBudgetAlerts) SweepResult {
	t.Helper()
	result, err := c.handle(context.Background(), newTestExecution(), nil)
	require.NoError(t, err)
	return result.(SweepResult)
}

func TestBudgetAlertFiresOnceThenRearms(t *testing.T) {
	st := memory.New()
	seedUser(t, st, "user_1")

	now := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)
	budget := st.PutBudget(domain.Budget{UserID: "user_1", Amount: decimal.NewFromInt(1000)})
	seedExpense(t, st, "user_1", 850, now.AddDate(0, 0, -2))

	notifier := &mockNotifier{}
	c := &CheckBudgetAlerts{store: st, notifier: notifier, now: func() time.Time { return now }}

	// 85% of budget: first crossing fires the alert and latches the flag.
	result := runSweep(t, c)
	assert.Equal(t, SweepResult{Processed: 1, Alerted: 1}, result)
	require.Len(t, notifier.alerts, 1)
	assert.Equal(t, "user_1@example.com", notifier.alerts[0].ToEmail)
	assert.Equal(t, int64(85), notifier.alerts[0].SpentPercent)

	b, ok := st.Budget(budget.ID)
	require.True(t, ok)
	assert.True(t, b.IsLastAlertSent)

	// Still at 85% on later sweeps: the latch suppresses duplicates.
	result = runSweep(t, c)
	assert.Equal(t, SweepResult{Processed: 1, Skipped: 1}, result)
	assert.Len(t, notifier.alerts, 1)

	// The budget is raised so spend falls to 42.5%: the latch re-arms.
	b.Amount = decimal.NewFromInt(2000)
	st.PutBudget(b)
	result = runSweep(t, c)
	assert.Equal(t, SweepResult{Processed: 1, Rearmed: 1}, result)
	assert.Len(t, notifier.alerts, 1)

	b, _ = st.Budget(budget.ID)
	assert.False(t, b.IsLastAlertSent)

	// A fresh crossing above the threshold alerts again.
	b.Amount = decimal.NewFromInt(900)
	st.PutBudget(b)
	result = runSweep(t, c)
	assert.Equal(t, SweepResult{Processed: 1, Alerted: 1}, result)
	assert.Len(t, notifier.alerts, 2)
}

func TestBudgetAlertZeroSpendNeverAlerts(t *testing.T) {
	st := memory.New()
	seedUser(t, st, "user_1")

	now := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)
	notifier := &mockNotifier{}
	c := &CheckBudgetAlerts{store: st, notifier: notifier, now: func() time.Time { return now }}

	// Even a zero-amount budget must not alert when nothing was spent.
	st.PutBudget(domain.Budget{UserID: "user_1", Amount: decimal.Zero})

	result := runSweep(t, c)
	assert.Equal(t, SweepResult{Processed: 1, Skipped: 1}, result)
	assert.Empty(t, notifier.alerts)
}

func TestBudgetAlertZeroSpendRearmsStaleFlag(t *testing.T) {
	st := memory.New()
	seedUser(t, st, "user_1")

	now := time.Date(2026, 5, 1, 6, 0, 0, 0, time.UTC)
	// Flag left over from last month; this month has no spend yet.
	budget := st.PutBudget(domain.Budget{UserID: "user_1", Amount: decimal.NewFromInt(1000), IsLastAlertSent: true})
	seedExpense(t, st, "user_1", 900, now.AddDate(0, -1, 0))

	notifier := &mockNotifier{}
	c := &CheckBudgetAlerts{store: st, notifier: notifier, now: func() time.Time { return now }}

	result := runSweep(t, c)
	assert.Equal(t, SweepResult{Processed: 1, Rearmed: 1}, result)
	assert.Empty(t, notifier.alerts)

	b, _ := st.Budget(budget.ID)
	assert.False(t, b.IsLastAlertSent)
}

func TestBudgetAlertOnlyCountsCurrentMonthExpenses(t *testing.T) {
	st := memory.New()
	seedUser(t, st, "user_1")

	now := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)
	st.PutBudget(domain.Budget{UserID: "user_1", Amount: decimal.NewFromInt(1000)})

	// Last month's spend and this month's income are both out of scope.
	seedExpense(t, st, "user_1", 900, now.AddDate(0, -1, 0))
	require.NoError(t, st.InsertTransaction(context.Background(), &domain.Transaction{
		UserID:          "user_1",
		Type:            domain.TypeIncome,
		Amount:          decimal.NewFromInt(2000),
		Name:            "Salary",
		Category:        domain.CategoryOther,
		TransactionDate: now.AddDate(0, 0, -1),
	}))
	seedExpense(t, st, "user_1", 100, now.AddDate(0, 0, -3))

	notifier := &mockNotifier{}
	c := &CheckBudgetAlerts{store: st, notifier: notifier, now: func() time.Time { return now }}

	result := runSweep(t, c)
	assert.Equal(t, SweepResult{Processed: 1, Skipped: 1}, result)
	assert.Empty(t, notifier.alerts)
}

func TestBudgetAlertMissingUserSkipsBudget(t *testing.T) {
	st := memory.New()
	seedUser(t, st, "user_1")

	now := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)

	// An orphaned budget must not abort the sweep for everyone else.
	st.PutBudget(domain.Budget{UserID: "ghost", Amount: decimal.NewFromInt(100)})
	require.NoError(t, st.InsertTransaction(context.Background(), &domain.Transaction{
		UserID:          "ghost",
		Type:            domain.TypeExpense,
		Amount:          decimal.NewFromInt(95),
		Name:            "Expense",
		Category:        domain.CategoryOther,
		TransactionDate: now.AddDate(0, 0, -1),
	}))

	healthy := st.PutBudget(domain.Budget{UserID: "user_1", Amount: decimal.NewFromInt(1000)})
	seedExpense(t, st, "user_1", 850, now.AddDate(0, 0, -1))

	notifier := &mockNotifier{}
	c := &CheckBudgetAlerts{store: st, notifier: notifier, now: func() time.Time { return now }}

	result := runSweep(t, c)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 1, result.Alerted)
	assert.Equal(t, 1, result.Skipped)

	require.Len(t, notifier.alerts, 1)
	b, _ := st.Budget(healthy.ID)
	assert.True(t, b.IsLastAlertSent)
}

func TestBudgetAlertSendFailureStillLatches(t *testing.T) {
	st := memory.New()
	seedUser(t, st, "user_1")

	now := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)
	budget := st.PutBudget(domain.Budget{UserID: "user_1", Amount: decimal.NewFromInt(1000)})
	seedExpense(t, st, "user_1", 900, now.AddDate(0, 0, -1))

	notifier := &mockNotifier{alertErr: fmt.Errorf("provider down")}
	c := &CheckBudgetAlerts{store: st, notifier: notifier, now: func() time.Time { return now }}

	result := runSweep(t, c)
	assert.Equal(t, 1, result.Alerted)

	b, _ := st.Budget(budget.ID)
	assert.True(t, b.IsLastAlertSent)
}

func TestMonthBounds(t *testing.T) {
	from, to := monthBounds(time.Date(2026, 2, 14, 9, 30, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), from)
	assert.Equal(t, time.Date(2026, 2, 28, 23, 59, 59, int(time.Second-time.Nanosecond), time.UTC), to)
}

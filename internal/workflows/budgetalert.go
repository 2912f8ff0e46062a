package workflows

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/expenseai/engine/internal/engine"
	"github.com/expenseai/engine/internal/notify"
	"github.com/expenseai/engine/internal/store"
	"github.com/shopspring/decimal"
)

var (
	alertThreshold = decimal.NewFromInt(80)
	hundred        = decimal.NewFromInt(100)
)

// CheckBudgetAlerts is the periodic sweep over all budgets: it recomputes
// month-to-date spend, fires an alert on the first crossing above the
// threshold, and re-arms the latch once spend falls back below it. Budgets
// are processed independently; one failing budget never aborts the rest.
type CheckBudgetAlerts struct {
	store    store.Store
	notifier notify.Notifier
	now      func() time.Time
}

// SweepResult summarizes one sweep tick.
type SweepResult struct {
	Processed int `json:"processed"`
	Alerted   int `json:"alerted"`
	Rearmed   int `json:"rearmed"`
	Skipped   int `json:"skipped"`
}

// NewCheckBudgetAlerts registers the sweep on the every-6-hours tick.
func NewCheckBudgetAlerts(st store.Store, notifier notify.Notifier) engine.Workflow {
	c := &CheckBudgetAlerts{store: st, notifier: notifier, now: time.Now}
	return engine.Workflow{
		Name:    "check-budget-alerts",
		Trigger: engine.OnCron("0 */6 * * *"),
		Handler: c.handle,
	}
}

func (c *CheckBudgetAlerts) handle(ctx context.Context, ex *engine.Execution, _ json.RawMessage) (any, error) {
	budgets, err := engine.RunStep(ctx, ex, "fetch-budgets", func(ctx context.Context) ([]budgetRow, error) {
		list, err := c.store.Budgets(ctx)
		if err != nil {
			return nil, err
		}
		rows := make([]budgetRow, 0, len(list))
		for _, b := range list {
			rows = append(rows, budgetRow{
				ID:              b.ID,
				UserID:          b.UserID,
				Amount:          b.Amount,
				IsLastAlertSent: b.IsLastAlertSent,
			})
		}
		return rows, nil
	})
	if err != nil {
		return nil, err
	}

	result := SweepResult{Processed: len(budgets)}
	for _, b := range budgets {
		outcome, err := c.sweepBudget(ctx, ex, b)
		if err != nil {
			// Per-budget isolation: transient store errors still propagate
			// for queue-level retry, everything else is logged and skipped.
			if errors.Is(err, store.ErrNotFound) {
				ex.Log().Error().Err(err).Str("budget_id", b.ID).Msg("Skipping budget")
				result.Skipped++
				continue
			}
			return nil, err
		}

		switch outcome {
		case outcomeAlerted:
			result.Alerted++
		case outcomeRearmed:
			result.Rearmed++
		case outcomeSkipped:
			result.Skipped++
		}
	}

	ex.Log().Info().
		Int("processed", result.Processed).
		Int("alerted", result.Alerted).
		Int("rearmed", result.Rearmed).
		Msg("Budget sweep completed")

	return result, nil
}

// budgetRow is the checkpoint-friendly projection of a budget.
type budgetRow struct {
	ID              string          `json:"id"`
	UserID          string          `json:"userId"`
	Amount          decimal.Decimal `json:"amount"`
	IsLastAlertSent bool            `json:"isLastAlertSent"`
}

type sweepOutcome string

const (
	outcomeSkipped sweepOutcome = "skipped"
	outcomeAlerted sweepOutcome = "alerted"
	outcomeRearmed sweepOutcome = "rearmed"
)

func (c *CheckBudgetAlerts) sweepBudget(ctx context.Context, ex *engine.Execution, b budgetRow) (sweepOutcome, error) {
	totalSpent, err := engine.RunStep(ctx, ex, "calculate-total-spent:"+b.ID, func(ctx context.Context) (decimal.Decimal, error) {
		from, to := monthBounds(c.now())
		return c.store.SumExpensesInRange(ctx, b.UserID, from, to)
	})
	if err != nil {
		return "", err
	}

	// Guard against a pathologically zero budget amount.
	denominator := decimal.Max(decimal.NewFromInt(1), b.Amount)
	spentPercentage := totalSpent.Div(denominator).Mul(hundred)

	if totalSpent.IsZero() || spentPercentage.LessThan(alertThreshold) {
		// Under threshold: re-arm the latch if a previous sweep fired it,
		// so the next crossing above the threshold alerts again. Zero
		// spend never alerts regardless of budget amount.
		if b.IsLastAlertSent {
			if err := c.store.SetBudgetAlertFlag(ctx, b.ID, false); err != nil {
				return "", err
			}
			return outcomeRearmed, nil
		}
		return outcomeSkipped, nil
	}

	// At or above threshold with the alert already active: nothing to do
	// until spend recrosses downward.
	if b.IsLastAlertSent {
		return outcomeSkipped, nil
	}

	user, err := engine.RunStep(ctx, ex, "fetch-user:"+b.ID, func(ctx context.Context) (alertUser, error) {
		u, err := c.store.UserByID(ctx, b.UserID)
		if err != nil {
			return alertUser{}, err
		}
		return alertUser{Name: u.Name, Email: u.Email}, nil
	})
	if err != nil {
		return "", err
	}

	_, err = engine.RunStep(ctx, ex, "send-alert:"+b.ID, func(ctx context.Context) (bool, error) {
		alert := notify.BudgetAlert{
			ToEmail:      user.Email,
			UserName:     user.Name,
			BudgetAmount: b.Amount,
			TotalSpent:   totalSpent,
			SpentPercent: spentPercentage.Round(0).IntPart(),
		}
		// A failed send is logged, not fatal: other budgets must still be
		// processed and the flag must still reflect reality.
		if err := c.notifier.SendBudgetAlert(ctx, alert); err != nil {
			ex.Log().Error().Err(err).Str("budget_id", b.ID).Str("email", user.Email).Msg("Failed to send budget alert")
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		return "", err
	}

	if err := c.store.SetBudgetAlertFlag(ctx, b.ID, true); err != nil {
		return "", err
	}
	return outcomeAlerted, nil
}

type alertUser struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// monthBounds returns the first and last instant of now's calendar month.
func monthBounds(now time.Time) (time.Time, time.Time) {
	u := now.UTC()
	first := time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, 0).Add(-time.Nanosecond)
	return first, last
}

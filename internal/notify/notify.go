// Package notify sends outbound user notifications. Sends are
// fire-and-forget from the workflows' point of view: callers log failures
// and move on, they never roll back store writes because an email bounced.
package notify

import (
	"context"

	"github.com/shopspring/decimal"
)

// BudgetAlert carries everything the budget-alert email needs.
type BudgetAlert struct {
	ToEmail      string
	UserName     string
	BudgetAmount decimal.Decimal
	TotalSpent   decimal.Decimal
	SpentPercent int64
}

// Remaining returns the unspent budget, negative when over.
func (a BudgetAlert) Remaining() decimal.Decimal {
	return a.BudgetAmount.Sub(a.TotalSpent)
}

// Notifier is the outbound notification surface consumed by the workflows.
type Notifier interface {
	// SendWelcome sends the one-time welcome email to a newly created user.
	SendWelcome(ctx context.Context, toEmail, firstName string) error

	// SendBudgetAlert sends a budget threshold alert.
	SendBudgetAlert(ctx context.Context, alert BudgetAlert) error
}

package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// LogNotifier writes notifications to the log instead of sending them. It
// is the fallback when no email API key is configured.
type LogNotifier struct {
	log zerolog.Logger
}

// NewLogNotifier creates a log-only notifier.
func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

// SendWelcome implements Notifier.
func (n *LogNotifier) SendWelcome(ctx context.Context, toEmail, firstName string) error {
	n.log.Info().
		Str("to", toEmail).
		Str("first_name", firstName).
		Msg("Welcome notification (log only)")
	return nil
}

// SendBudgetAlert implements Notifier.
func (n *LogNotifier) SendBudgetAlert(ctx context.Context, alert BudgetAlert) error {
	n.log.Info().
		Str("to", alert.ToEmail).
		Str("budget", alert.BudgetAmount.String()).
		Str("spent", alert.TotalSpent.String()).
		Int64("percent", alert.SpentPercent).
		Msg("Budget alert notification (log only)")
	return nil
}

var _ Notifier = (*LogNotifier)(nil)

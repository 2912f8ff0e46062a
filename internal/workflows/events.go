// Package workflows defines the engine's four background workflows: user
// reconciliation from identity-provider events, the recurring-transaction
// scheduler and processor pair, and the budget-alert sweep.
package workflows

import "context"

// Event names linking publishers to workflow triggers.
const (
	// EventUserCreated is published when the identity provider reports a
	// new user.
	EventUserCreated = "identity/user.created"

	// EventRecurringProcess is one fan-out unit of recurrence work, emitted
	// only by the scheduler.
	EventRecurringProcess = "transaction.recurring.process"
)

// Publisher is the slice of the engine the scheduler needs to fan out work.
type Publisher interface {
	PublishEvent(ctx context.Context, name string, payload any) error
}

// RecurringProcessPayload is the fan-out task payload: one due transaction.
type RecurringProcessPayload struct {
	TransactionID string `json:"transactionId"`
	UserID        string `json:"userId"`
}

package workflows

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/expenseai/engine/internal/domain"
	"github.com/expenseai/engine/internal/engine"
	"github.com/expenseai/engine/internal/store"
)

// TriggerRecurring is the daily scheduler: it scans for due recurring
// transactions and fans out one processing task per match.
type TriggerRecurring struct {
	store     store.Store
	publisher Publisher
	now       func() time.Time
}

// NewTriggerRecurring registers the scheduler on the daily-at-midnight tick.
func NewTriggerRecurring(st store.Store, pub Publisher) engine.Workflow {
	t := &TriggerRecurring{store: st, publisher: pub, now: time.Now}
	return engine.Workflow{
		Name:    "trigger-recurring-transactions",
		Trigger: engine.OnCron("0 0 * * *"),
		Handler: t.handle,
	}
}

// TriggerResult reports how many tasks a scheduler tick fanned out.
type TriggerResult struct {
	Triggered int `json:"triggered"`
}

func (t *TriggerRecurring) handle(ctx context.Context, ex *engine.Execution, _ json.RawMessage) (any, error) {
	// Step 1: fetch transactions that are due or were never scheduled.
	due, err := engine.RunStep(ctx, ex, "fetch-recurring-transactions", func(ctx context.Context) ([]RecurringProcessPayload, error) {
		txs, err := t.store.DueRecurringTransactions(ctx, t.now())
		if err != nil {
			return nil, err
		}
		payloads := make([]RecurringProcessPayload, 0, len(txs))
		for _, tx := range txs {
			payloads = append(payloads, RecurringProcessPayload{
				TransactionID: tx.ID,
				UserID:        tx.UserID,
			})
		}
		return payloads, nil
	})
	if err != nil {
		return nil, err
	}

	if len(due) == 0 {
		return TriggerResult{Triggered: 0}, nil
	}

	for _, p := range due {
		if err := t.publisher.PublishEvent(ctx, EventRecurringProcess, p); err != nil {
			return nil, fmt.Errorf("fan out transaction %s: %w", p.TransactionID, err)
		}
	}

	ex.Log().Info().Int("count", len(due)).Msg("Fanned out recurring transactions")
	return TriggerResult{Triggered: len(due)}, nil
}

// ProcessRecurring consumes one fan-out task: it re-validates the source
// transaction and atomically replaces it with its next occurrence.
type ProcessRecurring struct {
	store store.Store
	now   func() time.Time
}

// ProcessResult carries the id of the successor transaction.
type ProcessResult struct {
	Success          bool   `json:"success"`
	NewTransactionID string `json:"newTransactionId"`
}

// NewProcessRecurring registers the processor, throttled per user so one
// user with many due transactions cannot monopolize the workers.
func NewProcessRecurring(st store.Store, userLimit int, userWindow time.Duration) engine.Workflow {
	p := &ProcessRecurring{store: st, now: time.Now}
	return engine.Workflow{
		Name:    "process-recurring-transaction",
		Trigger: engine.OnEvent(EventRecurringProcess),
		Handler: p.handle,
		Throttle: &engine.Throttle{
			Limit:  userLimit,
			Window: userWindow,
			Key: func(payload json.RawMessage) string {
				var p RecurringProcessPayload
				if err := json.Unmarshal(payload, &p); err != nil {
					return ""
				}
				return p.UserID
			},
		},
	}
}

func (p *ProcessRecurring) handle(ctx context.Context, ex *engine.Execution, payload json.RawMessage) (any, error) {
	var task RecurringProcessPayload
	if err := json.Unmarshal(payload, &task); err != nil {
		return nil, engine.Fatal(fmt.Errorf("malformed payload: %w", err))
	}
	if task.TransactionID == "" {
		return nil, engine.Fatal(fmt.Errorf("missing transactionId"))
	}

	// Step 1: fetch the source transaction fresh. It may have been edited
	// or deleted since fan-out; those races are fatal because retrying
	// cannot change the row's state.
	original, err := engine.RunStep(ctx, ex, "fetch-original-transaction", func(ctx context.Context) (*domain.Transaction, error) {
		tx, err := p.store.TransactionByID(ctx, task.TransactionID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, engine.Fatal(fmt.Errorf("transaction %s not found", task.TransactionID))
		}
		if err != nil {
			return nil, err
		}
		return tx, nil
	})
	if err != nil {
		return nil, err
	}

	if !original.IsRecurring || original.RecurringInterval == nil {
		return nil, engine.Fatal(fmt.Errorf("transaction %s is not recurring", task.TransactionID))
	}

	// Step 2: close out the source row and insert the successor in one
	// store transaction. Both writes commit or neither does.
	newID, err := engine.RunStep(ctx, ex, "create-next-transaction", func(ctx context.Context) (string, error) {
		now := p.now().UTC()

		nextDue, err := domain.NextRecurringDate(*original.RecurringInterval, now)
		if err != nil {
			return "", engine.Fatal(err)
		}

		successor := &domain.Transaction{
			UserID:            original.UserID,
			Type:              original.Type,
			Amount:            original.Amount,
			Name:              original.Name,
			Description:       original.Description,
			Category:          original.Category,
			TransactionDate:   now,
			IsRecurring:       true,
			RecurringInterval: original.RecurringInterval,
			NextRecurringDate: &nextDue,
		}

		err = p.store.RunAtomic(ctx, func(ctx context.Context, st store.Store) error {
			if err := st.ClearRecurrence(ctx, original.ID, now); err != nil {
				return err
			}
			return st.InsertTransaction(ctx, successor)
		})
		if err != nil {
			return "", err
		}
		return successor.ID, nil
	})
	if err != nil {
		return nil, err
	}

	ex.Log().Info().
		Str("transaction_id", original.ID).
		Str("new_transaction_id", newID).
		Msg("Recurring transaction processed")

	return ProcessResult{Success: true, NewTransactionID: newID}, nil
}

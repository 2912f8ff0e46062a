package workflows

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/expenseai/engine/internal/domain"
	"github.com/expenseai/engine/internal/engine"
	"github.com/expenseai/engine/internal/store"
	"github.com/expenseai/engine/internal/store/memory"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingPublisher captures fanned-out events.
type recordingPublisher struct {
	events []RecurringProcessPayload
	err    error
}

func (p *recordingPublisher) PublishEvent(ctx context.Context, name string, payload any) error {
	if p.err != nil {
		return p.err
	}
	if name == EventRecurringProcess {
		p.events = append(p.events, payload.(RecurringProcessPayload))
	}
	return nil
}

func seedUser(t *testing.T, st *memory.Store, id string) {
	t.Helper()
	err := st.InsertUser(context.Background(), &domain.User{
		ID:    id,
		Name:  "Test User",
		Email: id + "@example.com",
	})
	require.NoError(t, err)
}

func seedRecurring(t *testing.T, st *memory.Store, userID string, interval domain.RecurringInterval, nextDue *time.Time) string {
	t.Helper()
	tx := &domain.Transaction{
		UserID:            userID,
		Type:              domain.TypeExpense,
		Amount:            decimal.NewFromInt(50),
		Name:              "Gym membership",
		Category:          domain.CategoryEntertainment,
		TransactionDate:   time.Now().UTC().AddDate(0, -1, 0),
		IsRecurring:       true,
		RecurringInterval: &interval,
		NextRecurringDate: nextDue,
	}
	require.NoError(t, st.InsertTransaction(context.Background(), tx))
	return tx.ID
}

func TestTriggerRecurringFansOutDueTransactions(t *testing.T) {
	st := memory.New()
	seedUser(t, st, "user_1")
	seedUser(t, st, "user_2")

	now := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	past := now.AddDate(0, 0, -1)
	future := now.AddDate(0, 0, 5)

	dueID := seedRecurring(t, st, "user_1", domain.IntervalMonthly, &past)
	// A row that was never scheduled counts as due.
	neverScheduledID := seedRecurring(t, st, "user_1", domain.IntervalDaily, nil)
	seedRecurring(t, st, "user_2", domain.IntervalWeekly, &future)

	pub := &recordingPublisher{}
	trig := &TriggerRecurring{store: st, publisher: pub, now: func() time.Time { return now }}

	result, err := trig.handle(context.Background(), newTestExecution(), nil)
	require.NoError(t, err)
	assert.Equal(t, TriggerResult{Triggered: 2}, result)

	require.Len(t, pub.events, 2)
	ids := []string{pub.events[0].TransactionID, pub.events[1].TransactionID}
	assert.ElementsMatch(t, []string{dueID, neverScheduledID}, ids)
	for _, evt := range pub.events {
		assert.Equal(t, "user_1", evt.UserID)
	}
}

func TestTriggerRecurringNothingDue(t *testing.T) {
	st := memory.New()
	pub := &recordingPublisher{}
	trig := &TriggerRecurring{store: st, publisher: pub, now: time.Now}

	result, err := trig.handle(context.Background(), newTestExecution(), nil)
	require.NoError(t, err)
	assert.Equal(t, TriggerResult{Triggered: 0}, result)
	assert.Empty(t, pub.events)
}

func TestProcessRecurringCreatesSuccessor(t *testing.T) {
	st := memory.New()
	seedUser(t, st, "user_1")

	now := time.Date(2026, 1, 31, 14, 30, 0, 0, time.UTC)
	past := now.AddDate(0, 0, -1)
	origID := seedRecurring(t, st, "user_1", domain.IntervalMonthly, &past)

	proc := &ProcessRecurring{store: st, now: func() time.Time { return now }}
	payload, _ := json.Marshal(RecurringProcessPayload{TransactionID: origID, UserID: "user_1"})

	result, err := proc.handle(context.Background(), newTestExecution(), payload)
	require.NoError(t, err)

	pr := result.(ProcessResult)
	assert.True(t, pr.Success)
	require.NotEmpty(t, pr.NewTransactionID)

	// Source row is closed out.
	orig, err := st.TransactionByID(context.Background(), origID)
	require.NoError(t, err)
	assert.False(t, orig.IsRecurring)
	assert.Nil(t, orig.RecurringInterval)
	assert.Nil(t, orig.NextRecurringDate)
	require.NotNil(t, orig.LastProcessedDate)
	assert.Equal(t, now, *orig.LastProcessedDate)

	// Successor carries the recurrence forward.
	next, err := st.TransactionByID(context.Background(), pr.NewTransactionID)
	require.NoError(t, err)
	assert.True(t, next.IsRecurring)
	require.NotNil(t, next.RecurringInterval)
	assert.Equal(t, domain.IntervalMonthly, *next.RecurringInterval)
	assert.True(t, next.Amount.Equal(orig.Amount))
	assert.Equal(t, orig.Name, next.Name)
	assert.Equal(t, now, next.TransactionDate)

	// Jan 31 monthly clamps to the end of February.
	require.NotNil(t, next.NextRecurringDate)
	assert.Equal(t, time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC), *next.NextRecurringDate)
}

func TestProcessRecurringMissingTransactionIsFatal(t *testing.T) {
	st := memory.New()
	proc := &ProcessRecurring{store: st, now: time.Now}
	payload, _ := json.Marshal(RecurringProcessPayload{TransactionID: uuid.NewString(), UserID: "user_1"})

	_, err := proc.handle(context.Background(), newTestExecution(), payload)
	require.Error(t, err)
	assert.True(t, engine.IsFatal(err), "a deleted source row can never be fixed by retrying")
}

func TestProcessRecurringNonRecurringIsFatal(t *testing.T) {
	st := memory.New()
	seedUser(t, st, "user_1")

	tx := &domain.Transaction{
		UserID:          "user_1",
		Type:            domain.TypeExpense,
		Amount:          decimal.NewFromInt(20),
		Name:            "One-off",
		Category:        domain.CategoryOther,
		TransactionDate: time.Now().UTC(),
	}
	require.NoError(t, st.InsertTransaction(context.Background(), tx))

	proc := &ProcessRecurring{store: st, now: time.Now}
	payload, _ := json.Marshal(RecurringProcessPayload{TransactionID: tx.ID, UserID: "user_1"})

	_, err := proc.handle(context.Background(), newTestExecution(), payload)
	require.Error(t, err)
	assert.True(t, engine.IsFatal(err))
}

func TestProcessRecurringMalformedPayloadIsFatal(t *testing.T) {
	proc := &ProcessRecurring{store: memory.New(), now: time.Now}

	_, err := proc.handle(context.Background(), newTestExecution(), json.RawMessage(`{"transactionId": `))
	require.Error(t, err)
	assert.True(t, engine.IsFatal(err))

	_, err = proc.handle(context.Background(), newTestExecution(), json.RawMessage(`{"userId": "user_1"}`))
	require.Error(t, err)
	assert.True(t, engine.IsFatal(err))
}

// failingStore injects a write failure inside the atomic handoff.
type failingStore struct {
	store.Store
	failInsert bool
}

func (f *failingStore) InsertTransaction(ctx context.Context, tx *domain.Transaction) error {
	if f.failInsert {
		return errors.New("connection reset")
	}
	return f.Store.InsertTransaction(ctx, tx)
}

func (f *failingStore) RunAtomic(ctx context.Context, fn func(ctx context.Context, st store.Store) error) error {
	return f.Store.RunAtomic(ctx, func(ctx context.Context, st store.Store) error {
		return fn(ctx, &failingStore{Store: st, failInsert: f.failInsert})
	})
}

func TestProcessRecurringHandoffIsAtomic(t *testing.T) {
	mem := memory.New()
	seedUser(t, mem, "user_1")

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	past := now.AddDate(0, 0, -1)
	origID := seedRecurring(t, mem, "user_1", domain.IntervalWeekly, &past)

	failing := &failingStore{Store: mem, failInsert: true}
	proc := &ProcessRecurring{store: failing, now: func() time.Time { return now }}

	checkpoints := engine.NewMemoryCheckpointStore()
	instanceID := uuid.NewString()
	ex := engine.NewExecution(instanceID, checkpoints, zerolog.Nop())

	payload, _ := json.Marshal(RecurringProcessPayload{TransactionID: origID, UserID: "user_1"})
	_, err := proc.handle(context.Background(), ex, payload)
	require.Error(t, err)
	assert.False(t, engine.IsFatal(err), "a transient write failure must stay retryable")

	// The insert failed, so the recurrence clear must have rolled back too.
	orig, err := mem.TransactionByID(context.Background(), origID)
	require.NoError(t, err)
	assert.True(t, orig.IsRecurring, "source row must be untouched after rollback")
	assert.NotNil(t, orig.NextRecurringDate)

	// Redelivery under the same instance resumes past the fetch step and
	// completes once the store recovers.
	failing.failInsert = false
	ex = engine.NewExecution(instanceID, checkpoints, zerolog.Nop())
	result, err := proc.handle(context.Background(), ex, payload)
	require.NoError(t, err)

	pr := result.(ProcessResult)
	assert.True(t, pr.Success)

	orig, err = mem.TransactionByID(context.Background(), origID)
	require.NoError(t, err)
	assert.False(t, orig.IsRecurring)
}

func TestProcessRecurringThrottleKey(t *testing.T) {
	w := NewProcessRecurring(memory.New(), 10, time.Minute)
	require.NotNil(t, w.Throttle)
	assert.Equal(t, 10, w.Throttle.Limit)

	payload, _ := json.Marshal(RecurringProcessPayload{TransactionID: "tx_1", UserID: "user_42"})
	assert.Equal(t, "user_42", w.Throttle.Key(payload))
	assert.Equal(t, "", w.Throttle.Key(json.RawMessage(`not json`)))
}

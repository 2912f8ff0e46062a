package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/expenseai/engine/internal/domain"
	"github.com/expenseai/engine/internal/engine"
	"github.com/expenseai/engine/internal/scan"
	"github.com/expenseai/engine/internal/workflows"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// publisherMock records published events.
type publisherMock struct {
	events   []string
	payloads []json.RawMessage
	err      error
}

func (p *publisherMock) PublishEvent(ctx context.Context, name string, payload any) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, name)
	if raw, ok := payload.(json.RawMessage); ok {
		p.payloads = append(p.payloads, raw)
	}
	return nil
}

func TestIdentityEventAcceptsAndPublishes(t *testing.T) {
	pub := &publisherMock{}
	h := NewWebhooksHandler(pub, zerolog.Nop())

	body := `{"data": {"id": "user_1"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/identity", strings.NewReader(body))
	rec := httptest.NewRecorder()

	h.IdentityEvent(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, []string{workflows.EventUserCreated}, pub.events)
	assert.JSONEq(t, body, string(pub.payloads[0]))
}

func TestIdentityEventEmptyBody(t *testing.T) {
	h := NewWebhooksHandler(&publisherMock{}, zerolog.Nop())

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/identity", strings.NewReader(""))
	rec := httptest.NewRecorder()

	h.IdentityEvent(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIdentityEventPublishFailure(t *testing.T) {
	pub := &publisherMock{err: errors.New("engine closed")}
	h := NewWebhooksHandler(pub, zerolog.Nop())

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/identity", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()

	h.IdentityEvent(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func seedTasks(t *testing.T) *engine.MemoryTaskStore {
	t.Helper()
	st := engine.NewMemoryTaskStore()
	base := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	for i, task := range []*engine.Task{
		{ID: "t-1", Workflow: "sync-user-from-identity-provider", Status: engine.TaskStatusCompleted},
		{ID: "t-2", Workflow: "check-budget-alerts", Status: engine.TaskStatusFailed, Error: "store unavailable"},
		{ID: "t-3", Workflow: "check-budget-alerts", Status: engine.TaskStatusCompleted},
	} {
		task.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, st.SaveTask(context.Background(), task))
	}
	return st
}

func TestListTasks(t *testing.T) {
	h := NewTasksHandler(seedTasks(t), zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	rec := httptest.NewRecorder()
	h.ListTasks(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Tasks []engine.Task `json:"tasks"`
		Count int           `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Count)
	assert.Equal(t, "t-3", resp.Tasks[0].ID, "newest first")
}

func TestListTasksFiltered(t *testing.T) {
	h := NewTasksHandler(seedTasks(t), zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/api/tasks?workflow=check-budget-alerts&status=failed&limit=10", nil)
	rec := httptest.NewRecorder()
	h.ListTasks(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Tasks []engine.Task `json:"tasks"`
		Count int           `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "t-2", resp.Tasks[0].ID)
}

func TestGetTask(t *testing.T) {
	h := NewTasksHandler(seedTasks(t), zerolog.Nop())

	rec := httptest.NewRecorder()
	h.GetTask(rec, httptest.NewRequest(http.MethodGet, "/api/tasks/t-2", nil), "t-2")
	require.Equal(t, http.StatusOK, rec.Code)

	var task engine.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &task))
	assert.Equal(t, engine.TaskStatusFailed, task.Status)
	assert.Equal(t, "store unavailable", task.Error)

	rec = httptest.NewRecorder()
	h.GetTask(rec, httptest.NewRequest(http.MethodGet, "/api/tasks/nope", nil), "nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// scannerMock returns a fixed scan result or error.
type scannerMock struct {
	result *scan.Result
	err    error

	gotMIME string
}

func (s *scannerMock) Scan(ctx context.Context, image []byte, mimeType string) (*scan.Result, error) {
	s.gotMIME = mimeType
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func TestScanReceiptInlineUpload(t *testing.T) {
	scanner := &scannerMock{result: &scan.Result{
		Amount:   decimal.NewFromInt(12),
		Type:     domain.TypeExpense,
		Name:     "Coffee",
		Category: domain.CategoryDining,
	}}
	h := NewReceiptsHandler(scanner, nil, zerolog.Nop())

	req := httptest.NewRequest(http.MethodPost, "/api/receipts/scan", strings.NewReader("fake-image-bytes"))
	req.Header.Set("Content-Type", "image/png")
	rec := httptest.NewRecorder()

	h.ScanReceipt(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", scanner.gotMIME)

	var resp struct {
		Success bool        `json:"success"`
		Data    scan.Result `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "Coffee", resp.Data.Name)
}

func TestScanReceiptNotAReceipt(t *testing.T) {
	h := NewReceiptsHandler(&scannerMock{err: scan.ErrNotReceipt}, nil, zerolog.Nop())

	req := httptest.NewRequest(http.MethodPost, "/api/receipts/scan", strings.NewReader("cat-photo"))
	rec := httptest.NewRecorder()

	h.ScanReceipt(rec, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestScanReceiptUnconfigured(t *testing.T) {
	h := NewReceiptsHandler(nil, nil, zerolog.Nop())

	req := httptest.NewRequest(http.MethodPost, "/api/receipts/scan", strings.NewReader("img"))
	rec := httptest.NewRecorder()

	h.ScanReceipt(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	// URI fetch path without a configured fetcher.
	h = NewReceiptsHandler(&scannerMock{}, nil, zerolog.Nop())
	req = httptest.NewRequest(http.MethodPost, "/api/receipts/scan?uri=gs://bucket/receipt.jpg", nil)
	rec = httptest.NewRecorder()

	h.ScanReceipt(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestScanReceiptEmptyBody(t *testing.T) {
	h := NewReceiptsHandler(&scannerMock{}, nil, zerolog.Nop())

	req := httptest.NewRequest(http.MethodPost, "/api/receipts/scan", strings.NewReader(""))
	rec := httptest.NewRecorder()

	h.ScanReceipt(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMimeFromFilename(t *testing.T) {
	assert.Equal(t, "image/png", mimeFromFilename("receipt.png"))
	assert.Equal(t, "image/webp", mimeFromFilename("receipt.webp"))
	assert.Equal(t, "application/pdf", mimeFromFilename("receipt.pdf"))
	assert.Equal(t, "image/jpeg", mimeFromFilename("receipt.jpg"))
	assert.Equal(t, "image/jpeg", mimeFromFilename("noext"))
}

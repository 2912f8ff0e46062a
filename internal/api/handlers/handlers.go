package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/expenseai/engine/internal/api/middleware"
	"github.com/expenseai/engine/internal/blob"
	"github.com/expenseai/engine/internal/engine"
	"github.com/expenseai/engine/internal/scan"
	"github.com/expenseai/engine/internal/workflows"
	"github.com/rs/zerolog"
)

// maxReceiptBytes caps inline receipt uploads.
const maxReceiptBytes = 10 << 20

// WebhooksHandler receives identity-provider events and hands them to the
// workflow engine.
type WebhooksHandler struct {
	publisher workflows.Publisher
	log       zerolog.Logger
}

// NewWebhooksHandler creates a webhooks handler.
func NewWebhooksHandler(publisher workflows.Publisher, log zerolog.Logger) *WebhooksHandler {
	return &WebhooksHandler{publisher: publisher, log: log}
}

// IdentityEvent handles POST /api/webhooks/identity.
//
// The raw payload is published as-is; schema validation happens inside the
// sync-user workflow's boundary-parse step, so a malformed body is accepted
// here and rejected there with a structured failure instead of an endless
// redelivery loop.
func (h *WebhooksHandler) IdentityEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}
	if len(body) == 0 {
		middleware.WriteError(w, http.StatusBadRequest, "Empty request body")
		return
	}

	if err := h.publisher.PublishEvent(r.Context(), workflows.EventUserCreated, json.RawMessage(body)); err != nil {
		h.log.Error().Err(err).Msg("Failed to publish identity event")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to accept event")
		return
	}

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// TasksHandler exposes workflow task state to operators.
type TasksHandler struct {
	tasks engine.TaskStore
	log   zerolog.Logger
}

// NewTasksHandler creates a tasks handler.
func NewTasksHandler(tasks engine.TaskStore, log zerolog.Logger) *TasksHandler {
	return &TasksHandler{tasks: tasks, log: log}
}

// ListTasks handles GET /api/tasks
func (h *TasksHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	filter := engine.TaskFilter{
		Workflow: r.URL.Query().Get("workflow"),
		Status:   engine.TaskStatus(r.URL.Query().Get("status")),
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			filter.Limit = n
		}
	}

	tasks, err := h.tasks.ListTasks(r.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list tasks")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list tasks")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"tasks": tasks,
		"count": len(tasks),
	})
}

// GetTask handles GET /api/tasks/{id}
func (h *TasksHandler) GetTask(w http.ResponseWriter, r *http.Request, taskID string) {
	task, err := h.tasks.GetTask(r.Context(), taskID)
	if err != nil {
		middleware.WriteError(w, http.StatusNotFound, "Task not found")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, task)
}

// ReceiptsHandler runs receipt scans.
type ReceiptsHandler struct {
	scanner scan.Scanner
	fetcher blob.Fetcher
	log     zerolog.Logger
}

// NewReceiptsHandler creates a receipts handler. scanner may be nil when no
// API key is configured; fetcher may be nil when no bucket is configured.
func NewReceiptsHandler(scanner scan.Scanner, fetcher blob.Fetcher, log zerolog.Logger) *ReceiptsHandler {
	return &ReceiptsHandler{scanner: scanner, fetcher: fetcher, log: log}
}

// ScanReceipt handles POST /api/receipts/scan.
//
// The image arrives either inline as the request body, or by reference as
// ?uri=gs://bucket/object fetched from Cloud Storage.
func (h *ReceiptsHandler) ScanReceipt(w http.ResponseWriter, r *http.Request) {
	if h.scanner == nil {
		middleware.WriteError(w, http.StatusServiceUnavailable, "Receipt scanning is not configured")
		return
	}

	var (
		image    []byte
		mimeType string
		err      error
	)

	if uri := r.URL.Query().Get("uri"); uri != "" {
		if h.fetcher == nil {
			middleware.WriteError(w, http.StatusServiceUnavailable, "Receipt storage is not configured")
			return
		}
		image, err = h.fetcher.Fetch(r.Context(), uri)
		if err != nil {
			h.log.Error().Err(err).Str("uri", uri).Msg("Failed to fetch receipt image")
			middleware.WriteError(w, http.StatusBadGateway, "Failed to fetch receipt image")
			return
		}
		mimeType = mimeFromFilename(blob.Filename(uri))
	} else {
		image, err = io.ReadAll(io.LimitReader(r.Body, maxReceiptBytes))
		if err != nil || len(image) == 0 {
			middleware.WriteError(w, http.StatusBadRequest, "No file uploaded")
			return
		}
		mimeType = r.Header.Get("Content-Type")
		if mimeType == "" {
			mimeType = "image/jpeg"
		}
	}

	result, err := h.scanner.Scan(r.Context(), image, mimeType)
	if err != nil {
		if errors.Is(err, scan.ErrNotReceipt) {
			middleware.WriteJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
				"success": false,
				"message": "The uploaded image does not appear to be a receipt.",
			})
			return
		}
		h.log.Error().Err(err).Msg("Receipt scan failed")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to process the receipt")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    result,
	})
}

func mimeFromFilename(name string) string {
	switch {
	case strings.HasSuffix(name, ".png"):
		return "image/png"
	case strings.HasSuffix(name, ".webp"):
		return "image/webp"
	case strings.HasSuffix(name, ".pdf"):
		return "application/pdf"
	default:
		return "image/jpeg"
	}
}

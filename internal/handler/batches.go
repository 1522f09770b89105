package handler

import (
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/outreachpro/outreach/internal/model"
	"github.com/outreachpro/outreach/internal/service"
)

// EnqueueBatchRequest configures a batch send. A missing delay uses the
// configured default.
type EnqueueBatchRequest struct {
	DelaySeconds *int `json:"delaySeconds"`
}

// BatchResponse is a batch manifest with derived counts
type BatchResponse struct {
	*model.Batch
	QueuedCount  int `json:"queuedCount"`
	DelaySeconds int `json:"delaySeconds"`
}

func newBatchResponse(b *model.Batch) BatchResponse {
	return BatchResponse{Batch: b, QueuedCount: b.QueuedCount(), DelaySeconds: b.DelaySeconds()}
}

// EnqueueBatch snapshots all drafts and sends them in the background
func (h *Handler) EnqueueBatch(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}

	var req EnqueueBatchRequest
	if r.ContentLength != 0 {
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
			return
		}
	}
	delay := h.cfg.Outreach.DefaultBatchDelay
	if req.DelaySeconds != nil {
		limit := int64(math.MaxInt64 / time.Second)
		if h.cfg.Outreach.MaxBatchDelay > 0 {
			limit = int64(h.cfg.Outreach.MaxBatchDelay / time.Second)
		}
		if seconds := int64(*req.DelaySeconds); seconds < 0 || seconds > limit {
			writeErrorWithDetails(w, http.StatusBadRequest, "validation_error", "delaySeconds is out of range",
				map[string]interface{}{"problems": []string{fmt.Sprintf("delaySeconds must be between 0 and %d", limit)}})
			return
		}
		delay = time.Duration(*req.DelaySeconds) * time.Second
	}

	batch, err := h.batches.EnqueueBatch(r.Context(), accountID, delay)
	if err != nil {
		h.serviceError(w, r, err, "failed to enqueue batch")
		return
	}
	writeJSON(w, http.StatusAccepted, newBatchResponse(batch))
}

// GetBatch returns a batch manifest and its progress
func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}

	batchID, ok := h.pathID(w, r, service.ErrBatchNotFound)
	if !ok {
		return
	}

	batch, err := h.batches.GetBatch(r.Context(), accountID, batchID)
	if err != nil {
		h.serviceError(w, r, err, "failed to get batch")
		return
	}
	writeJSON(w, http.StatusOK, newBatchResponse(batch))
}

// CancelBatch stops a batch before its next send
func (h *Handler) CancelBatch(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}

	batchID, ok := h.pathID(w, r, service.ErrBatchNotFound)
	if !ok {
		return
	}

	batch, err := h.batches.CancelBatch(r.Context(), accountID, batchID)
	if err != nil {
		h.serviceError(w, r, err, "failed to cancel batch")
		return
	}
	writeJSON(w, http.StatusOK, newBatchResponse(batch))
}

package handler

import (
	"fmt"
	"net/http"

	"github.com/outreachpro/outreach/internal/mailer"
	"github.com/outreachpro/outreach/internal/model"
	"github.com/outreachpro/outreach/internal/service"
)

// AttachmentRequest is a file added to every draft; Data is base64 in JSON
type AttachmentRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Data        []byte `json:"data"`
}

// CreateDraftsRequest configures a drafting run. An empty body drafts all
// eligible contacts with the default generator.
type CreateDraftsRequest struct {
	Generator   string              `json:"generator"`
	Limit       int                 `json:"limit"`
	Attachments []AttachmentRequest `json:"attachments"`
}

// CreateDrafts drafts an email for every new contact
func (h *Handler) CreateDrafts(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}

	var req CreateDraftsRequest
	if r.ContentLength != 0 {
		limit := h.cfg.Outreach.MaxAttachmentBytes
		if limit <= 0 {
			limit = 10 << 20
		}
		// base64 inflates attachments by a third
		r.Body = http.MaxBytesReader(w, r.Body, limit*2)
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
			return
		}
	}
	if req.Limit < 0 {
		writeError(w, http.StatusBadRequest, "validation_error", "limit must not be negative")
		return
	}

	attachments, err := h.attachments(req.Attachments)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	result, err := h.outreach.CreateDraftsForNewContacts(r.Context(), accountID, service.DraftOptions{
		Generator:   req.Generator,
		Limit:       req.Limit,
		Attachments: attachments,
	})
	if err != nil {
		h.serviceError(w, r, err, "failed to create drafts")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) attachments(in []AttachmentRequest) ([]mailer.Attachment, error) {
	var total int64
	out := make([]mailer.Attachment, 0, len(in))
	for i, a := range in {
		if a.Filename == "" {
			return nil, fmt.Errorf("attachment %d: filename is required", i+1)
		}
		if len(a.Data) == 0 {
			return nil, fmt.Errorf("attachment %s: file is empty", a.Filename)
		}
		total += int64(len(a.Data))
		if limit := h.cfg.Outreach.MaxAttachmentBytes; limit > 0 && total > limit {
			return nil, fmt.Errorf("attachments exceed %d bytes", limit)
		}
		out = append(out, mailer.Attachment{
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Data:        a.Data,
		})
	}
	return out, nil
}

// ListDrafts returns attempts still waiting to be sent
func (h *Handler) ListDrafts(w http.ResponseWriter, r *http.Request) {
	h.listAttempts(w, r, model.AttemptStatusDraft)
}

// History returns attempts newest first, optionally filtered by ?status=
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	h.listAttempts(w, r, model.AttemptStatus(r.URL.Query().Get("status")))
}

func (h *Handler) listAttempts(w http.ResponseWriter, r *http.Request, status model.AttemptStatus) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	attempts, err := h.outreach.GetHistory(r.Context(), accountID, status, limit)
	if err != nil {
		h.serviceError(w, r, err, "failed to list attempts")
		return
	}
	if attempts == nil {
		attempts = []*model.Attempt{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"attempts": attempts})
}

// Preview renders content for a few eligible contacts without drafting
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	previews, err := h.outreach.Preview(r.Context(), accountID, limit, r.URL.Query().Get("generator"))
	if err != nil {
		h.serviceError(w, r, err, "failed to preview")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"previews": previews})
}

// SendAttempt sends one drafted attempt
func (h *Handler) SendAttempt(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}

	attemptID, ok := h.pathID(w, r, service.ErrAttemptNotFound)
	if !ok {
		return
	}

	result, err := h.outreach.SendAttempt(r.Context(), accountID, attemptID)
	if err != nil {
		h.serviceError(w, r, err, "failed to send attempt")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Stats returns the account overview
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}

	stats, err := h.outreach.GetStats(r.Context(), accountID)
	if err != nil {
		h.serviceError(w, r, err, "failed to get stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

package handler

import (
	"net/http"
	"strings"

	"github.com/outreachpro/outreach/internal/model"
)

// maxImportBytes bounds an uploaded contact list
const maxImportBytes = 10 << 20

// ImportContactsRequest is the JSON form of an import
type ImportContactsRequest struct {
	Contacts []model.ContactRecord `json:"contacts"`
}

// ImportContacts accepts either a JSON body or a multipart upload with a
// CSV or JSON file in the "file" field
func (h *Handler) ImportContacts(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxImportBytes)

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "A contacts file is required in the \"file\" field")
			return
		}
		defer file.Close()

		result, err := h.imports.ImportFile(r.Context(), accountID, header.Filename, file)
		if err != nil {
			h.serviceError(w, r, err, "failed to import contacts file")
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	var req ImportContactsRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	result, err := h.imports.ImportContacts(r.Context(), accountID, req.Contacts)
	if err != nil {
		h.serviceError(w, r, err, "failed to import contacts")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ListContacts returns the account's contacts, newest first
func (h *Handler) ListContacts(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	status := model.ContactStatus(r.URL.Query().Get("status"))
	contacts, err := h.outreach.ListContacts(r.Context(), accountID, status, limit)
	if err != nil {
		h.serviceError(w, r, err, "failed to list contacts")
		return
	}
	if contacts == nil {
		contacts = []*model.Contact{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"contacts": contacts})
}

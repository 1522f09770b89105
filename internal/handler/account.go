package handler

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/outreachpro/outreach/internal/service"
)

// ConnectMailboxRequest carries OAuth tokens from the frontend consent flow
type ConnectMailboxRequest struct {
	AccessToken  string     `json:"accessToken"`
	RefreshToken string     `json:"refreshToken"`
	Expiry       *time.Time `json:"expiry"`
}

// PaymentEvent is a completed purchase reported by the payment processor
type PaymentEvent struct {
	AccountID string `json:"accountId"`
	Amount    int    `json:"amount"`
	Reference string `json:"reference"`
}

// GetAccount returns the authenticated account
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}

	account, err := h.accounts.GetAccount(r.Context(), accountID)
	if err != nil {
		h.serviceError(w, r, err, "failed to get account")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account":          account,
		"mailboxConnected": account.HasMailboxCredentials(),
	})
}

// ConnectMailbox stores the account's mail provider tokens
func (h *Handler) ConnectMailbox(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}

	var req ConnectMailboxRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	if err := h.accounts.ConnectMailbox(r.Context(), accountID, req.AccessToken, req.RefreshToken, req.Expiry); err != nil {
		h.serviceError(w, r, err, "failed to connect mailbox")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PaymentWebhook applies a purchase reported by the payment processor. The
// router only reaches it after the request signature is verified.
// Replaying the same reference does not add credits twice.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	var event PaymentEvent
	if err := readJSON(r, &event); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if event.AccountID == "" || event.Reference == "" {
		writeError(w, http.StatusBadRequest, "validation_error", "accountId and reference are required")
		return
	}
	if _, err := uuid.Parse(event.AccountID); err != nil {
		h.serviceError(w, r, service.ErrAccountNotFound, "unknown account in payment event")
		return
	}

	balance, err := h.credits.AddCredits(r.Context(), event.AccountID, event.Amount, event.Reference)
	if err != nil {
		h.serviceError(w, r, err, "failed to apply payment")
		return
	}
	h.log.Info().Str("account_id", event.AccountID).Str("reference", event.Reference).Int("amount", event.Amount).Msg("payment applied")
	writeJSON(w, http.StatusOK, map[string]interface{}{"accountId": event.AccountID, "credits": balance})
}

// ListCredits returns the newest credit ledger entries
func (h *Handler) ListCredits(w http.ResponseWriter, r *http.Request) {
	accountID, ok := requireAccount(w, r)
	if !ok {
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	txs, err := h.credits.Transactions(r.Context(), accountID, limit)
	if err != nil {
		h.serviceError(w, r, err, "failed to list credits")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"transactions": txs})
}

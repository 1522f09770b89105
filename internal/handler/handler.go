package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/outreachpro/outreach/internal/config"
	"github.com/outreachpro/outreach/internal/logger"
	"github.com/outreachpro/outreach/internal/middleware"
	"github.com/outreachpro/outreach/internal/model"
	"github.com/outreachpro/outreach/internal/service"
)

// Services the handlers depend on. The service package's concrete types
// satisfy these.
type (
	AccountService interface {
		GetAccount(ctx context.Context, id string) (*model.Account, error)
		ConnectMailbox(ctx context.Context, id, accessToken, refreshToken string, expiry *time.Time) error
	}

	CreditService interface {
		AddCredits(ctx context.Context, accountID string, amount int, reference string) (int, error)
		Transactions(ctx context.Context, accountID string, limit int) ([]*model.CreditTransaction, error)
	}

	ImportService interface {
		ImportContacts(ctx context.Context, accountID string, records []model.ContactRecord) (*model.ImportResult, error)
		ImportFile(ctx context.Context, accountID, filename string, r io.Reader) (*model.ImportResult, error)
	}

	OutreachService interface {
		CreateDraftsForNewContacts(ctx context.Context, accountID string, opts service.DraftOptions) (*model.DraftResult, error)
		SendAttempt(ctx context.Context, accountID, attemptID string) (*model.SendResult, error)
		Preview(ctx context.Context, accountID string, limit int, kind string) ([]model.Preview, error)
		GetStats(ctx context.Context, accountID string) (*model.Stats, error)
		GetHistory(ctx context.Context, accountID string, status model.AttemptStatus, limit int) ([]*model.Attempt, error)
		ListContacts(ctx context.Context, accountID string, status model.ContactStatus, limit int) ([]*model.Contact, error)
	}

	BatchService interface {
		EnqueueBatch(ctx context.Context, accountID string, delay time.Duration) (*model.Batch, error)
		CancelBatch(ctx context.Context, accountID, batchID string) (*model.Batch, error)
		GetBatch(ctx context.Context, accountID, batchID string) (*model.Batch, error)
	}

	HealthChecker interface {
		HealthCheck(ctx context.Context) error
	}
)

// Handler holds all HTTP handlers
type Handler struct {
	db       HealthChecker
	rdb      HealthChecker
	log      *logger.Logger
	cfg      *config.Config
	accounts AccountService
	credits  CreditService
	imports  ImportService
	outreach OutreachService
	batches  BatchService
}

// New creates a new Handler instance
func New(
	db, rdb HealthChecker,
	log *logger.Logger,
	cfg *config.Config,
	accounts AccountService,
	credits CreditService,
	imports ImportService,
	outreach OutreachService,
	batches BatchService,
) *Handler {
	return &Handler{
		db:       db,
		rdb:      rdb,
		log:      log.WithComponent("handler"),
		cfg:      cfg,
		accounts: accounts,
		credits:  credits,
		imports:  imports,
		outreach: outreach,
		batches:  batches,
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeErrorWithDetails(w, status, code, message, nil)
}

func writeErrorWithDetails(w http.ResponseWriter, status int, code, message string, details map[string]interface{}) {
	body := map[string]interface{}{
		"code":    code,
		"message": message,
	}
	if details != nil {
		body["details"] = details
	}
	writeJSON(w, status, map[string]interface{}{"error": body})
}

func readJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return errors.New("request body is empty")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

// pathID returns the {id} path value. Ids are UUIDs, so anything else is
// reported as notFound without reaching the store.
func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, notFound error) (string, bool) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		h.serviceError(w, r, notFound, "malformed id")
		return "", false
	}
	return id, true
}

// requireAccount returns the authenticated account, writing a 401 when absent
func requireAccount(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := middleware.GetAccountID(r.Context())
	if id == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return "", false
	}
	return id, true
}

// queryInt parses an optional non-negative integer query parameter
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return n, nil
}

// serviceError maps the service error taxonomy onto HTTP responses
func (h *Handler) serviceError(w http.ResponseWriter, r *http.Request, err error, action string) {
	var (
		verr    *service.ValidationError
		credits *service.InsufficientCreditsError
		perr    *service.ProviderOperationError
	)
	switch {
	case errors.As(err, &verr):
		writeErrorWithDetails(w, http.StatusBadRequest, "validation_error", "The request is invalid",
			map[string]interface{}{"problems": verr.Problems})
	case errors.As(err, &credits):
		writeErrorWithDetails(w, http.StatusPaymentRequired, "insufficient_credits", err.Error(),
			map[string]interface{}{"required": credits.Required, "available": credits.Available})
	case errors.Is(err, service.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, service.ErrProviderAuth):
		writeError(w, http.StatusFailedDependency, "provider_auth_failed", "The mailbox could not be authenticated, reconnect it")
	case errors.Is(err, service.ErrAccountNotFound),
		errors.Is(err, service.ErrAttemptNotFound),
		errors.Is(err, service.ErrBatchNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, service.ErrUnsendableAttempt):
		writeError(w, http.StatusConflict, "unsendable_attempt", err.Error())
	case errors.Is(err, service.ErrConcurrentOperation),
		errors.Is(err, service.ErrBatchFinished):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.As(err, &perr):
		h.log.Warn().Err(err).Str("path", r.URL.Path).Msg(action)
		writeError(w, http.StatusBadGateway, "provider_error", "The mail provider rejected the request")
	default:
		h.log.Error().Err(err).Str("request_id", middleware.GetRequestID(r.Context())).Msg(action)
		writeError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}

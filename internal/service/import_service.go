package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/outreachpro/outreach/internal/dedup"
	"github.com/outreachpro/outreach/internal/importer"
	"github.com/outreachpro/outreach/internal/logger"
	"github.com/outreachpro/outreach/internal/model"
)

// maxImportProblems caps how many row problems a ValidationError carries
const maxImportProblems = 20

// ImportService owns the dedup index over an account's contacts
type ImportService struct {
	contacts ContactStore
	validate *validator.Validate
	log      *logger.Logger
}

// NewImportService creates a new ImportService
func NewImportService(contacts ContactStore, log *logger.Logger) *ImportService {
	return &ImportService{
		contacts: contacts,
		validate: newValidator(),
		log:      log.WithComponent("import_service"),
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Exists reports whether the (email, company) pair is already imported
func (s *ImportService) Exists(ctx context.Context, accountID, email, company string) (bool, error) {
	return s.contacts.Exists(ctx, accountID, email, company)
}

// Upsert stores one record and reports whether it was created
func (s *ImportService) Upsert(ctx context.Context, accountID string, rec model.ContactRecord) (bool, error) {
	if err := s.validateRecords([]model.ContactRecord{rec}); err != nil {
		return false, err
	}
	return s.contacts.Insert(ctx, newContact(accountID, rec))
}

// ImportContacts validates every record, then upserts them. Any invalid
// record rejects the whole import before persistence.
func (s *ImportService) ImportContacts(ctx context.Context, accountID string, records []model.ContactRecord) (*model.ImportResult, error) {
	if len(records) == 0 {
		return nil, validationError("no contacts to import")
	}
	if err := s.validateRecords(records); err != nil {
		return nil, err
	}

	result := &model.ImportResult{Total: len(records)}
	seen := make(map[string]struct{}, len(records))
	for _, rec := range records {
		key := dedup.Key(rec.Email, rec.Company)
		if _, dup := seen[key]; dup {
			result.AlreadyPresent++
			continue
		}
		seen[key] = struct{}{}

		created, err := s.contacts.Insert(ctx, newContact(accountID, rec))
		if err != nil {
			return nil, fmt.Errorf("import stopped after %d contacts: %w", result.Created+result.AlreadyPresent, err)
		}
		if created {
			result.Created++
		} else {
			result.AlreadyPresent++
		}
	}

	s.log.Info().
		Str("account_id", accountID).
		Int("total", result.Total).
		Int("created", result.Created).
		Int("already_present", result.AlreadyPresent).
		Msg("contacts imported")
	return result, nil
}

// ImportFile parses a CSV or JSON list and imports it
func (s *ImportService) ImportFile(ctx context.Context, accountID, filename string, r io.Reader) (*model.ImportResult, error) {
	records, err := importer.Read(filename, r)
	if err != nil {
		if errors.Is(err, importer.ErrMissingColumns) ||
			errors.Is(err, importer.ErrMalformed) ||
			errors.Is(err, importer.ErrUnsupportedFormat) {
			return nil, &ValidationError{Problems: []string{err.Error()}}
		}
		return nil, err
	}
	return s.ImportContacts(ctx, accountID, records)
}

func (s *ImportService) validateRecords(records []model.ContactRecord) error {
	var problems []string
	for i := range records {
		records[i].Email = strings.TrimSpace(records[i].Email)
		err := s.validate.Struct(records[i])
		if err == nil {
			continue
		}
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		for _, fe := range fieldErrs {
			problems = append(problems, fmt.Sprintf("row %d: %s failed %q", i+1, fe.Field(), fe.Tag()))
		}
		if len(problems) >= maxImportProblems {
			problems = append(problems[:maxImportProblems], "too many problems, stopped checking")
			break
		}
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func newContact(accountID string, rec model.ContactRecord) *model.Contact {
	return &model.Contact{
		ID:          uuid.New().String(),
		AccountID:   accountID,
		Name:        strings.TrimSpace(rec.Name),
		Email:       strings.TrimSpace(rec.Email),
		Company:     strings.TrimSpace(rec.Company),
		Role:        strings.TrimSpace(rec.Role),
		CompanyType: rec.CompanyType,
		Notes:       rec.Notes,
		Status:      model.ContactStatusNew,
		CreatedAt:   time.Now().UTC(),
	}
}

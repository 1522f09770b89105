// Package importer parses contact lists into records. It checks shape
// (columns, file type); field-level validation happens on import.
package importer

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/outreachpro/outreach/internal/model"
)

var (
	// ErrMissingColumns is returned when a CSV header lacks required columns
	ErrMissingColumns = errors.New("missing required columns")
	// ErrUnsupportedFormat is returned for unknown file extensions
	ErrUnsupportedFormat = errors.New("unsupported file type")
	// ErrMalformed is returned for input that cannot be parsed at all
	ErrMalformed = errors.New("malformed contact list")
)

// Column aliases accepted for each field. The first alias set that matches
// all required fields wins.
var standardColumns = map[string][]string{
	"name":    {"recruiter_name", "name"},
	"email":   {"recruiter_email", "email"},
	"company": {"company"},
	"role":    {"role"},
}

var requiredFields = []string{"name", "email", "company", "role"}

// Read dispatches on the file extension
func Read(filename string, r io.Reader) ([]model.ContactRecord, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return ReadCSV(r)
	case ".json":
		return ReadJSON(r)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(filename))
	}
}

// ReadCSV parses a standard or Apollo.io CSV export
func ReadCSV(r io.Reader) ([]model.ContactRecord, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: empty file", ErrMalformed)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}

	if _, ok := index["First Name"]; ok {
		return readApollo(cr, index)
	}

	cols := make(map[string]int, len(requiredFields))
	var missing []string
	for _, field := range requiredFields {
		found := false
		for _, alias := range standardColumns[field] {
			if i, ok := index[alias]; ok {
				cols[field] = i
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, standardColumns[field][0])
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}

	var records []model.ContactRecord
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if blank(row) {
			continue
		}
		records = append(records, model.ContactRecord{
			Name:        field(row, cols["name"]),
			Email:       field(row, cols["email"]),
			Company:     field(row, cols["company"]),
			Role:        field(row, cols["role"]),
			CompanyType: column(row, index, "company_type"),
			Notes:       column(row, index, "notes"),
		})
	}
	return records, nil
}

func readApollo(cr *csv.Reader, index map[string]int) ([]model.ContactRecord, error) {
	var missing []string
	for _, col := range []string{"Email", "Company Name"} {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}

	var records []model.ContactRecord
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if blank(row) {
			continue
		}

		role := column(row, index, "Title")
		if role == "" {
			role = "AI/ML Engineer"
		}

		var notes []string
		if industry := column(row, index, "Industry"); industry != "" {
			notes = append(notes, industry)
		}
		if keywords := column(row, index, "Keywords"); keywords != "" {
			notes = append(notes, "Keywords: "+keywords)
		}

		records = append(records, model.ContactRecord{
			Name:        strings.TrimSpace(column(row, index, "First Name") + " " + column(row, index, "Last Name")),
			Email:       column(row, index, "Email"),
			Company:     column(row, index, "Company Name"),
			Role:        role,
			CompanyType: companyType(column(row, index, "# Employees")),
			Notes:       strings.Join(notes, " | "),
		})
	}
	return records, nil
}

// companyType buckets an employee count
func companyType(employees string) string {
	n, err := strconv.Atoi(strings.ReplaceAll(employees, ",", ""))
	switch {
	case err != nil:
		return "unknown"
	case n < 50:
		return "startup"
	case n < 500:
		return "mid-size"
	default:
		return "enterprise"
	}
}

type jsonRecord struct {
	RecruiterName  string `json:"recruiter_name"`
	RecruiterEmail string `json:"recruiter_email"`
	Name           string `json:"name"`
	Email          string `json:"email"`
	Company        string `json:"company"`
	Role           string `json:"role"`
	CompanyType    string `json:"company_type"`
	Notes          string `json:"notes"`
}

// ReadJSON parses either a bare array or {"recruiters": [...]}
func ReadJSON(r io.Reader) ([]model.ContactRecord, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read contact list: %w", err)
	}

	var items []jsonRecord
	if err := json.Unmarshal(data, &items); err != nil {
		var wrapped struct {
			Recruiters []jsonRecord `json:"recruiters"`
			Contacts   []jsonRecord `json:"contacts"`
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		items = append(wrapped.Recruiters, wrapped.Contacts...)
	}

	records := make([]model.ContactRecord, 0, len(items))
	for _, it := range items {
		records = append(records, model.ContactRecord{
			Name:        strings.TrimSpace(firstNonEmpty(it.RecruiterName, it.Name)),
			Email:       strings.TrimSpace(firstNonEmpty(it.RecruiterEmail, it.Email)),
			Company:     strings.TrimSpace(it.Company),
			Role:        strings.TrimSpace(it.Role),
			CompanyType: strings.TrimSpace(it.CompanyType),
			Notes:       strings.TrimSpace(it.Notes),
		})
	}
	return records, nil
}

func field(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func column(row []string, index map[string]int, name string) string {
	i, ok := index[name]
	if !ok {
		return ""
	}
	return field(row, i)
}

func blank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

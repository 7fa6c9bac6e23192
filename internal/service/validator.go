package service

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"billsync/internal/model"
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// lenientDateLayouts are tried in order when strict parsing is off.
// The strict layout comes first so well-formed dates stay cheap.
var lenientDateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"2006/01/02",
	"02-Jan-2006",
	"Jan 2, 2006",
}

var amountCleaner = strings.NewReplacer("$", "", "€", "", "£", "", ",", "", " ", "")

// RowValidator checks one row's raw fields. It never fails itself: the
// outcome is always a list of field errors, empty when the row is fine.
// An entirely blank row yields no errors; the pipeline skips it.
type RowValidator struct{}

func NewRowValidator() *RowValidator {
	return &RowValidator{}
}

func (v *RowValidator) Validate(row model.Row, index int, settings model.Settings) []model.FieldError {
	if row.IsEmpty() {
		return nil
	}

	var errs []model.FieldError
	add := func(field, message string) {
		errs = append(errs, model.FieldError{RowIndex: index, Field: field, Message: message})
	}

	required := []struct {
		field string
		value string
	}{
		{"billNumber", row.BillNumber},
		{"projectName", row.ProjectName},
		{"customerName", row.CustomerName},
		{"vendorName", row.VendorName},
	}
	for _, req := range required {
		if strings.TrimSpace(req.value) == "" {
			add(req.field, "required field is empty")
		}
	}

	if _, err := ParseDate(row.BillDate, settings.StrictDateParsing); err != nil {
		add("billDate", err.Error())
	}
	if _, err := ParseDate(row.InvoiceDate, settings.StrictDateParsing); err != nil {
		add("invoiceDate", err.Error())
	}

	if _, err := ParseAmount(row.BillLineAmount); err != nil {
		add("billLineAmount", err.Error())
	}

	if currency := EffectiveCurrency(row, settings); !currencyPattern.MatchString(currency) {
		add("currency", fmt.Sprintf("invalid currency code %q", currency))
	}

	return errs
}

// ParseDate parses a raw date cell. Strict mode accepts ISO dates
// only; lenient mode tries the common spreadsheet layouts.
func ParseDate(value string, strict bool) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("date is empty")
	}
	if strict {
		t, err := time.Parse("2006-01-02", value)
		if err != nil {
			return time.Time{}, fmt.Errorf("date %q is not in YYYY-MM-DD format", value)
		}
		return t, nil
	}
	for _, layout := range lenientDateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", value)
}

// ParseAmount strips currency symbols and separators before parsing.
// Negative amounts are rejected.
func ParseAmount(value string) (float64, error) {
	cleaned := amountCleaner.Replace(strings.TrimSpace(value))
	if cleaned == "" {
		return 0, errors.New("amount is empty")
	}
	amount, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("amount %q is not a number", value)
	}
	if amount < 0 {
		return 0, fmt.Errorf("amount %q is negative", value)
	}
	return amount, nil
}

// EffectiveCurrency is the row's explicit currency, else the batch
// default. Both validation and document building go through here so
// the two can never disagree.
func EffectiveCurrency(row model.Row, settings model.Settings) string {
	if c := strings.TrimSpace(row.Currency); c != "" {
		return c
	}
	return strings.TrimSpace(settings.DefaultCurrency)
}

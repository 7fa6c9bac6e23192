package model

import (
	"strings"
)

// Environment selects which books API tenant a batch runs against.
type Environment string

const (
	EnvSandbox    Environment = "sandbox"
	EnvProduction Environment = "production"
)

func (e Environment) Valid() bool {
	return e == EnvSandbox || e == EnvProduction
}

// Row is one spreadsheet record as ingested. Every field holds the raw
// cell text and stays untrusted until validated.
type Row struct {
	BillNumber          string `json:"billNumber"`
	Location            string `json:"location"`
	ProjectName         string `json:"projectName"`
	CustomerName        string `json:"customerName"`
	VendorName          string `json:"vendorName"`
	ClassName           string `json:"className"`
	BillDate            string `json:"billDate"`
	BillLineDescription string `json:"billLineDescription"`
	BillLineAmount      string `json:"billLineAmount"`
	Currency            string `json:"currency"`
	InvoiceDate         string `json:"invoiceDate"`
	PONumber            string `json:"poNumber"`
	PointOfContact      string `json:"pointOfContact"`
	Attachments         string `json:"attachments"` // semicolon-separated filenames
}

// IsEmpty reports whether every field is blank after trimming.
func (r Row) IsEmpty() bool {
	fields := []string{
		r.BillNumber, r.Location, r.ProjectName, r.CustomerName,
		r.VendorName, r.ClassName, r.BillDate, r.BillLineDescription,
		r.BillLineAmount, r.Currency, r.InvoiceDate, r.PONumber,
		r.PointOfContact, r.Attachments,
	}
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// Settings control how one batch is validated and replayed. They are
// fixed for the lifetime of the batch.
type Settings struct {
	AutoCreate           bool        `json:"autoCreate"`
	AlsoAttachToInvoice  bool        `json:"alsoAttachToInvoice"`
	FromBillableExpenses bool        `json:"fromBillableExpenses"`
	DefaultCurrency      string      `json:"defaultCurrency"`
	StrictDateParsing    bool        `json:"strictDateParsing"`
	Environment          Environment `json:"environment"`
}

func DefaultSettings() Settings {
	return Settings{
		AutoCreate:           true,
		FromBillableExpenses: true,
		DefaultCurrency:      "USD",
		Environment:          EnvSandbox,
	}
}

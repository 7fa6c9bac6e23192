package model

// RowStatus is the terminal outcome of one input row.
type RowStatus string

const (
	StatusSuccess     RowStatus = "success"
	StatusError       RowStatus = "error"
	StatusNeedsReview RowStatus = "needs_review"
	StatusSkipped     RowStatus = "skipped"
)

// FieldError points at one invalid field of one row. Validation
// collects these; nothing ever throws them.
type FieldError struct {
	RowIndex int    `json:"rowIndex"`
	Field    string `json:"field"`
	Message  string `json:"message"`
}

// AttachmentResult records the outcome of uploading one file. A failed
// attachment never changes the status of its row.
type AttachmentResult struct {
	FileName     string    `json:"fileName"`
	Status       RowStatus `json:"status"` // success or error
	AttachableID string    `json:"attachableId,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// ProcessingResult is what one row ends as. Rows of the same bill
// group share entity and document IDs.
type ProcessingResult struct {
	RowIndex          int                `json:"rowIndex"`
	Status            RowStatus          `json:"status"` // success, error, needs_review, skipped
	CustomerID        string             `json:"customerId,omitempty"`
	SubCustomerID     string             `json:"subCustomerId,omitempty"`
	VendorID          string             `json:"vendorId,omitempty"`
	BillID            string             `json:"billId,omitempty"`
	InvoiceID         string             `json:"invoiceId,omitempty"`
	AttachmentResults []AttachmentResult `json:"attachmentResults,omitempty"`
	Error             string             `json:"error,omitempty"`
	Message           string             `json:"message,omitempty"`
	IdempotencyKey    string             `json:"idempotencyKey,omitempty"`
}

// DryRunResult narrates what execution would do to one row.
type DryRunResult struct {
	RowIndex int      `json:"rowIndex"`
	Actions  []string `json:"actions,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	Errors   []string `json:"errors,omitempty"`
}

package books

import (
	"context"

	"billsync/internal/model"
)

// API is everything the processing pipeline asks of the books system.
// Find methods return (nil, nil) when no entity matches the name.
type API interface {
	FindCustomerByName(ctx context.Context, name string) (*model.Entity, error)
	CreateCustomer(ctx context.Context, spec CustomerSpec) (*model.Entity, error)
	FindVendorByName(ctx context.Context, name string) (*model.Entity, error)
	CreateVendor(ctx context.Context, name string) (*model.Entity, error)
	FindDepartmentByName(ctx context.Context, name string) (*model.Entity, error)
	FindClassByName(ctx context.Context, name string) (*model.Entity, error)
	DefaultExpenseAccount(ctx context.Context) (*model.Entity, error)
	CreateBill(ctx context.Context, bill *model.Bill) (string, error)
	CreateInvoice(ctx context.Context, invoice *model.Invoice) (string, error)
	UploadAttachment(ctx context.Context, att Attachment) (string, error)
}

// CustomerSpec describes a customer to create. ParentID nests the new
// record under an existing customer; Job marks it as a project.
type CustomerSpec struct {
	Name     string `json:"name"`
	ParentID string `json:"parentId,omitempty"`
	Job      bool   `json:"job,omitempty"`
}

// Attachment is one file to upload and link to a created document.
type Attachment struct {
	FileName   string
	Data       []byte
	EntityType string // Bill or Invoice
	EntityID   string
}

// Credential identifies one books account to act on. Tokens are issued
// elsewhere; this service only forwards them.
type Credential struct {
	AccountID string
	Token     string
}

package service

import (
	"context"
	"fmt"

	"billsync/internal/books"
	"billsync/internal/model"
)

// fakeBooks implements books.API in memory, recording every call so
// tests can assert on lookup and create traffic.
type fakeBooks struct {
	customers   map[string]*model.Entity
	vendors     map[string]*model.Entity
	departments map[string]*model.Entity
	classes     map[string]*model.Entity

	customerSpecs []books.CustomerSpec
	bills         []*model.Bill
	invoices      []*model.Invoice
	uploads       []books.Attachment
	calls         []string

	failCreateBillFor map[string]error // by doc number
	failCreateInvoice error
	failUploadName    string
	failUpload        error

	nextID int
}

func newFakeBooks() *fakeBooks {
	return &fakeBooks{
		customers:         make(map[string]*model.Entity),
		vendors:           make(map[string]*model.Entity),
		departments:       make(map[string]*model.Entity),
		classes:           make(map[string]*model.Entity),
		failCreateBillFor: make(map[string]error),
	}
}

func (f *fakeBooks) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func (f *fakeBooks) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeBooks) count(call string) int {
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeBooks) FindCustomerByName(ctx context.Context, name string) (*model.Entity, error) {
	f.record("FindCustomerByName")
	return f.customers[name], nil
}

func (f *fakeBooks) CreateCustomer(ctx context.Context, spec books.CustomerSpec) (*model.Entity, error) {
	f.record("CreateCustomer")
	f.customerSpecs = append(f.customerSpecs, spec)
	entity := &model.Entity{ID: f.id("cust"), Name: spec.Name}
	f.customers[spec.Name] = entity
	return entity, nil
}

func (f *fakeBooks) FindVendorByName(ctx context.Context, name string) (*model.Entity, error) {
	f.record("FindVendorByName")
	return f.vendors[name], nil
}

func (f *fakeBooks) CreateVendor(ctx context.Context, name string) (*model.Entity, error) {
	f.record("CreateVendor")
	entity := &model.Entity{ID: f.id("vend"), Name: name}
	f.vendors[name] = entity
	return entity, nil
}

func (f *fakeBooks) FindDepartmentByName(ctx context.Context, name string) (*model.Entity, error) {
	f.record("FindDepartmentByName")
	return f.departments[name], nil
}

func (f *fakeBooks) FindClassByName(ctx context.Context, name string) (*model.Entity, error) {
	f.record("FindClassByName")
	return f.classes[name], nil
}

func (f *fakeBooks) DefaultExpenseAccount(ctx context.Context) (*model.Entity, error) {
	f.record("DefaultExpenseAccount")
	return &model.Entity{ID: "acc-exp", Name: "Expenses"}, nil
}

func (f *fakeBooks) CreateBill(ctx context.Context, bill *model.Bill) (string, error) {
	f.record("CreateBill")
	if err := f.failCreateBillFor[bill.DocNumber]; err != nil {
		return "", err
	}
	f.bills = append(f.bills, bill)
	return f.id("bill"), nil
}

func (f *fakeBooks) CreateInvoice(ctx context.Context, invoice *model.Invoice) (string, error) {
	f.record("CreateInvoice")
	if f.failCreateInvoice != nil {
		return "", f.failCreateInvoice
	}
	f.invoices = append(f.invoices, invoice)
	return f.id("inv"), nil
}

func (f *fakeBooks) UploadAttachment(ctx context.Context, att books.Attachment) (string, error) {
	f.record("UploadAttachment")
	if f.failUpload != nil && (f.failUploadName == "" || f.failUploadName == att.FileName) {
		return "", f.failUpload
	}
	f.uploads = append(f.uploads, att)
	return f.id("att"), nil
}

package model

import (
	"errors"
	"fmt"
	"time"
)

// Entity is a books-side record resolved by name.
type Entity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// EntityRef points a document at an entity that already exists in the
// books system.
type EntityRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// BillLine is one expense line of a bill. One input row becomes
// exactly one line.
type BillLine struct {
	Amount         float64
	Description    string
	ExpenseAccount EntityRef
	SubCustomer    EntityRef
	Billable       bool
	Class          *EntityRef
}

// Bill is the expense document submitted to the books API. Build one
// with the document builder and call Validate before submission.
type Bill struct {
	Vendor     EntityRef
	TxnDate    time.Time
	DocNumber  string
	Department *EntityRef
	Currency   string
	Lines      []BillLine
}

func (b *Bill) Validate() error {
	if b.Vendor.ID == "" {
		return errors.New("bill: vendor ref required")
	}
	if b.DocNumber == "" {
		return errors.New("bill: doc number required")
	}
	if b.TxnDate.IsZero() {
		return errors.New("bill: txn date required")
	}
	if len(b.Lines) == 0 {
		return errors.New("bill: at least one line required")
	}
	for i, line := range b.Lines {
		if line.Amount < 0 {
			return fmt.Errorf("bill line %d: negative amount", i+1)
		}
		if line.ExpenseAccount.ID == "" {
			return fmt.Errorf("bill line %d: expense account ref required", i+1)
		}
		if line.SubCustomer.ID == "" {
			return fmt.Errorf("bill line %d: sub-customer ref required", i+1)
		}
	}
	return nil
}

// Invoice is the companion document raised from a bill's billable
// lines. FromBillID is filled in after the bill has been created.
type Invoice struct {
	SubCustomer    EntityRef
	TxnDate        time.Time
	PONumber       string
	PointOfContact string
	Currency       string
	FromBillID     string
}

func (inv *Invoice) Validate() error {
	if inv.SubCustomer.ID == "" {
		return errors.New("invoice: sub-customer ref required")
	}
	if inv.TxnDate.IsZero() {
		return errors.New("invoice: txn date required")
	}
	if inv.Currency == "" {
		return errors.New("invoice: currency required")
	}
	return nil
}

package service

import (
	"context"
	"fmt"
	"strings"

	"billsync/internal/model"
)

// BuiltGroup is a group's documents, resolved and validated, ready to
// submit. CustomerID and SubCustomerID are the group's bill-level
// pair: the first row's customer and its project.
type BuiltGroup struct {
	Bill          *model.Bill
	Invoice       *model.Invoice
	VendorID      string
	CustomerID    string
	SubCustomerID string
}

// DocumentBuilder turns one validated bill group into documents. The
// vendor, customer, department and the other bill-level fields come
// from the group's first row; every row contributes one billable line
// for its own project, nested under that one customer.
type DocumentBuilder struct {
	resolver *EntityResolver
	settings model.Settings
}

func NewDocumentBuilder(resolver *EntityResolver, settings model.Settings) *DocumentBuilder {
	return &DocumentBuilder{resolver: resolver, settings: settings}
}

func (b *DocumentBuilder) Build(ctx context.Context, group BillGroup) (*BuiltGroup, error) {
	first := group.First()

	vendor, err := b.resolver.Vendor(ctx, first.VendorName)
	if err != nil {
		return nil, err
	}

	department, err := b.resolver.Department(ctx, first.Location)
	if err != nil {
		return nil, err
	}

	customer, err := b.resolver.Customer(ctx, first.CustomerName)
	if err != nil {
		return nil, err
	}

	account, err := b.resolver.ExpenseAccount(ctx)
	if err != nil {
		return nil, err
	}

	billDate, err := ParseDate(first.BillDate, b.settings.StrictDateParsing)
	if err != nil {
		return nil, fmt.Errorf("bill date: %w", err)
	}

	currency := EffectiveCurrency(first, b.settings)

	bill := &model.Bill{
		Vendor:    model.EntityRef{ID: vendor.ID, Name: vendor.Name},
		TxnDate:   billDate,
		DocNumber: strings.TrimSpace(first.BillNumber),
		Currency:  currency,
	}
	if department != nil {
		bill.Department = &model.EntityRef{ID: department.ID, Name: department.Name}
	}

	for _, member := range group.Rows {
		row := member.Row

		subCustomer, err := b.resolver.SubCustomer(ctx, row.ProjectName, customer)
		if err != nil {
			return nil, err
		}
		amount, err := ParseAmount(row.BillLineAmount)
		if err != nil {
			return nil, fmt.Errorf("line amount: %w", err)
		}

		line := model.BillLine{
			Amount:         amount,
			Description:    strings.TrimSpace(row.BillLineDescription),
			ExpenseAccount: model.EntityRef{ID: account.ID, Name: account.Name},
			SubCustomer:    model.EntityRef{ID: subCustomer.ID, Name: subCustomer.Name},
			Billable:       true,
		}
		class, err := b.resolver.Class(ctx, row.ClassName)
		if err != nil {
			return nil, err
		}
		if class != nil {
			line.Class = &model.EntityRef{ID: class.ID, Name: class.Name}
		}

		bill.Lines = append(bill.Lines, line)
	}

	if err := bill.Validate(); err != nil {
		return nil, fmt.Errorf("assemble bill: %w", err)
	}

	built := &BuiltGroup{
		Bill:          bill,
		VendorID:      vendor.ID,
		CustomerID:    customer.ID,
		SubCustomerID: bill.Lines[0].SubCustomer.ID,
	}

	if b.settings.FromBillableExpenses {
		invoiceDate, err := ParseDate(first.InvoiceDate, b.settings.StrictDateParsing)
		if err != nil {
			return nil, fmt.Errorf("invoice date: %w", err)
		}
		invoice := &model.Invoice{
			SubCustomer:    bill.Lines[0].SubCustomer,
			TxnDate:        invoiceDate,
			PONumber:       strings.TrimSpace(first.PONumber),
			PointOfContact: strings.TrimSpace(first.PointOfContact),
			Currency:       currency,
		}
		if err := invoice.Validate(); err != nil {
			return nil, fmt.Errorf("assemble invoice: %w", err)
		}
		built.Invoice = invoice
	}

	return built, nil
}

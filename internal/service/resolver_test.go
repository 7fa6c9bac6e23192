package service

import (
	"context"
	"errors"
	"testing"

	"billsync/internal/model"
)

func TestResolveCustomerAutoCreate(t *testing.T) {
	fake := newFakeBooks()
	settings := model.DefaultSettings()
	r := NewEntityResolver(fake, settings)
	ctx := context.Background()

	got, err := r.Customer(ctx, "Acme Corp")
	if err != nil {
		t.Fatalf("Customer: %v", err)
	}
	if got.ID == "" || got.Name != "Acme Corp" {
		t.Fatalf("got %+v, want a created entity named Acme Corp", got)
	}
	if fake.count("CreateCustomer") != 1 {
		t.Errorf("CreateCustomer called %d times, want 1", fake.count("CreateCustomer"))
	}

	// Second resolve hits the cache, not the books system.
	again, err := r.Customer(ctx, "Acme Corp")
	if err != nil {
		t.Fatalf("Customer (cached): %v", err)
	}
	if again != got {
		t.Error("cached resolve returned a different entity")
	}
	if fake.count("FindCustomerByName") != 1 {
		t.Errorf("FindCustomerByName called %d times, want 1", fake.count("FindCustomerByName"))
	}
	if fake.count("CreateCustomer") != 1 {
		t.Errorf("CreateCustomer called %d times after cached resolve, want 1", fake.count("CreateCustomer"))
	}
}

func TestResolveCustomerNotFoundWithoutAutoCreate(t *testing.T) {
	fake := newFakeBooks()
	settings := model.DefaultSettings()
	settings.AutoCreate = false
	r := NewEntityResolver(fake, settings)

	_, err := r.Customer(context.Background(), "Ghost LLC")
	var notFound *EntityNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("got %v, want EntityNotFoundError", err)
	}
	if notFound.Kind != "customer" || notFound.Name != "Ghost LLC" {
		t.Errorf("got %+v, want customer/Ghost LLC", notFound)
	}
	if fake.count("CreateCustomer") != 0 {
		t.Errorf("CreateCustomer called %d times, want 0", fake.count("CreateCustomer"))
	}
}

func TestResolveVendorNotFoundWithoutAutoCreate(t *testing.T) {
	fake := newFakeBooks()
	settings := model.DefaultSettings()
	settings.AutoCreate = false
	r := NewEntityResolver(fake, settings)

	_, err := r.Vendor(context.Background(), "Ghost Supply")
	var notFound *EntityNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("got %v, want EntityNotFoundError", err)
	}
	if notFound.Kind != "vendor" {
		t.Errorf("Kind = %q, want vendor", notFound.Kind)
	}
}

func TestResolveSubCustomerAlwaysCreated(t *testing.T) {
	fake := newFakeBooks()
	settings := model.DefaultSettings()
	settings.AutoCreate = false // projects ignore this switch
	r := NewEntityResolver(fake, settings)
	ctx := context.Background()

	parent := &model.Entity{ID: "cust-9", Name: "Acme Corp"}
	got, err := r.SubCustomer(ctx, "Roof Repair", parent)
	if err != nil {
		t.Fatalf("SubCustomer: %v", err)
	}
	if got.ID == "" {
		t.Fatal("sub-customer was not created")
	}

	if len(fake.customerSpecs) != 1 {
		t.Fatalf("got %d create specs, want 1", len(fake.customerSpecs))
	}
	spec := fake.customerSpecs[0]
	if spec.Name != "Roof Repair" || spec.ParentID != "cust-9" || !spec.Job {
		t.Errorf("create spec = %+v, want name Roof Repair under cust-9 with Job set", spec)
	}
}

func TestResolveSubCustomerCacheIsPerParent(t *testing.T) {
	fake := newFakeBooks()
	r := NewEntityResolver(fake, model.DefaultSettings())
	ctx := context.Background()

	a := &model.Entity{ID: "cust-1", Name: "A"}
	b := &model.Entity{ID: "cust-2", Name: "B"}

	if _, err := r.SubCustomer(ctx, "Site Work", a); err != nil {
		t.Fatalf("SubCustomer under A: %v", err)
	}
	if _, err := r.SubCustomer(ctx, "Site Work", a); err != nil {
		t.Fatalf("SubCustomer under A again: %v", err)
	}
	if fake.count("FindCustomerByName") != 1 {
		t.Errorf("FindCustomerByName called %d times, want 1", fake.count("FindCustomerByName"))
	}

	// Same project name under a different parent is a distinct entry.
	if _, err := r.SubCustomer(ctx, "Site Work", b); err != nil {
		t.Fatalf("SubCustomer under B: %v", err)
	}
	if fake.count("FindCustomerByName") != 2 {
		t.Errorf("FindCustomerByName called %d times, want 2", fake.count("FindCustomerByName"))
	}
}

func TestResolveDepartmentMissIsCached(t *testing.T) {
	fake := newFakeBooks()
	r := NewEntityResolver(fake, model.DefaultSettings())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		got, err := r.Department(ctx, "Warehouse")
		if err != nil {
			t.Fatalf("Department: %v", err)
		}
		if got != nil {
			t.Fatalf("got %+v, want nil for an unknown department", got)
		}
	}
	if fake.count("FindDepartmentByName") != 1 {
		t.Errorf("FindDepartmentByName called %d times, want 1", fake.count("FindDepartmentByName"))
	}
}

func TestResolveDepartmentBlankName(t *testing.T) {
	fake := newFakeBooks()
	r := NewEntityResolver(fake, model.DefaultSettings())

	got, err := r.Department(context.Background(), "  ")
	if err != nil || got != nil {
		t.Fatalf("got (%v, %v), want (nil, nil)", got, err)
	}
	if len(fake.calls) != 0 {
		t.Errorf("blank department name reached the books system: %v", fake.calls)
	}
}

func TestResolveClassFound(t *testing.T) {
	fake := newFakeBooks()
	fake.classes["Equipment"] = &model.Entity{ID: "cls-1", Name: "Equipment"}
	r := NewEntityResolver(fake, model.DefaultSettings())

	got, err := r.Class(context.Background(), "Equipment")
	if err != nil {
		t.Fatalf("Class: %v", err)
	}
	if got == nil || got.ID != "cls-1" {
		t.Errorf("got %+v, want cls-1", got)
	}
}

func TestResolveExpenseAccountFetchedOnce(t *testing.T) {
	fake := newFakeBooks()
	r := NewEntityResolver(fake, model.DefaultSettings())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := r.ExpenseAccount(ctx)
		if err != nil {
			t.Fatalf("ExpenseAccount: %v", err)
		}
		if got.ID != "acc-exp" {
			t.Errorf("got %+v, want acc-exp", got)
		}
	}
	if fake.count("DefaultExpenseAccount") != 1 {
		t.Errorf("DefaultExpenseAccount called %d times, want 1", fake.count("DefaultExpenseAccount"))
	}
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"billsync/internal/books"
	"billsync/internal/model"
)

// EntityNotFoundError marks a customer or vendor that is absent from
// the books system while auto-create is off. Rows hitting it need
// review, not a retry.
type EntityNotFoundError struct {
	Kind string
	Name string
}

func (e *EntityNotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found and auto-create is disabled", e.Kind, e.Name)
}

// EntityResolver finds or creates books-side entities by exact name,
// caching every outcome for the life of one batch. Created entities
// enter the cache immediately, so a name resolves against the books
// system at most once per batch.
type EntityResolver struct {
	api      books.API
	settings model.Settings

	customers    map[string]*model.Entity
	subCustomers map[string]*model.Entity
	vendors      map[string]*model.Entity
	departments  map[string]*model.Entity // nil value = known absent
	classes      map[string]*model.Entity // nil value = known absent

	expenseAccount *model.Entity
}

func NewEntityResolver(api books.API, settings model.Settings) *EntityResolver {
	return &EntityResolver{
		api:          api,
		settings:     settings,
		customers:    make(map[string]*model.Entity),
		subCustomers: make(map[string]*model.Entity),
		vendors:      make(map[string]*model.Entity),
		departments:  make(map[string]*model.Entity),
		classes:      make(map[string]*model.Entity),
	}
}

// Customer resolves a top-level customer. Missing customers are
// created only when auto-create is on.
func (r *EntityResolver) Customer(ctx context.Context, name string) (*model.Entity, error) {
	name = strings.TrimSpace(name)
	if entity, ok := r.customers[name]; ok {
		return entity, nil
	}

	entity, err := r.api.FindCustomerByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("find customer: %w", err)
	}
	if entity == nil {
		if !r.settings.AutoCreate {
			return nil, &EntityNotFoundError{Kind: "customer", Name: name}
		}
		entity, err = r.api.CreateCustomer(ctx, books.CustomerSpec{Name: name})
		if err != nil {
			return nil, fmt.Errorf("create customer: %w", err)
		}
	}

	r.customers[name] = entity
	return entity, nil
}

// SubCustomer resolves a project under its parent customer. Projects
// are always created when missing, regardless of the auto-create
// setting.
func (r *EntityResolver) SubCustomer(ctx context.Context, name string, parent *model.Entity) (*model.Entity, error) {
	name = strings.TrimSpace(name)
	cacheKey := parent.ID + "/" + name
	if entity, ok := r.subCustomers[cacheKey]; ok {
		return entity, nil
	}

	entity, err := r.api.FindCustomerByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("find sub-customer: %w", err)
	}
	if entity == nil {
		entity, err = r.api.CreateCustomer(ctx, books.CustomerSpec{
			Name:     name,
			ParentID: parent.ID,
			Job:      true,
		})
		if err != nil {
			return nil, fmt.Errorf("create sub-customer: %w", err)
		}
	}

	r.subCustomers[cacheKey] = entity
	return entity, nil
}

// Vendor mirrors Customer: found by exact name, created only when
// auto-create is on.
func (r *EntityResolver) Vendor(ctx context.Context, name string) (*model.Entity, error) {
	name = strings.TrimSpace(name)
	if entity, ok := r.vendors[name]; ok {
		return entity, nil
	}

	entity, err := r.api.FindVendorByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("find vendor: %w", err)
	}
	if entity == nil {
		if !r.settings.AutoCreate {
			return nil, &EntityNotFoundError{Kind: "vendor", Name: name}
		}
		entity, err = r.api.CreateVendor(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("create vendor: %w", err)
		}
	}

	r.vendors[name] = entity
	return entity, nil
}

// Department resolves a location name best-effort: an unknown
// department returns (nil, nil) and is simply left off the documents.
// Misses are cached too.
func (r *EntityResolver) Department(ctx context.Context, name string) (*model.Entity, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	if entity, ok := r.departments[name]; ok {
		return entity, nil
	}

	entity, err := r.api.FindDepartmentByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("find department: %w", err)
	}
	r.departments[name] = entity
	return entity, nil
}

// Class resolves a class name with the same best-effort policy as
// Department.
func (r *EntityResolver) Class(ctx context.Context, name string) (*model.Entity, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	if entity, ok := r.classes[name]; ok {
		return entity, nil
	}

	entity, err := r.api.FindClassByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("find class: %w", err)
	}
	r.classes[name] = entity
	return entity, nil
}

// ExpenseAccount returns the account every bill line posts to,
// fetching it once per batch.
func (r *EntityResolver) ExpenseAccount(ctx context.Context) (*model.Entity, error) {
	if r.expenseAccount != nil {
		return r.expenseAccount, nil
	}

	entity, err := r.api.DefaultExpenseAccount(ctx)
	if err != nil {
		return nil, fmt.Errorf("get default expense account: %w", err)
	}
	if entity == nil {
		return nil, errors.New("books account has no default expense account")
	}

	r.expenseAccount = entity
	return entity, nil
}

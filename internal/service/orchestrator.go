package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"billsync/internal/books"
	"billsync/internal/ledger"
	"billsync/internal/model"
)

const idempotencyPrefix = "bill_"

// ProgressFunc observes cumulative processed rows after each group.
type ProgressFunc func(processed, total int)

// Orchestrator drives a batch end to end: group, check the ledger,
// validate, resolve, build, submit, attach. Groups run strictly one
// after another; a failed group marks its own rows and the batch moves
// on.
type Orchestrator struct {
	store     ledger.Store
	validator *RowValidator
	grouper   *BillGrouper
}

func NewOrchestrator(store ledger.Store) *Orchestrator {
	return &Orchestrator{
		store:     store,
		validator: NewRowValidator(),
		grouper:   NewBillGrouper(),
	}
}

// Execute replays rows against the books system and returns one result
// per input row, in input order. It never aborts early: every failure
// lands in the results of the rows it belongs to.
func (o *Orchestrator) Execute(ctx context.Context, api books.API, rows []model.Row, settings model.Settings, files map[string][]byte, progress ProgressFunc) []model.ProcessingResult {
	results := make([]model.ProcessingResult, len(rows))
	for i := range rows {
		results[i] = model.ProcessingResult{
			RowIndex: i,
			Status:   model.StatusSkipped,
			Message:  "Empty row",
		}
	}

	groups := o.grouper.Group(rows)

	resolver := NewEntityResolver(api, settings)
	builder := NewDocumentBuilder(resolver, settings)
	linker := NewAttachmentLinker(api)

	total := len(rows)
	processed := total
	for _, group := range groups {
		processed -= len(group.Rows)
	}

	for _, group := range groups {
		o.processGroup(ctx, api, group, settings, files, builder, linker, results)
		processed += len(group.Rows)
		if progress != nil {
			progress(processed, total)
		}
	}

	return results
}

func (o *Orchestrator) processGroup(ctx context.Context, api books.API, group BillGroup, settings model.Settings, files map[string][]byte, builder *DocumentBuilder, linker *AttachmentLinker, results []model.ProcessingResult) {
	key := groupKey(group)

	if key != "" {
		seen, err := o.store.Seen(ctx, key)
		if err != nil {
			o.failGroup(results, group, key, fmt.Errorf("check processed keys: %w", err))
			return
		}
		if seen {
			for _, member := range group.Rows {
				results[member.Index] = model.ProcessingResult{
					RowIndex:       member.Index,
					Status:         model.StatusSkipped,
					Message:        fmt.Sprintf("Bill %s already processed", group.Key),
					IdempotencyKey: key,
				}
			}
			return
		}
	}

	if fieldErrs := o.validateGroup(group, settings); len(fieldErrs) > 0 {
		msg := joinFieldErrors(fieldErrs)
		for _, member := range group.Rows {
			results[member.Index] = model.ProcessingResult{
				RowIndex:       member.Index,
				Status:         model.StatusError,
				Error:          msg,
				IdempotencyKey: key,
			}
		}
		return
	}

	built, err := builder.Build(ctx, group)
	if err != nil {
		o.failGroup(results, group, key, err)
		return
	}

	billID, err := api.CreateBill(ctx, built.Bill)
	if err != nil {
		o.failGroup(results, group, key, err)
		return
	}

	var invoiceID string
	if built.Invoice != nil {
		built.Invoice.FromBillID = billID
		invoiceID, err = api.CreateInvoice(ctx, built.Invoice)
		if err != nil {
			o.failGroup(results, group, key, err)
			return
		}
	}

	attachments := linker.Link(ctx, group, files, billID)
	if invoiceID != "" && settings.AlsoAttachToInvoice {
		linker.LinkInvoice(ctx, group, files, invoiceID)
	}

	if key != "" {
		if err := o.store.Mark(ctx, key); err != nil {
			slog.Warn("failed to record processed key", "key", key, "error", err)
		}
	}

	// Every row of the group reports the same outcome; only the index
	// differs.
	for _, member := range group.Rows {
		results[member.Index] = model.ProcessingResult{
			RowIndex:          member.Index,
			Status:            model.StatusSuccess,
			CustomerID:        built.CustomerID,
			SubCustomerID:     built.SubCustomerID,
			VendorID:          built.VendorID,
			BillID:            billID,
			InvoiceID:         invoiceID,
			AttachmentResults: attachments,
			IdempotencyKey:    key,
		}
	}
	slog.Info("bill group processed", "bill", group.Key, "rows", len(group.Rows), "bill_id", billID, "invoice_id", invoiceID)
}

func (o *Orchestrator) failGroup(results []model.ProcessingResult, group BillGroup, key string, err error) {
	status := model.StatusError
	var notFound *EntityNotFoundError
	if errors.As(err, &notFound) {
		status = model.StatusNeedsReview
	}

	msg := books.ExtractMessage(err)
	for _, member := range group.Rows {
		results[member.Index] = model.ProcessingResult{
			RowIndex:       member.Index,
			Status:         status,
			Error:          msg,
			IdempotencyKey: key,
		}
	}
	slog.Error("bill group failed", "bill", group.Key, "status", string(status), "error", err)
}

func (o *Orchestrator) validateGroup(group BillGroup, settings model.Settings) []model.FieldError {
	var all []model.FieldError
	for _, member := range group.Rows {
		all = append(all, o.validator.Validate(member.Row, member.Index, settings)...)
	}
	return all
}

// DryRun walks the same grouping and validation as Execute, narrating
// what would happen instead of doing it. No books call is made and the
// processed-key ledger is neither read nor written, so a dry run is
// always safe to repeat.
func (o *Orchestrator) DryRun(ctx context.Context, rows []model.Row, settings model.Settings, files map[string][]byte) []model.DryRunResult {
	results := make([]model.DryRunResult, len(rows))
	for i := range rows {
		results[i] = model.DryRunResult{
			RowIndex: i,
			Actions:  []string{"Skip empty row"},
		}
	}

	for _, group := range o.grouper.Group(rows) {
		if fieldErrs := o.validateGroup(group, settings); len(fieldErrs) > 0 {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, fmt.Sprintf("%s: %s", fe.Field, fe.Message))
			}
			for _, member := range group.Rows {
				results[member.Index] = model.DryRunResult{RowIndex: member.Index, Errors: msgs}
			}
			continue
		}

		actions, warnings := narrateGroup(group, settings, files)
		for _, member := range group.Rows {
			results[member.Index] = model.DryRunResult{
				RowIndex: member.Index,
				Actions:  actions,
				Warnings: warnings,
			}
		}
	}

	return results
}

// narrateGroup describes a valid group's execution plan. The wording
// tracks what processGroup actually does.
func narrateGroup(group BillGroup, settings model.Settings, files map[string][]byte) (actions, warnings []string) {
	first := group.First()
	currency := EffectiveCurrency(first, settings)

	if settings.AutoCreate {
		actions = append(actions, fmt.Sprintf("Find or create Vendor: %s", strings.TrimSpace(first.VendorName)))
	} else {
		actions = append(actions, fmt.Sprintf("Find Vendor: %s", strings.TrimSpace(first.VendorName)))
	}
	if location := strings.TrimSpace(first.Location); location != "" {
		actions = append(actions, fmt.Sprintf("Find Department: %s", location))
	}

	// One customer per group: the first row's, like the build pass.
	customer := strings.TrimSpace(first.CustomerName)
	if settings.AutoCreate {
		actions = append(actions, fmt.Sprintf("Find or create Customer: %s", customer))
	} else {
		actions = append(actions, fmt.Sprintf("Find Customer: %s", customer))
	}
	seenProjects := make(map[string]struct{})
	for _, member := range group.Rows {
		project := strings.TrimSpace(member.Row.ProjectName)
		if _, ok := seenProjects[project]; ok {
			continue
		}
		seenProjects[project] = struct{}{}
		actions = append(actions, fmt.Sprintf("Find or create Project: %s under %s", project, customer))
	}

	actions = append(actions, fmt.Sprintf("Create Bill #%s with %d line item(s)", group.Key, len(group.Rows)))
	for i, member := range group.Rows {
		amount, _ := ParseAmount(member.Row.BillLineAmount)
		actions = append(actions, fmt.Sprintf("Line %d: %.2f %s for %s",
			i+1, amount, currency, strings.TrimSpace(member.Row.ProjectName)))
	}

	if settings.FromBillableExpenses {
		actions = append(actions, fmt.Sprintf("Create Invoice from billable expenses for %s",
			strings.TrimSpace(first.ProjectName)))
	}

	if names := CollectFileNames(group); len(names) > 0 {
		actions = append(actions, fmt.Sprintf("Attach %d file(s) to Bill #%s", len(names), group.Key))
		if settings.AlsoAttachToInvoice && settings.FromBillableExpenses {
			actions = append(actions, fmt.Sprintf("Attach %d file(s) to Invoice", len(names)))
		}
		for _, name := range names {
			if _, ok := files[name]; !ok {
				warnings = append(warnings, fmt.Sprintf("%s: %s", attachmentNotFoundMsg, name))
			}
		}
	}

	return actions, warnings
}

// groupKey is the idempotency key for groups with a real bill number.
// Implicit single-row groups have none: they can never reach creation.
func groupKey(group BillGroup) string {
	number := strings.TrimSpace(group.First().BillNumber)
	if number == "" {
		return ""
	}
	return idempotencyPrefix + number
}

func joinFieldErrors(fieldErrs []model.FieldError) string {
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		parts = append(parts, fmt.Sprintf("row %d %s: %s", fe.RowIndex, fe.Field, fe.Message))
	}
	return strings.Join(parts, "; ")
}

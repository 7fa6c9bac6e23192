package service

import (
	"context"
	"log/slog"
	"strings"

	"billsync/internal/books"
	"billsync/internal/model"
)

// attachmentNotFoundMsg is the exact wording attachment results carry
// when a referenced file was never uploaded.
const attachmentNotFoundMsg = "File not found in uploads"

// AttachmentLinker uploads a group's files and links them to its
// created documents. Each file succeeds or fails on its own; no
// attachment outcome escalates to the row.
type AttachmentLinker struct {
	api books.API
}

func NewAttachmentLinker(api books.API) *AttachmentLinker {
	return &AttachmentLinker{api: api}
}

// CollectFileNames gathers the distinct attachment names across a
// group's rows, in first-appearance order. Cells hold semicolon-
// separated filenames.
func CollectFileNames(group BillGroup) []string {
	seen := make(map[string]struct{})
	var names []string
	for _, member := range group.Rows {
		for _, part := range strings.Split(member.Row.Attachments, ";") {
			name := strings.TrimSpace(part)
			if name == "" {
				continue
			}
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	return names
}

// Link uploads every file the group names against the bill.
func (l *AttachmentLinker) Link(ctx context.Context, group BillGroup, files map[string][]byte, billID string) []model.AttachmentResult {
	names := CollectFileNames(group)
	if len(names) == 0 {
		return nil
	}

	results := make([]model.AttachmentResult, 0, len(names))
	for _, name := range names {
		data, ok := files[name]
		if !ok {
			results = append(results, model.AttachmentResult{
				FileName: name,
				Status:   model.StatusError,
				Error:    attachmentNotFoundMsg,
			})
			continue
		}

		id, err := l.api.UploadAttachment(ctx, books.Attachment{
			FileName:   name,
			Data:       data,
			EntityType: "Bill",
			EntityID:   billID,
		})
		if err != nil {
			results = append(results, model.AttachmentResult{
				FileName: name,
				Status:   model.StatusError,
				Error:    books.ExtractMessage(err),
			})
			continue
		}

		results = append(results, model.AttachmentResult{
			FileName:     name,
			Status:       model.StatusSuccess,
			AttachableID: id,
		})
	}
	return results
}

// LinkInvoice re-attaches the group's files against the invoice, best
// effort: failures are logged and never reach row results.
func (l *AttachmentLinker) LinkInvoice(ctx context.Context, group BillGroup, files map[string][]byte, invoiceID string) {
	for _, name := range CollectFileNames(group) {
		data, ok := files[name]
		if !ok {
			continue
		}
		_, err := l.api.UploadAttachment(ctx, books.Attachment{
			FileName:   name,
			Data:       data,
			EntityType: "Invoice",
			EntityID:   invoiceID,
		})
		if err != nil {
			slog.Warn("invoice attachment failed", "file", name, "invoice", invoiceID, "error", err)
		}
	}
}

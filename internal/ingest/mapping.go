package ingest

import (
	"strings"

	"github.com/agnivade/levenshtein"

	"billsync/internal/model"
)

// Mapping ties each canonical row field to a column header in the
// source file.
type Mapping map[string]string

// FieldKeys lists every mappable row field, in canonical order.
var FieldKeys = []string{
	"billNumber",
	"location",
	"projectName",
	"customerName",
	"vendorName",
	"className",
	"billDate",
	"billLineDescription",
	"billLineAmount",
	"currency",
	"invoiceDate",
	"poNumber",
	"pointOfContact",
	"attachments",
}

// fieldSynonyms are header spellings seen in real exports, used only
// for suggestion scoring.
var fieldSynonyms = map[string][]string{
	"billNumber":          {"bill number", "bill no", "bill #", "reference", "ref no"},
	"location":            {"location", "department", "office"},
	"projectName":         {"project", "project name", "job"},
	"customerName":        {"customer", "customer name", "client"},
	"vendorName":          {"vendor", "vendor name", "supplier"},
	"className":           {"class", "class name", "category"},
	"billDate":            {"bill date", "date", "txn date"},
	"billLineDescription": {"description", "line description", "memo", "details"},
	"billLineAmount":      {"amount", "line amount", "total", "cost"},
	"currency":            {"currency", "currency code", "ccy"},
	"invoiceDate":         {"invoice date"},
	"poNumber":            {"po number", "po #", "purchase order"},
	"pointOfContact":      {"point of contact", "contact", "poc"},
	"attachments":         {"attachments", "files", "receipts"},
}

// Headers scoring at or above the cutoff stay unmapped rather than
// guessing wrong.
const suggestionCutoff = 0.4

// SuggestMapping proposes a header for each row field by normalized
// Levenshtein distance against known spellings. Each header is claimed
// at most once.
func SuggestMapping(headers []string) Mapping {
	mapping := make(Mapping)
	claimed := make(map[int]bool)

	for _, key := range FieldKeys {
		best := -1
		bestScore := suggestionCutoff
		for i, header := range headers {
			if claimed[i] || strings.TrimSpace(header) == "" {
				continue
			}
			if score := headerScore(key, header); score < bestScore {
				best, bestScore = i, score
			}
		}
		if best >= 0 {
			claimed[best] = true
			mapping[key] = headers[best]
		}
	}
	return mapping
}

func headerScore(key, header string) float64 {
	normalized := normalizeHeader(header)
	best := 1.0
	candidates := append([]string{key}, fieldSynonyms[key]...)
	for _, candidate := range candidates {
		c := normalizeHeader(candidate)
		if normalized == c {
			return 0
		}
		distance := levenshtein.ComputeDistance(normalized, c)
		longest := len(normalized)
		if len(c) > longest {
			longest = len(c)
		}
		if longest == 0 {
			continue
		}
		if score := float64(distance) / float64(longest); score < best {
			best = score
		}
	}
	return best
}

func normalizeHeader(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer("_", " ", "-", " ", ".", "", "(", "", ")", "").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// RowsFromRecords projects raw records onto rows through a mapping.
// Every record yields a row, blanks included, so result indices line
// up with the source file.
func RowsFromRecords(headers []string, records [][]string, mapping Mapping) []model.Row {
	byHeader := make(map[string]int, len(headers))
	for i, header := range headers {
		key := normalizeHeader(header)
		if _, ok := byHeader[key]; !ok {
			byHeader[key] = i
		}
	}

	columns := make(map[string]int, len(mapping))
	for field, header := range mapping {
		if col, ok := byHeader[normalizeHeader(header)]; ok {
			columns[field] = col
		}
	}

	cell := func(record []string, field string) string {
		col, ok := columns[field]
		if !ok || col >= len(record) {
			return ""
		}
		return record[col]
	}

	rows := make([]model.Row, 0, len(records))
	for _, record := range records {
		rows = append(rows, model.Row{
			BillNumber:          cell(record, "billNumber"),
			Location:            cell(record, "location"),
			ProjectName:         cell(record, "projectName"),
			CustomerName:        cell(record, "customerName"),
			VendorName:          cell(record, "vendorName"),
			ClassName:           cell(record, "className"),
			BillDate:            cell(record, "billDate"),
			BillLineDescription: cell(record, "billLineDescription"),
			BillLineAmount:      cell(record, "billLineAmount"),
			Currency:            cell(record, "currency"),
			InvoiceDate:         cell(record, "invoiceDate"),
			PONumber:            cell(record, "poNumber"),
			PointOfContact:      cell(record, "pointOfContact"),
			Attachments:         cell(record, "attachments"),
		})
	}
	return rows
}

package service

import (
	"fmt"
	"strings"

	"billsync/internal/model"
)

// GroupRow pairs a row with its index in the original input.
type GroupRow struct {
	Row   model.Row
	Index int
}

// BillGroup is every row sharing one trimmed bill number, in input
// order. Bill-level fields are read from the first row; each row
// contributes one line. A group produces at most one bill.
type BillGroup struct {
	Key  string
	Rows []GroupRow
}

func (g BillGroup) First() model.Row { return g.Rows[0].Row }

// BillGrouper splits rows into groups keyed by trimmed bill number,
// ordered by first appearance. Empty rows never join a group. A
// non-empty row without a bill number becomes its own single-row
// group, so its validation errors surface through the normal pipeline
// instead of a side channel.
type BillGrouper struct{}

func NewBillGrouper() *BillGrouper {
	return &BillGrouper{}
}

func (g *BillGrouper) Group(rows []model.Row) []BillGroup {
	positions := make(map[string]int)
	var groups []BillGroup

	for i, row := range rows {
		if row.IsEmpty() {
			continue
		}
		key := strings.TrimSpace(row.BillNumber)
		if key == "" {
			groups = append(groups, BillGroup{
				Key:  fmt.Sprintf("row_%d", i),
				Rows: []GroupRow{{Row: row, Index: i}},
			})
			continue
		}
		pos, ok := positions[key]
		if !ok {
			positions[key] = len(groups)
			groups = append(groups, BillGroup{
				Key:  key,
				Rows: []GroupRow{{Row: row, Index: i}},
			})
			continue
		}
		groups[pos].Rows = append(groups[pos].Rows, GroupRow{Row: row, Index: i})
	}

	return groups
}

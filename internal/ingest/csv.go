package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
)

// ReadCSV reads a whole CSV file, returning the header row and the
// data records. Ragged records are allowed; short rows read as blank
// cells downstream. Records of empty cells survive so row numbering in
// results matches the source file.
func ReadCSV(r io.Reader) ([]string, [][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil, errors.New("file has no header row")
	}
	return records[0], records[1:], nil
}

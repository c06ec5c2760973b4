package core

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
)

// ParseBatch decodes a batch, validates its header and every data row.
//
// Line numbers are physical and 1-based with the header on line 1. Blank
// lines are skipped but still counted. A row that fails validation is
// recorded in Rejected and parsing continues; header problems and undecodable
// input fail the whole batch. An empty accepted set is not an error here.
func ParseBatch(data []byte) (*ParsedBatch, error) {
	text, enc, err := DetectEncoding(data)
	if err != nil {
		return nil, err
	}

	r := csv.NewReader(NewBOMSkippingReader(bytes.NewReader(text)))
	r.FieldsPerRecord = -1 // column counts are checked per row
	r.LazyQuotes = true

	header, err := r.Read()
	if err == io.EOF {
		return nil, ErrEmptyBatch
	}
	if err != nil {
		return nil, fmt.Errorf("%w: header line: %v", ErrInvalidCSV, err)
	}

	layout, err := ValidateHeaders(header)
	if err != nil {
		return nil, err
	}

	batch := &ParsedBatch{
		Encoding:        enc,
		Header:          layout.Headers,
		ExtendedColumns: layout.Extended,
	}
	validator := NewRowValidator(layout)

	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if !errors.As(err, &pe) {
				return nil, fmt.Errorf("%w: %v", ErrInvalidCSV, err)
			}
			batch.TotalRows++
			batch.Rejected = append(batch.Rejected, RejectedRow{
				Line:   pe.StartLine,
				Reason: ReasonMalformedCSV,
				Value:  pe.Err.Error(),
			})
			continue
		}

		line, _ := r.FieldPos(0)
		batch.TotalRows++

		row, rejected := validator.ValidateRow(line, record)
		if rejected != nil {
			batch.Rejected = append(batch.Rejected, *rejected)
			continue
		}
		batch.Rows = append(batch.Rows, row)
	}

	return batch, nil
}

// CLAUDE:SUMMARY Order rows parsed from the orders CSV, with typed access to required columns.
// Package source downloads the orders CSV and parses it into Order rows.
package source

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Column names of the orders CSV.
const (
	ColNumber  = "Order number"
	ColHead    = "Head"
	ColBody    = "Body"
	ColLegs    = "Legs"
	ColAddress = "Address"
)

// RequiredColumns are the columns a row needs before it can be submitted.
var RequiredColumns = []string{ColNumber, ColHead, ColBody, ColLegs, ColAddress}

// Order is one CSV data row. Line is the 1-based data row index.
type Order struct {
	Line   int
	Fields map[string]string
}

// FieldError reports a required column that is absent or blank on a row.
type FieldError struct {
	Line   int
	Number string
	Column string
}

func (e *FieldError) Error() string {
	if e.Number != "" {
		return fmt.Sprintf("source: order %s (row %d): missing %q", e.Number, e.Line, e.Column)
	}
	return fmt.Sprintf("source: row %d: missing %q", e.Line, e.Column)
}

// Number returns the order number, or "" when the row has none.
func (o Order) Number() string {
	return strings.TrimSpace(o.Fields[ColNumber])
}

// Get returns the trimmed value of col, or a *FieldError when it is blank.
func (o Order) Get(col string) (string, error) {
	v := strings.TrimSpace(o.Fields[col])
	if v == "" {
		return "", &FieldError{Line: o.Line, Number: o.Number(), Column: col}
	}
	return v, nil
}

// Require checks that every listed column has a value. The first missing
// column is reported.
func (o Order) Require(cols ...string) error {
	for _, c := range cols {
		if _, err := o.Get(c); err != nil {
			return err
		}
	}
	return nil
}

// ErrNoHeader is returned when the CSV has no header row.
var ErrNoHeader = errors.New("source: csv has no header row")

// Parse reads a header row followed by data rows. Any malformed record
// aborts the parse; no partial result is returned.
func Parse(r io.Reader) ([]Order, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, ErrNoHeader
	}
	if err != nil {
		return nil, fmt.Errorf("source: read header: %w", err)
	}
	for i, h := range header {
		h = strings.TrimSpace(h)
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		header[i] = h
	}

	var orders []Order
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("source: parse row %d: %w", line, err)
		}
		fields := make(map[string]string, len(header))
		for i, h := range header {
			fields[h] = rec[i]
		}
		orders = append(orders, Order{Line: line, Fields: fields})
	}
	return orders, nil
}

// ParseFile parses the CSV file at path.
func ParseFile(path string) ([]Order, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	return Parse(bytes.NewReader(data))
}

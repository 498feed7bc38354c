// Package csvreader implements the numeric and text event CSV readers:
// plumbing Readers that parse a delimited file into bounded increments.
// The core treats these as one conforming implementation of
// reader.Reader among many; configuration loading and registry wiring are
// the only place that knows csvreader exists.
package csvreader

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/vjranagit/trialpipe/pkg/buffer"
	"github.com/vjranagit/trialpipe/pkg/reader"
)

// Numeric reads a CSV file of (t, v0, v1, ...) rows and hands them out in
// bounded batches, one result named ResultName per ReadNext call.
type Numeric struct {
	ResultName string
	BatchSize  int

	rows []buffer.NumericRow
	pos  int
}

// NewNumeric parses all rows eagerly (the source file is finite and
// small relative to a session's trial output) and returns a reader that
// doles them out BatchSize rows at a time.
func NewNumeric(r io.Reader, resultName string, batchSize int) (*Numeric, error) {
	rows, err := parseNumericRows(r)
	if err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		batchSize = 1
	}
	return &Numeric{ResultName: resultName, BatchSize: batchSize, rows: rows}, nil
}

// ReadNext implements reader.Reader.
func (n *Numeric) ReadNext(ctx context.Context) (map[string]reader.BufferPiece, error) {
	if n.pos >= len(n.rows) {
		return nil, reader.ErrEndOfStream
	}
	end := n.pos + n.BatchSize
	if end > len(n.rows) {
		end = len(n.rows)
	}
	batch := n.rows[n.pos:end]
	n.pos = end

	return map[string]reader.BufferPiece{
		n.ResultName: {Variety: reader.VarietyNumeric, Numeric: batch},
	}, nil
}

func parseNumericRows(r io.Reader) ([]buffer.NumericRow, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	var rows []buffer.NumericRow
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csvreader: %w", err)
		}
		if len(rec) < 1 {
			continue
		}
		t, err := strconv.ParseFloat(rec[0], 64)
		if err != nil {
			return nil, fmt.Errorf("csvreader: invalid timestamp %q: %w", rec[0], err)
		}
		v := make([]float64, len(rec)-1)
		for i, f := range rec[1:] {
			parsed, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("csvreader: invalid value %q: %w", f, err)
			}
			v[i] = parsed
		}
		rows = append(rows, buffer.NumericRow{T: t, V: v})
	}
	return rows, nil
}

// Text reads a CSV file of (t, text) rows.
type Text struct {
	ResultName string
	BatchSize  int

	rows []buffer.TextRow
	pos  int
}

// NewText parses all rows eagerly, same rationale as NewNumeric.
func NewText(r io.Reader, resultName string, batchSize int) (*Text, error) {
	rows, err := parseTextRows(r)
	if err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		batchSize = 1
	}
	return &Text{ResultName: resultName, BatchSize: batchSize, rows: rows}, nil
}

// ReadNext implements reader.Reader.
func (t *Text) ReadNext(ctx context.Context) (map[string]reader.BufferPiece, error) {
	if t.pos >= len(t.rows) {
		return nil, reader.ErrEndOfStream
	}
	end := t.pos + t.BatchSize
	if end > len(t.rows) {
		end = len(t.rows)
	}
	batch := t.rows[t.pos:end]
	t.pos = end

	return map[string]reader.BufferPiece{
		t.ResultName: {Variety: reader.VarietyText, Text: batch},
	}, nil
}

func parseTextRows(r io.Reader) ([]buffer.TextRow, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	var rows []buffer.TextRow
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csvreader: %w", err)
		}
		if len(rec) < 2 {
			continue
		}
		t, err := strconv.ParseFloat(rec[0], 64)
		if err != nil {
			return nil, fmt.Errorf("csvreader: invalid timestamp %q: %w", rec[0], err)
		}
		rows = append(rows, buffer.TextRow{T: t, Text: rec[1]})
	}
	return rows, nil
}

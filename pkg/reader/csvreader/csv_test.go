package csvreader

import (
	"context"
	"strings"
	"testing"

	"github.com/vjranagit/trialpipe/pkg/reader"
)

func TestNumericReaderBatchesAndEnds(t *testing.T) {
	data := "1.0,1010\n1.5,42\n2.0,1010\n"
	r, err := NewNumeric(strings.NewReader(data), "delim", 2)
	if err != nil {
		t.Fatalf("NewNumeric failed: %v", err)
	}

	first, err := r.ReadNext(context.Background())
	if err != nil {
		t.Fatalf("ReadNext failed: %v", err)
	}
	if len(first["delim"].Numeric) != 2 {
		t.Fatalf("first batch size = %d, want 2", len(first["delim"].Numeric))
	}

	second, err := r.ReadNext(context.Background())
	if err != nil {
		t.Fatalf("ReadNext failed: %v", err)
	}
	if len(second["delim"].Numeric) != 1 {
		t.Fatalf("second batch size = %d, want 1", len(second["delim"].Numeric))
	}

	if _, err := r.ReadNext(context.Background()); err != reader.ErrEndOfStream {
		t.Fatalf("expected ErrEndOfStream, got %v", err)
	}
}

func TestTextReaderParsesRows(t *testing.T) {
	data := "0.2,red\n1.2,red\n1.3,green\n"
	r, err := NewText(strings.NewReader(data), "foo", 10)
	if err != nil {
		t.Fatalf("NewText failed: %v", err)
	}

	got, err := r.ReadNext(context.Background())
	if err != nil {
		t.Fatalf("ReadNext failed: %v", err)
	}
	rows := got["foo"].Text
	if len(rows) != 3 || rows[1].Text != "red" || rows[2].Text != "green" {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}

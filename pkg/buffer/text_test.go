package buffer

import "testing"

func TestTextEventBufferAppendAndQuery(t *testing.T) {
	b := NewTextEventBuffer("foo")
	rows := []TextRow{
		{T: 0.2, Text: "red"},
		{T: 1.2, Text: "red"},
		{T: 1.3, Text: "green"},
	}
	if err := b.Append(rows); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	got := b.Query(1.0, 1.3)
	if len(got) != 1 || got[0].Text != "red" {
		t.Fatalf("unexpected query result: %+v", got)
	}
}

func TestTextEventBufferDiscardBefore(t *testing.T) {
	b := NewTextEventBuffer("foo")
	rows := []TextRow{{T: 0, Text: "a"}, {T: 1, Text: "b"}}
	if err := b.Append(rows); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	b.DiscardBefore(1)
	if b.Len() != 1 || b.Query(0, 10)[0].Text != "b" {
		t.Errorf("unexpected state after discard: len=%d", b.Len())
	}
}

func TestTextEventBufferPreservesIdenticalRedeliveredRow(t *testing.T) {
	b := NewTextEventBuffer("foo")
	row := TextRow{T: 1.0, Text: "red"}
	if err := b.Append([]TextRow{row}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := b.Append([]TextRow{row}); err != nil {
		t.Fatalf("Append of identical row failed: %v", err)
	}
	if b.Len() != 2 {
		t.Fatalf("Len = %d, want 2: a source-supplied duplicate must be kept, not collapsed", b.Len())
	}
}

func TestShiftTextRows(t *testing.T) {
	rows := []TextRow{{T: 5, Text: "x"}}
	ShiftTextRows(rows, 1)
	if rows[0].T != 4 {
		t.Errorf("T = %v, want 4", rows[0].T)
	}
}

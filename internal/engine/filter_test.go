package engine

import (
	"testing"
	"time"

	"slate-backend/internal/catalog"
)

func fieldOf(name, typ string) *catalog.Field {
	return &catalog.Field{Name: name, Type: typ}
}

func TestParseFilterDefaultsOperatorByType(t *testing.T) {
	// Strings default to contains.
	n := parseFilterValue(fieldOf("name", "string"), "a", "", "bob")
	if n.Op != "contains" || n.Value != "bob" {
		t.Fatalf("expected contains leaf, got %+v", n)
	}

	// Everything else defaults to eq.
	n = parseFilterValue(fieldOf("total", "int32"), "a", "", "42")
	if n.Op != "eq" || n.Value != int64(42) {
		t.Fatalf("expected eq 42, got %+v", n)
	}
}

func TestParseFilterUnknownOperatorMatchesNone(t *testing.T) {
	n := parseFilterValue(fieldOf("name", "string"), "a", "between", "x")
	if !n.MatchNone {
		t.Fatalf("expected match-none, got %+v", n)
	}
}

func TestParseFilterUnparseableValueMatchesNone(t *testing.T) {
	cases := []struct {
		typ string
		raw string
	}{
		{"uuid", "not-a-uuid"},
		{"int32", "abc"},
		{"int8", "4000"}, // out of range for the width
		{"uint16", "-1"},
		{"boolean", "maybe"},
		{"char", "ab"},
		{"timestamp", "tomorrow-ish"},
	}
	for _, c := range cases {
		n := parseFilterValue(fieldOf("f", c.typ), "a", "eq", c.raw)
		if !n.MatchNone {
			t.Fatalf("%s %q: expected match-none, got %+v", c.typ, c.raw, n)
		}
	}
}

func TestParseFilterIntWidths(t *testing.T) {
	n := parseFilterValue(fieldOf("f", "int8"), "a", "eq", "127")
	if n.MatchNone || n.Value != int64(127) {
		t.Fatalf("int8 127 should parse, got %+v", n)
	}
	n = parseFilterValue(fieldOf("f", "uint64"), "a", "eq", "18446744073709551615")
	if n.MatchNone {
		t.Fatalf("uint64 max should parse, got %+v", n)
	}
}

func TestParseFilterListValues(t *testing.T) {
	n := parseFilterValue(fieldOf("f", "int32"), "a", "in", "1, 2, 3")
	if n.Op != "in" || len(n.Values) != 3 {
		t.Fatalf("expected 3 in-values, got %+v", n)
	}

	// One bad element poisons the whole list.
	n = parseFilterValue(fieldOf("f", "int32"), "a", "in", "1,x,3")
	if !n.MatchNone {
		t.Fatalf("expected match-none for bad list element, got %+v", n)
	}
}

func TestParseFilterExactInstant(t *testing.T) {
	n := parseFilterValue(fieldOf("f", "timestamp"), "a", "gte", "2026-03-01T10:30:00Z")
	if n.MatchNone || n.Group {
		t.Fatalf("expected direct leaf, got %+v", n)
	}
	ts, ok := n.Value.(time.Time)
	if !ok || !ts.Equal(time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)) {
		t.Fatalf("unexpected instant: %v", n.Value)
	}
}

func TestParseFilterFlexibleDayEqBecomesRange(t *testing.T) {
	// A caller at UTC-5 asking for equality on a day: the whole local day.
	n := parseFilterValue(fieldOf("f", "timestamp"), "a", "eq", "3/1/2026~-5")
	if !n.Group || n.Or || len(n.Kids) != 2 {
		t.Fatalf("expected AND range group, got %+v", n)
	}
	lo, hi := n.Kids[0], n.Kids[1]
	if lo.Op != "gte" || hi.Op != "lt" {
		t.Fatalf("expected [gte, lt) bounds, got %s %s", lo.Op, hi.Op)
	}
	start := lo.Value.(time.Time)
	end := hi.Value.(time.Time)
	if !start.Equal(time.Date(2026, 3, 1, 5, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected range start: %v", start)
	}
	if end.Sub(start) != 24*time.Hour {
		t.Fatalf("expected 24h range, got %v", end.Sub(start))
	}
}

func TestParseFilterFlexibleDayBoundaries(t *testing.T) {
	// gt means "after the end of that day"; lte means "before the end".
	n := parseFilterValue(fieldOf("f", "timestamp"), "a", "gt", "2026-03-01")
	if n.Op != "gte" {
		t.Fatalf("gt on a day should become gte end-of-day, got %+v", n)
	}
	if ts := n.Value.(time.Time); !ts.Equal(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected boundary: %v", ts)
	}

	n = parseFilterValue(fieldOf("f", "timestamp"), "a", "lte", "2026-03-01")
	if n.Op != "lt" {
		t.Fatalf("lte on a day should become lt end-of-day, got %+v", n)
	}
}

func TestParseFilterDateOnlyIgnoresOffset(t *testing.T) {
	// A date column has no instant to shift; the offset hint is dropped.
	n := parseFilterValue(fieldOf("f", "date"), "a", "eq", "3/1/2026~-5")
	if n.Group || n.MatchNone {
		t.Fatalf("expected plain leaf for date column, got %+v", n)
	}
	if n.Value != "2026-03-01" {
		t.Fatalf("expected normalized date string, got %v", n.Value)
	}
}

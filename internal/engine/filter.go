package engine

import (
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"slate-backend/internal/catalog"
)

// Filter operators accepted from read requests.
var knownOperators = map[string]bool{
	"eq": true, "ne": true, "gt": true, "gte": true, "lt": true, "lte": true,
	"contains": true, "startswith": true, "endswith": true, "in": true, "notin": true,
}

// parseFilterValue converts a raw filter value into a FilterNode, directed by
// the target field's semantic type. Unparseable values degrade to a node that
// deterministically matches zero rows; malformed client input never crashes
// a read.
func parseFilterValue(field *catalog.Field, alias, op, raw string) *FilterNode {
	op = strings.ToLower(op)
	if op == "" {
		if field.Type == "string" || field.Type == "text" {
			op = "contains"
		} else {
			op = "eq"
		}
	}
	if !knownOperators[op] {
		return matchNone()
	}

	if op == "in" || op == "notin" {
		return parseListValue(field, alias, op, raw)
	}

	switch field.Type {
	case "timestamp", "date":
		return parseTemporal(field, alias, op, raw)
	case "string", "text":
		return leaf(alias, field.Name, op, raw)
	default:
		v, ok := parseScalar(field, raw)
		if !ok {
			return matchNone()
		}
		return leaf(alias, field.Name, op, v)
	}
}

func parseListValue(field *catalog.Field, alias, op, raw string) *FilterNode {
	parts := strings.Split(raw, ",")
	values := make([]any, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if field.Type == "string" || field.Type == "text" {
			values = append(values, p)
			continue
		}
		v, ok := parseScalar(field, p)
		if !ok {
			return matchNone()
		}
		values = append(values, v)
	}
	if len(values) == 0 {
		return matchNone()
	}
	return &FilterNode{Alias: alias, Column: field.Name, Op: op, Values: values}
}

// parseScalar parses a single non-temporal value by field type.
func parseScalar(field *catalog.Field, raw string) (any, bool) {
	switch field.Type {
	case "uuid":
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, false
		}
		return id.String(), true
	case "int8":
		return parseInt(raw, 8)
	case "int16":
		return parseInt(raw, 16)
	case "int32", "int":
		return parseInt(raw, 32)
	case "int64", "bigint":
		return parseInt(raw, 64)
	case "uint8":
		return parseUint(raw, 8)
	case "uint16":
		return parseUint(raw, 16)
	case "uint32":
		return parseUint(raw, 32)
	case "uint64":
		return parseUint(raw, 64)
	case "decimal", "float":
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, false
		}
		return f, true
	case "boolean":
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, false
		}
		return b, true
	case "char":
		if utf8.RuneCountInString(raw) != 1 {
			return nil, false
		}
		return raw, true
	default:
		return raw, true
	}
}

func parseInt(raw string, bits int) (any, bool) {
	n, err := strconv.ParseInt(raw, 10, bits)
	if err != nil {
		return nil, false
	}
	return n, true
}

func parseUint(raw string, bits int) (any, bool) {
	n, err := strconv.ParseUint(raw, 10, bits)
	if err != nil {
		return nil, false
	}
	return n, true
}

// Accepted flexible month/day/year layouts, tried in order.
var flexibleDateLayouts = []string{
	"2006-01-02",
	"2006-1-2",
	"1/2/2006",
	"01/02/2006",
	"1-2-2006",
	"Jan 2 2006",
	"January 2 2006",
}

// parseTemporal handles date and timestamp filters. Two input shapes are
// supported: an exact RFC3339 instant, and a flexible month/day/year value
// optionally suffixed "~±N" with the caller's local UTC offset in hours. The
// offset applies only when the field carries a time component; a date-only
// column has no instant to shift.
func parseTemporal(field *catalog.Field, alias, op, raw string) *FilterNode {
	var offset time.Duration
	if idx := strings.LastIndex(raw, "~"); idx >= 0 {
		hours, err := strconv.ParseFloat(raw[idx+1:], 64)
		if err != nil {
			return matchNone()
		}
		offset = time.Duration(hours * float64(time.Hour))
		raw = raw[:idx]
	}
	raw = strings.TrimSpace(raw)

	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		// Exact instant with timezone: compare directly.
		return leaf(alias, field.Name, op, t.UTC())
	}

	var day time.Time
	parsed := false
	for _, layout := range flexibleDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			day = t
			parsed = true
			break
		}
	}
	if !parsed {
		return matchNone()
	}

	if !field.HasTimeComponent() {
		return leaf(alias, field.Name, op, day.Format("2006-01-02"))
	}

	// The caller's local day [00:00, 24:00) shifted to UTC.
	start := day.Add(-offset)
	end := start.Add(24 * time.Hour)

	switch op {
	case "eq":
		return group(false,
			leaf(alias, field.Name, "gte", start),
			leaf(alias, field.Name, "lt", end))
	case "ne":
		return group(true,
			leaf(alias, field.Name, "lt", start),
			leaf(alias, field.Name, "gte", end))
	case "gt":
		return leaf(alias, field.Name, "gte", end)
	case "gte":
		return leaf(alias, field.Name, "gte", start)
	case "lt":
		return leaf(alias, field.Name, "lt", start)
	case "lte":
		return leaf(alias, field.Name, "lt", end)
	default:
		return matchNone()
	}
}

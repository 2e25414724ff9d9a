package engine

import (
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"slate-backend/internal/catalog"
)

// BuildCreateEntity validates and normalizes a create payload against the
// table descriptors. Unknown fields are rejected, auto fields are stamped,
// defaults fill gaps, and missing required fields fail validation. Returns the
// entity ready to persist, or error details.
func BuildCreateEntity(t *catalog.Table, input map[string]any, now time.Time) (map[string]any, []ErrorDetail) {
	var errs []ErrorDetail
	entity := make(map[string]any, len(t.Fields))

	for name := range input {
		if !t.HasField(name) {
			errs = append(errs, ErrorDetail{
				Field: name, Rule: "unknown",
				Message: fmt.Sprintf("Unknown field %s on table %s", name, t.Name),
			})
		}
	}

	for _, f := range t.Fields {
		if f.MultiSelect {
			continue
		}

		if f.Name == t.PrimaryKey.Field && t.PrimaryKey.Generated {
			// A caller-supplied key wins over generation; upserts that
			// classified as creates arrive with the key they asked for.
			if v, ok := input[f.Name]; ok && v != nil {
				coerced, detail := coerceValue(&f, v)
				if detail != nil {
					errs = append(errs, *detail)
					continue
				}
				entity[f.Name] = coerced
			} else if t.PrimaryKey.Type == "uuid" {
				entity[f.Name] = uuid.NewString()
			}
			continue
		}

		if f.IsAuto() {
			entity[f.Name] = autoValue(f, now)
			continue
		}

		v, present := input[f.Name]
		if !present || v == nil {
			if f.Default != nil {
				entity[f.Name] = f.Default
			} else if f.Required {
				errs = append(errs, ErrorDetail{
					Field: f.Name, Rule: "required",
					Message: fmt.Sprintf("Field %s is required", f.Name),
				})
			} else if present {
				entity[f.Name] = nil
			}
			continue
		}

		coerced, detail := coerceValue(&f, v)
		if detail != nil {
			errs = append(errs, *detail)
			continue
		}
		entity[f.Name] = coerced
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return entity, nil
}

// PatchFromBefore merges an update payload onto the loaded row. Only fields
// present in the input change; auto-update fields are restamped; auto-create
// fields and the primary key are immutable. Returns the full patched entity
// plus the set of columns that actually need writing.
func PatchFromBefore(t *catalog.Table, before, input map[string]any, now time.Time) (map[string]any, map[string]any, []ErrorDetail) {
	var errs []ErrorDetail
	entity := make(map[string]any, len(before))
	for k, v := range before {
		entity[k] = v
	}
	changed := make(map[string]any)

	for name := range input {
		f := t.GetField(name)
		if f == nil {
			errs = append(errs, ErrorDetail{
				Field: name, Rule: "unknown",
				Message: fmt.Sprintf("Unknown field %s on table %s", name, t.Name),
			})
			continue
		}
		if f.MultiSelect || f.IsAuto() || name == t.PrimaryKey.Field {
			continue
		}

		v := input[name]
		if v == nil {
			if f.Required {
				errs = append(errs, ErrorDetail{
					Field: name, Rule: "required",
					Message: fmt.Sprintf("Field %s cannot be cleared", name),
				})
				continue
			}
			entity[name] = nil
			changed[name] = nil
			continue
		}

		coerced, detail := coerceValue(f, v)
		if detail != nil {
			errs = append(errs, *detail)
			continue
		}
		entity[name] = coerced
		changed[name] = coerced
	}

	if len(errs) > 0 {
		return nil, nil, errs
	}

	if len(changed) > 0 {
		for _, f := range t.Fields {
			if f.Auto == "update" {
				v := autoValue(f, now)
				entity[f.Name] = v
				changed[f.Name] = v
			}
		}
	}
	return entity, changed, nil
}

func autoValue(f catalog.Field, now time.Time) any {
	switch f.Type {
	case "timestamp", "date":
		return now.UTC()
	case "uuid":
		return uuid.NewString()
	default:
		return now.UTC()
	}
}

// coerceValue normalizes a JSON-decoded value to the field's storage shape and
// enforces per-field constraints. JSON numbers arrive as float64; integer
// fields get them truncated back only when lossless.
func coerceValue(f *catalog.Field, v any) (any, *ErrorDetail) {
	switch f.Type {
	case "string", "text", "char":
		s, ok := v.(string)
		if !ok {
			s = fmt.Sprintf("%v", v)
		}
		if f.CharLimit > 0 && utf8.RuneCountInString(s) > f.CharLimit {
			return nil, &ErrorDetail{
				Field: f.Name, Rule: "char_limit",
				Message: fmt.Sprintf("Field %s exceeds %d characters", f.Name, f.CharLimit),
			}
		}
		if f.Type == "char" && utf8.RuneCountInString(s) != 1 {
			return nil, &ErrorDetail{
				Field: f.Name, Rule: "type",
				Message: fmt.Sprintf("Field %s must be a single character", f.Name),
			}
		}
		return s, nil

	case "uuid":
		s, ok := v.(string)
		if !ok {
			return nil, typeDetail(f, "a UUID string")
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, typeDetail(f, "a UUID string")
		}
		return id.String(), nil

	case "boolean":
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			parsed, err := strconv.ParseBool(b)
			if err != nil {
				return nil, typeDetail(f, "a boolean")
			}
			return parsed, nil
		default:
			return nil, typeDetail(f, "a boolean")
		}

	case "timestamp":
		switch ts := v.(type) {
		case time.Time:
			return ts.UTC(), nil
		case string:
			parsed, err := time.Parse(time.RFC3339, ts)
			if err != nil {
				return nil, typeDetail(f, "an RFC3339 timestamp")
			}
			return parsed.UTC(), nil
		default:
			return nil, typeDetail(f, "an RFC3339 timestamp")
		}

	case "date":
		switch ds := v.(type) {
		case time.Time:
			return ds.Format("2006-01-02"), nil
		case string:
			if _, err := time.Parse("2006-01-02", ds); err != nil {
				return nil, typeDetail(f, "a YYYY-MM-DD date")
			}
			return ds, nil
		default:
			return nil, typeDetail(f, "a YYYY-MM-DD date")
		}

	case "decimal", "float":
		n, ok := toNumber(v)
		if !ok {
			return nil, typeDetail(f, "a number")
		}
		return n, nil

	case "int8", "int16", "int32", "int64", "int", "bigint",
		"uint8", "uint16", "uint32", "uint64":
		n, ok := toNumber(v)
		if !ok {
			return nil, typeDetail(f, "an integer")
		}
		i := int64(n)
		if float64(i) != n {
			return nil, typeDetail(f, "an integer")
		}
		if !intFits(f.Type, i) {
			return nil, &ErrorDetail{
				Field: f.Name, Rule: "range",
				Message: fmt.Sprintf("Field %s is out of range for %s", f.Name, f.Type),
			}
		}
		return i, nil

	default:
		return v, nil
	}
}

func typeDetail(f *catalog.Field, want string) *ErrorDetail {
	return &ErrorDetail{
		Field: f.Name, Rule: "type",
		Message: fmt.Sprintf("Field %s must be %s", f.Name, want),
	}
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func intFits(typ string, v int64) bool {
	switch typ {
	case "int8":
		return v >= -128 && v <= 127
	case "int16":
		return v >= -32768 && v <= 32767
	case "int32", "int":
		return v >= -2147483648 && v <= 2147483647
	case "uint8":
		return v >= 0 && v <= 255
	case "uint16":
		return v >= 0 && v <= 65535
	case "uint32":
		return v >= 0 && v <= 4294967295
	case "uint64":
		return v >= 0
	default:
		return true
	}
}

package catalog

import "fmt"

type Field struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Required  bool   `json:"required,omitempty"`
	Nullable  bool   `json:"nullable,omitempty"`
	Unique    bool   `json:"unique,omitempty"`
	Default   any    `json:"default,omitempty"`
	CharLimit int    `json:"char_limit,omitempty"`
	Auto      string `json:"auto,omitempty"` // "create" or "update"

	// NonQueryable fields cannot appear in read requests (filters, orders,
	// projections); they are still readable by internal code.
	NonQueryable bool `json:"non_queryable,omitempty"`

	// MultiSelect marks a virtual projection materialized through a separate
	// join table. It is never a plain column and is stripped from field lists.
	MultiSelect bool `json:"multi_select,omitempty"`

	// References names the table this field points at. CascadeDelete decides
	// whether dependents holding this reference are deleted with the target;
	// a nullable non-cascading reference is nulled out instead.
	References    string `json:"references,omitempty"`
	CascadeDelete bool   `json:"cascade_delete,omitempty"`
}

// IsAuto returns true if the field is auto-managed by the engine.
func (f Field) IsAuto() bool {
	return f.Auto == "create" || f.Auto == "update"
}

// IsReference returns true if the field is a foreign key.
func (f Field) IsReference() bool {
	return f.References != ""
}

// HasTimeComponent reports whether the field's semantic type carries a time
// of day. Date-only fields ignore caller UTC-offset hints in filters.
func (f Field) HasTimeComponent() bool {
	return f.Type == "timestamp"
}

// ColumnType maps a field type to a portable DDL type. Dialects may override
// specifics; this covers what both backends accept.
func (f Field) ColumnType() string {
	switch f.Type {
	case "string", "text", "char":
		return "TEXT"
	case "int", "int8", "int16", "int32", "uint8", "uint16":
		return "INTEGER"
	case "bigint", "int64", "uint32", "uint64":
		return "BIGINT"
	case "decimal", "float":
		return "NUMERIC"
	case "boolean":
		return "BOOLEAN"
	case "uuid":
		return "UUID"
	case "timestamp":
		return "TIMESTAMPTZ"
	case "date":
		return "DATE"
	case "json":
		return "JSONB"
	default:
		return "TEXT"
	}
}

func (f Field) String() string {
	return fmt.Sprintf("%s(%s)", f.Name, f.Type)
}

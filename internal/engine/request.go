package engine

// Op identifies the data operation a pipeline context performs.
type Op string

const (
	OpCreate Op = "CREATE"
	OpRead   Op = "READ"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
	OpUpsert Op = "UPSERT"
)

// ReadRequest is the declarative read contract. Field and join names refer to
// catalog metadata; nothing here is executable.
type ReadRequest struct {
	Table    string         `json:"table"`
	Fields   []string       `json:"fields,omitempty"` // "*" only usable alone
	Filters  []Filter       `json:"filters,omitempty"`
	Joins    []Join         `json:"joins,omitempty"`
	Orders   []Order        `json:"orders,omitempty"`
	Distinct bool           `json:"distinct,omitempty"`
	Except   []*ReadRequest `json:"except,omitempty"`
	Page     int            `json:"page,omitempty"`
	PerPage  int            `json:"per_page,omitempty"`

	// Parameters forwarded to read business-logic hooks.
	Parameters map[string]any `json:"parameters,omitempty"`
}

// Filter is either a leaf (Field/Operator/Value) or a group (Logical +
// Filters). Leaves inside a group combine with the group's logical operator
// exactly as declared; nested groups recurse.
type Filter struct {
	Field    string   `json:"field,omitempty"`
	Operator string   `json:"operator,omitempty"`
	Value    string   `json:"value,omitempty"`
	Logical  string   `json:"logical,omitempty"` // "&&" or "||"
	Filters  []Filter `json:"filters,omitempty"`
}

// IsGroup reports whether the filter is a logical group.
func (f Filter) IsGroup() bool {
	return len(f.Filters) > 0
}

// Join pulls fields from a related table. Joins are field lookups, not new
// access points: they carry no security filtering of their own.
type Join struct {
	Table     string   `json:"table"`
	Alias     string   `json:"alias"`
	FromField string   `json:"from_field"`          // field on the parent table
	ToField   string   `json:"to_field,omitempty"`  // defaults to the joined table's primary key
	Type      string   `json:"type,omitempty"`      // "inner" or "left", default left
	Fields    []string `json:"fields,omitempty"`
	Filters   []Filter `json:"filters,omitempty"`
	Joins     []Join   `json:"joins,omitempty"`
}

// Order sorts results. Field may be a dotted "alias.field" path to sort on a
// joined column.
type Order struct {
	Field      string `json:"field"`
	Descending bool   `json:"descending,omitempty"`
}

// WriteRequest carries a create, update, upsert or delete payload.
type WriteRequest struct {
	Table  string         `json:"table"`
	ID     string         `json:"id,omitempty"` // alternative to the pk field inside Fields
	Fields map[string]any `json:"fields"`

	// Parameters forwarded to business-logic hooks.
	Parameters map[string]any `json:"parameters,omitempty"`
}

// BulkRequest groups many mixed operations into one transaction.
type BulkRequest struct {
	Items []BulkItem `json:"items"`
}

type BulkItem struct {
	Op     Op             `json:"op"`
	Table  string         `json:"table"`
	Fields map[string]any `json:"fields"`
}

package catalog

type PrimaryKey struct {
	Field     string `json:"field"`
	Type      string `json:"type"` // uuid, int, bigint, string
	Generated bool   `json:"generated"`
}

// Table describes one entity: its columns, primary key, ownership fields and
// service-logic flags. Immutable after Catalog.Load.
type Table struct {
	Name       string     `json:"name"`
	TableName  string     `json:"table"`
	PrimaryKey PrimaryKey `json:"primary_key"`
	Fields     []Field    `json:"fields"`

	// Ownership fields drive row-level security. Any of them may be empty.
	OwningUser   string   `json:"owning_user,omitempty"`
	OwningTeam   string   `json:"owning_team,omitempty"`
	CustomOwners []string `json:"custom_owners,omitempty"`

	// Set during engine wiring from the hook registry.
	HasServiceLogic bool `json:"-"`
	HasDeleteLogic  bool `json:"-"`
}

// GetField returns a pointer to the field with the given name, or nil.
func (t *Table) GetField(name string) *Field {
	for i := range t.Fields {
		if t.Fields[i].Name == name {
			return &t.Fields[i]
		}
	}
	return nil
}

// HasField returns true if the table has a field with the given name.
func (t *Table) HasField(name string) bool {
	return t.GetField(name) != nil
}

// QueryableFields returns the fields a read request may reference. Wildcard
// expansion uses this list. Multi-select projections are excluded; they are
// materialized through join tables, not plain columns.
func (t *Table) QueryableFields() []Field {
	var fields []Field
	for _, f := range t.Fields {
		if f.NonQueryable || f.MultiSelect {
			continue
		}
		fields = append(fields, f)
	}
	return fields
}

// OwnershipFields returns every ownership field name present on the table.
func (t *Table) OwnershipFields() []string {
	var names []string
	if t.OwningUser != "" {
		names = append(names, t.OwningUser)
	}
	if t.OwningTeam != "" {
		names = append(names, t.OwningTeam)
	}
	names = append(names, t.CustomOwners...)
	return names
}

// HasOwnership reports whether the table carries any ownership field.
func (t *Table) HasOwnership() bool {
	return t.OwningUser != "" || t.OwningTeam != ""
}

// References returns the foreign-key fields pointing at the given table.
func (t *Table) References(target string) []Field {
	var refs []Field
	for _, f := range t.Fields {
		if f.References == target {
			refs = append(refs, f)
		}
	}
	return refs
}

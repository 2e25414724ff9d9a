package catalog

import (
	"fmt"
	"sync"
)

// Catalog maps table names to their metadata. It must be fully populated via
// Load before the engine is used; lookups of unknown names by internal code
// signal a configuration bug, so Get returns an error rather than nil.
type Catalog struct {
	mu     sync.RWMutex
	tables map[string]*Table
}

func New() *Catalog {
	return &Catalog{tables: make(map[string]*Table)}
}

// Get returns the table with the given name.
func (c *Catalog) Get(name string) (*Table, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tables[name]
	if !ok {
		return nil, fmt.Errorf("catalog: unknown table %q", name)
	}
	return t, nil
}

// Lookup returns the table with the given name, or nil. For paths where the
// name came from untrusted input and absence is an expected outcome.
func (c *Catalog) Lookup(name string) *Table {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tables[name]
}

// All returns all registered tables.
func (c *Catalog) All() []*Table {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tables := make([]*Table, 0, len(c.tables))
	for _, t := range c.tables {
		tables = append(tables, t)
	}
	return tables
}

// Load replaces all tables in the catalog. Called once during startup.
func (c *Catalog) Load(tables []*Table) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := make(map[string]*Table, len(tables))
	for _, t := range tables {
		if t.Name == "" || t.TableName == "" {
			return fmt.Errorf("catalog: table with empty name")
		}
		if t.PrimaryKey.Field == "" {
			return fmt.Errorf("catalog: table %s has no primary key", t.Name)
		}
		if _, dup := next[t.Name]; dup {
			return fmt.Errorf("catalog: duplicate table %s", t.Name)
		}
		for _, owner := range t.OwnershipFields() {
			if !t.HasField(owner) {
				return fmt.Errorf("catalog: table %s ownership field %s does not exist", t.Name, owner)
			}
		}
		next[t.Name] = t
	}

	// Validate references after all names are known.
	for _, t := range next {
		for _, f := range t.Fields {
			if !f.IsReference() {
				continue
			}
			if _, ok := next[f.References]; !ok {
				return fmt.Errorf("catalog: table %s field %s references unknown table %s",
					t.Name, f.Name, f.References)
			}
		}
	}

	c.tables = next
	return nil
}

package store

import (
	"context"
	"fmt"
	"strings"

	"slate-backend/internal/catalog"
)

// Migrator creates physical tables for catalog entries. It only adds what is
// missing; it never drops or alters existing columns.
type Migrator struct {
	store *Store
}

func NewMigrator(s *Store) *Migrator {
	return &Migrator{store: s}
}

// EnsureTables creates every catalog table that does not exist yet.
func (m *Migrator) EnsureTables(ctx context.Context, cat *catalog.Catalog) error {
	for _, t := range cat.All() {
		ddl := m.CreateTableSQL(t)
		if _, err := m.store.DB.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table %s: %w", t.TableName, err)
		}
	}
	return nil
}

// CreateTableSQL builds the CREATE TABLE statement for one catalog table.
func (m *Migrator) CreateTableSQL(t *catalog.Table) string {
	d := m.store.Dialect
	var cols []string
	for _, f := range t.Fields {
		if f.MultiSelect {
			continue
		}
		col := fmt.Sprintf("%s %s", f.Name, d.ColumnType(f.ColumnType()))
		if f.Name == t.PrimaryKey.Field {
			col += " PRIMARY KEY"
			if t.PrimaryKey.Generated && t.PrimaryKey.Type == "uuid" {
				if def := d.UUIDDefault(); def != "" {
					col += " " + def
				}
			}
		} else if !f.Nullable && f.Required {
			col += " NOT NULL"
		}
		if f.Auto == "create" && (f.Type == "timestamp" || f.Type == "date") {
			col += " DEFAULT " + d.NowExpr()
		}
		if f.Unique {
			col += " UNIQUE"
		}
		cols = append(cols, col)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n    %s\n)",
		t.TableName, strings.Join(cols, ",\n    "))
}

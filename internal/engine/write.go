package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"slate-backend/internal/catalog"
	"slate-backend/internal/store"
)

// BuildInsertSQL builds a single-row INSERT returning the stored row.
// Columns follow catalog field order so composition stays deterministic.
func BuildInsertSQL(d store.Dialect, t *catalog.Table, fields map[string]any) (string, []any) {
	pb := d.NewParamBuilder()
	var cols, placeholders []string
	for _, f := range t.Fields {
		if f.MultiSelect {
			continue
		}
		v, ok := fields[f.Name]
		if !ok {
			continue
		}
		cols = append(cols, f.Name)
		placeholders = append(placeholders, pb.Add(v))
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING *",
		t.TableName, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	return sql, pb.Params()
}

// BuildInsertManySQL builds one multi-row INSERT for rows sharing a column
// set. Rows missing a column get NULL. Used by the bulk path to cut
// persistence round-trips for hook-free creates.
func BuildInsertManySQL(d store.Dialect, t *catalog.Table, rows []map[string]any) (string, []any) {
	colSet := make(map[string]bool)
	for _, row := range rows {
		for k := range row {
			colSet[k] = true
		}
	}
	var cols []string
	for _, f := range t.Fields {
		if !f.MultiSelect && colSet[f.Name] {
			cols = append(cols, f.Name)
		}
	}
	sort.Strings(cols)

	pb := d.NewParamBuilder()
	tuples := make([]string, len(rows))
	for i, row := range rows {
		placeholders := make([]string, len(cols))
		for j, col := range cols {
			placeholders[j] = pb.Add(row[col])
		}
		tuples[i] = "(" + strings.Join(placeholders, ", ") + ")"
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		t.TableName, strings.Join(cols, ", "), strings.Join(tuples, ", "))
	return sql, pb.Params()
}

// BuildUpdateSQL builds an UPDATE for the given fields, or "" when nothing
// besides the primary key changed.
func BuildUpdateSQL(d store.Dialect, t *catalog.Table, id any, fields map[string]any) (string, []any) {
	pb := d.NewParamBuilder()
	var sets []string
	for _, f := range t.Fields {
		if f.MultiSelect || f.Name == t.PrimaryKey.Field {
			continue
		}
		v, ok := fields[f.Name]
		if !ok {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = %s", f.Name, pb.Add(v)))
	}
	if len(sets) == 0 {
		return "", nil
	}
	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		t.TableName, strings.Join(sets, ", "), t.PrimaryKey.Field, pb.Add(id))
	return sql, pb.Params()
}

// BuildDeleteManySQL deletes a batch of rows by primary key.
func BuildDeleteManySQL(d store.Dialect, t *catalog.Table, ids []any) (string, []any) {
	pb := d.NewParamBuilder()
	inExpr := d.InExpr(t.PrimaryKey.Field, pb, ids)
	return fmt.Sprintf("DELETE FROM %s WHERE %s", t.TableName, inExpr), pb.Params()
}

// BuildNullOutSQL nulls a foreign-key column for a batch of rows identified
// by their own primary keys.
func BuildNullOutSQL(d store.Dialect, t *catalog.Table, column string, ids []any) (string, []any) {
	pb := d.NewParamBuilder()
	inExpr := d.InExpr(t.PrimaryKey.Field, pb, ids)
	return fmt.Sprintf("UPDATE %s SET %s = NULL WHERE %s", t.TableName, column, inExpr), pb.Params()
}

// FetchRecord loads one full row by primary key.
func FetchRecord(ctx context.Context, q store.Querier, d store.Dialect, t *catalog.Table, id any) (map[string]any, error) {
	pb := d.NewParamBuilder()
	sql := fmt.Sprintf("SELECT * FROM %s WHERE %s = %s",
		t.TableName, t.PrimaryKey.Field, pb.Add(id))
	return store.QueryRow(ctx, q, sql, pb.Params()...)
}

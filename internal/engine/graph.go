package engine

import (
	"context"
	"fmt"

	"slate-backend/internal/catalog"
	"slate-backend/internal/store"
)

// refAction says what deleting a referenced row does to the dependent.
type refAction int

const (
	// actionNull clears the reference column; the dependent row survives.
	actionNull refAction = iota
	// actionDelete removes the dependent row and recurses into its own
	// dependents.
	actionDelete
	// actionRestrict blocks the whole delete while a dependent exists.
	actionRestrict
)

// depEdge is one static edge in the dependency graph: rows of Table whose
// Field column points at the target.
type depEdge struct {
	table  *catalog.Table
	field  string
	action refAction
}

// dependentEdges finds every reference onto the target table across the
// catalog. The action per edge is fixed by field metadata.
func dependentEdges(cat *catalog.Catalog, target string) []depEdge {
	var edges []depEdge
	for _, t := range cat.All() {
		for _, f := range t.References(target) {
			action := actionRestrict
			switch {
			case f.CascadeDelete:
				action = actionDelete
			case f.Nullable:
				action = actionNull
			}
			edges = append(edges, depEdge{table: t, field: f.Name, action: action})
		}
	}
	return edges
}

// depNode is one concrete row the cascade will touch.
type depNode struct {
	table     *catalog.Table
	id        any
	depth     int
	action    refAction
	nullField string
}

// cascadeSet accumulates discovered dependents. A row reached via two paths
// keeps the greatest depth so it is processed after everything that depends
// on it, and a delete action always wins over a null-out.
type cascadeSet struct {
	nodes map[string]*depNode
}

func newCascadeSet() *cascadeSet {
	return &cascadeSet{nodes: make(map[string]*depNode)}
}

func (s *cascadeSet) add(n *depNode) (isNew bool) {
	key := n.table.Name + "/" + fmt.Sprintf("%v", n.id)
	existing, ok := s.nodes[key]
	if !ok {
		s.nodes[key] = n
		return true
	}
	if n.depth > existing.depth {
		existing.depth = n.depth
	}
	if n.action == actionDelete && existing.action != actionDelete {
		existing.action = actionDelete
		existing.nullField = ""
		return true
	}
	return false
}

// levels groups the set by depth, deepest first. Leaf rows go before the rows
// they point at so no statement ever orphans a live reference.
func (s *cascadeSet) levels() [][]*depNode {
	maxDepth := 0
	for _, n := range s.nodes {
		if n.depth > maxDepth {
			maxDepth = n.depth
		}
	}
	buckets := make([][]*depNode, maxDepth+1)
	for _, n := range s.nodes {
		buckets[n.depth] = append(buckets[n.depth], n)
	}
	out := make([][]*depNode, 0, len(buckets))
	for i := len(buckets) - 1; i >= 0; i-- {
		if len(buckets[i]) > 0 {
			out = append(out, buckets[i])
		}
	}
	return out
}

// collectDependents walks the dependency graph breadth-first from the root
// rows, querying only primary keys per frontier. A restrict edge with live
// rows aborts the walk. Depth is capped so a self-referencing or cyclic
// schema cannot loop forever.
func (e *Engine) collectDependents(ctx context.Context, q store.Querier, root *catalog.Table, rootIDs []any, maxDepth int) (*cascadeSet, *AppError) {
	set := newCascadeSet()

	type frontier struct {
		table *catalog.Table
		ids   []any
		depth int
	}
	queue := []frontier{{table: root, ids: rootIDs, depth: 0}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		if cur.depth >= maxDepth {
			return nil, BadRequestError(
				"Delete cascade exceeds the maximum depth of %d; check for reference cycles on %s", maxDepth, cur.table.Name)
		}

		for _, edge := range dependentEdges(e.catalog, cur.table.Name) {
			ids, err := e.queryDependentIDs(ctx, q, edge, cur.ids)
			if err != nil {
				return nil, NewAppError("INTERNAL", 500, err.Error())
			}
			if len(ids) == 0 {
				continue
			}

			if edge.action == actionRestrict {
				return nil, BadRequestError(
					"Cannot delete %s: %s records still reference it", cur.table.Name, edge.table.Name)
			}

			var recurse []any
			for _, id := range ids {
				node := &depNode{
					table:  edge.table,
					id:     id,
					depth:  cur.depth + 1,
					action: edge.action,
				}
				if edge.action == actionNull {
					node.nullField = edge.field
				}
				if set.add(node) && edge.action == actionDelete {
					recurse = append(recurse, id)
				}
			}
			if len(recurse) > 0 {
				queue = append(queue, frontier{table: edge.table, ids: recurse, depth: cur.depth + 1})
			}
		}
	}
	return set, nil
}

func (e *Engine) queryDependentIDs(ctx context.Context, q store.Querier, edge depEdge, ids []any) ([]any, error) {
	pb := e.store.Dialect.NewParamBuilder()
	inExpr := e.store.Dialect.InExpr(edge.field, pb, ids)
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE %s",
		edge.table.PrimaryKey.Field, edge.table.TableName, inExpr)
	rows, err := store.QueryRows(ctx, q, sql, pb.Params()...)
	if err != nil {
		return nil, fmt.Errorf("collect dependents of %s: %w", edge.table.Name, err)
	}
	out := make([]any, 0, len(rows))
	for _, row := range rows {
		out = append(out, row[edge.table.PrimaryKey.Field])
	}
	return out, nil
}

package engine

import "slate-backend/internal/catalog"

// Plan is the intermediate, store-agnostic representation of a composed read.
// It is purely data; the Store lowers it to SQL for materialization.
type Plan struct {
	Table *catalog.Table
	Alias string

	// Selected columns, output-named "{alias}_{field}".
	Fields []PlanField

	Joins []PlanJoin

	// User-declared filters. Nil when the request had none.
	Filter *FilterNode

	// Injected row-level security predicate, ANDed with Filter. Nil only for
	// System-level callers.
	Security *FilterNode

	Orders   []PlanOrder
	Distinct bool

	// Anti-join sub-plans: rows whose primary key appears in a sub-plan's
	// result are excluded.
	Except []*Plan

	Page    int
	PerPage int
}

type PlanField struct {
	Alias  string // table alias the column lives on
	Column string
	Out    string // "{alias}_{field}"
}

type PlanJoin struct {
	Type       string // "INNER" or "LEFT"
	TableName  string
	Alias      string
	FromAlias  string
	FromColumn string
	ToColumn   string
}

// FilterNode is a node of the filter tree: a leaf compares one column against
// a parsed value; a group combines children with AND/OR.
type FilterNode struct {
	// Group node.
	Group bool
	Or    bool
	Kids  []*FilterNode

	// Leaf node.
	Alias  string
	Column string
	Op     string // eq, ne, gt, gte, lt, lte, contains, startswith, endswith, in, notin
	Value  any
	Values []any // for in/notin

	// MatchNone is a leaf that deterministically matches zero rows. Produced
	// for unparseable filter values and deny-all security predicates, so
	// malformed client input never crashes a read.
	MatchNone bool
}

type PlanOrder struct {
	Alias  string
	Column string
	Desc   bool
}

func leaf(alias, column, op string, value any) *FilterNode {
	return &FilterNode{Alias: alias, Column: column, Op: op, Value: value}
}

func matchNone() *FilterNode {
	return &FilterNode{MatchNone: true}
}

func group(or bool, kids ...*FilterNode) *FilterNode {
	return &FilterNode{Group: true, Or: or, Kids: kids}
}

// selectsOut reports whether the plan already projects the given output name.
func (p *Plan) selectsOut(out string) bool {
	for _, f := range p.Fields {
		if f.Out == out {
			return true
		}
	}
	return false
}

// hasOrderColumn reports whether the projection contains the ordered column.
// Distinct queries lose ordering stability when sorting on an unselected
// column, so composition re-validates this.
func (p *Plan) hasOrderColumn(o PlanOrder) bool {
	for _, f := range p.Fields {
		if f.Alias == o.Alias && f.Column == o.Column {
			return true
		}
	}
	return false
}

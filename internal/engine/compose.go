package engine

import (
	"regexp"
	"strings"

	"slate-backend/internal/catalog"
	"slate-backend/internal/security"
)

// Join aliases are interpolated into SQL identifiers, so anything beyond a
// plain identifier is rejected before it reaches the lowering step.
var aliasPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Caller is the resolved identity a plan is composed for: the user, the
// highest permission level they hold for the operation, and their teams.
type Caller struct {
	UserID string
	Level  security.Level
	Teams  []string
}

// Composer turns read requests into query plans. Composition is a pure
// function of the request and caller: composing the same valid request twice
// yields structurally equal plans.
type Composer struct {
	catalog *catalog.Catalog
}

func NewComposer(cat *catalog.Catalog) *Composer {
	return &Composer{catalog: cat}
}

// Compose validates the request and builds an executable plan with the
// caller's security predicate injected. Only the root table is security
// scoped: a join is a field lookup, not a new access point.
func (c *Composer) Compose(req *ReadRequest, caller Caller) (*Plan, *AppError) {
	table := c.catalog.Lookup(req.Table)
	if table == nil {
		return nil, UnknownTableError(req.Table)
	}

	plan := &Plan{
		Table:   table,
		Alias:   table.Name,
		Page:    req.Page,
		PerPage: req.PerPage,
	}

	// 1-3. Validate fields, expand wildcard, strip multi-select projections.
	fields, appErr := c.resolveFields(table, req.Fields)
	if appErr != nil {
		return nil, appErr
	}
	for _, f := range fields {
		plan.Fields = append(plan.Fields, PlanField{
			Alias:  plan.Alias,
			Column: f,
			Out:    plan.Alias + "_" + f,
		})
	}

	// 4. Ownership fields are always selected even if not requested; the
	// post-fetch capability flags need them.
	for _, owner := range table.OwnershipFields() {
		out := plan.Alias + "_" + owner
		if !plan.selectsOut(out) {
			plan.Fields = append(plan.Fields, PlanField{Alias: plan.Alias, Column: owner, Out: out})
		}
	}
	pkOut := plan.Alias + "_" + table.PrimaryKey.Field
	if !plan.selectsOut(pkOut) {
		plan.Fields = append(plan.Fields, PlanField{Alias: plan.Alias, Column: table.PrimaryKey.Field, Out: pkOut})
	}

	// 5. Security predicate.
	plan.Security = securityPredicate(table, plan.Alias, caller)

	// 6. User filters.
	if len(req.Filters) > 0 {
		node, appErr := c.composeFilters(table, plan.Alias, req.Filters, "&&")
		if appErr != nil {
			return nil, appErr
		}
		plan.Filter = node
	}

	// 7. Joins, recursively. Aliases live in one namespace rooted at the
	// base table's alias.
	seen := map[string]bool{strings.ToLower(plan.Alias): true}
	if appErr := c.composeJoins(plan, table, plan.Alias, req.Joins, seen); appErr != nil {
		return nil, appErr
	}

	// 8. Ordering, translating dotted alias paths.
	for _, o := range req.Orders {
		po, appErr := c.resolveOrder(plan, table, o)
		if appErr != nil {
			return nil, appErr
		}
		plan.Orders = append(plan.Orders, po)
	}

	// 9. Except (anti-join) sub-plans compose through this same function.
	for _, sub := range req.Except {
		subPlan, appErr := c.Compose(sub, caller)
		if appErr != nil {
			return nil, appErr
		}
		plan.Except = append(plan.Except, subPlan)
	}

	// 10. Deduplicate selected fields.
	plan.Fields = dedupeFields(plan.Fields)

	// 11. Distinct requires every ordered column in the final projection.
	if req.Distinct {
		for _, o := range plan.Orders {
			if !plan.hasOrderColumn(o) {
				return nil, BadRequestError(
					"Distinct query orders by %s.%s which is not in the selected fields", o.Alias, o.Column)
			}
		}
		plan.Distinct = true
	}

	return plan, nil
}

// resolveFields validates requested fields against the table and expands the
// wildcard. Multi-select projections are silently stripped; they are
// materialized via separate join tables, not plain columns.
func (c *Composer) resolveFields(table *catalog.Table, requested []string) ([]string, *AppError) {
	if len(requested) == 0 {
		requested = []string{"*"}
	}
	for _, name := range requested {
		if name == "*" && len(requested) > 1 {
			return nil, BadRequestError("Wildcard field * cannot be combined with other fields")
		}
	}

	if requested[0] == "*" {
		var out []string
		for _, f := range table.QueryableFields() {
			out = append(out, f.Name)
		}
		return out, nil
	}

	var out []string
	for _, name := range requested {
		f := table.GetField(name)
		if f == nil {
			return nil, BadRequestError("Unknown field %s on table %s", name, table.Name)
		}
		if f.NonQueryable {
			return nil, BadRequestError("Field %s on table %s is not queryable", name, table.Name)
		}
		if f.MultiSelect {
			continue
		}
		out = append(out, name)
	}
	return out, nil
}

// securityPredicate builds the row-level filter for the caller. A table with
// no ownership fields is readable only at System level; everyone else gets a
// predicate that matches zero rows. Team-level callers get a union of the
// direct-ownership branch and the team-membership branch, so team reach never
// excludes the caller's own records.
func securityPredicate(table *catalog.Table, alias string, caller Caller) *FilterNode {
	if caller.Level == security.LevelSystem {
		return nil
	}

	if !table.HasOwnership() && len(table.CustomOwners) == 0 {
		return matchNone()
	}

	var branches []*FilterNode
	if table.OwningUser != "" {
		branches = append(branches, leaf(alias, table.OwningUser, "eq", caller.UserID))
	}
	for _, custom := range table.CustomOwners {
		branches = append(branches, leaf(alias, custom, "eq", caller.UserID))
	}

	if caller.Level == security.LevelTeam && table.OwningTeam != "" && len(caller.Teams) > 0 {
		values := make([]any, len(caller.Teams))
		for i, t := range caller.Teams {
			values[i] = t
		}
		branches = append(branches, &FilterNode{
			Alias: alias, Column: table.OwningTeam, Op: "in", Values: values,
		})
	}

	if len(branches) == 0 {
		return matchNone()
	}
	if len(branches) == 1 {
		return branches[0]
	}
	return group(true, branches...)
}

// composeFilters converts the declared filter list into a tree node, parsing
// leaf values against field metadata.
func (c *Composer) composeFilters(table *catalog.Table, alias string, filters []Filter, logical string) (*FilterNode, *AppError) {
	var kids []*FilterNode
	for _, f := range filters {
		if f.IsGroup() {
			inner := f.Logical
			if inner == "" {
				inner = "&&"
			}
			node, appErr := c.composeFilters(table, alias, f.Filters, inner)
			if appErr != nil {
				return nil, appErr
			}
			kids = append(kids, node)
			continue
		}

		field := table.GetField(f.Field)
		if field == nil {
			return nil, BadRequestError("Unknown filter field %s on table %s", f.Field, table.Name)
		}
		if field.NonQueryable || field.MultiSelect {
			return nil, BadRequestError("Field %s on table %s cannot be filtered", f.Field, table.Name)
		}
		kids = append(kids, parseFilterValue(field, alias, f.Operator, f.Value))
	}

	if len(kids) == 1 {
		return kids[0], nil
	}
	return group(logical == "||", kids...), nil
}

// composeJoins attaches joins recursively. Each joined table composes through
// the same field/filter machinery, inheriting no security filtering.
func (c *Composer) composeJoins(plan *Plan, parent *catalog.Table, parentAlias string, joins []Join, seen map[string]bool) *AppError {
	for _, j := range joins {
		joined := c.catalog.Lookup(j.Table)
		if joined == nil {
			return UnknownTableError(j.Table)
		}

		alias := j.Alias
		if alias == "" {
			alias = joined.Name
		}
		if !aliasPattern.MatchString(alias) {
			return BadRequestError("Join alias %s is not a valid identifier", alias)
		}
		key := strings.ToLower(alias)
		if seen[key] {
			return BadRequestError("Join alias %s is already in use or reserved", alias)
		}
		seen[key] = true

		fromField := parent.GetField(j.FromField)
		if fromField == nil {
			return BadRequestError("Unknown join field %s on table %s", j.FromField, parent.Name)
		}
		toColumn := j.ToField
		if toColumn == "" {
			toColumn = joined.PrimaryKey.Field
		} else if !joined.HasField(toColumn) {
			return BadRequestError("Unknown join field %s on table %s", toColumn, joined.Name)
		}

		joinType := "LEFT"
		if strings.EqualFold(j.Type, "inner") {
			joinType = "INNER"
		}
		plan.Joins = append(plan.Joins, PlanJoin{
			Type:       joinType,
			TableName:  joined.TableName,
			Alias:      alias,
			FromAlias:  parentAlias,
			FromColumn: j.FromField,
			ToColumn:   toColumn,
		})

		fields, appErr := c.resolveFields(joined, j.Fields)
		if appErr != nil {
			return appErr
		}
		for _, f := range fields {
			plan.Fields = append(plan.Fields, PlanField{Alias: alias, Column: f, Out: alias + "_" + f})
		}

		if len(j.Filters) > 0 {
			node, appErr := c.composeFilters(joined, alias, j.Filters, "&&")
			if appErr != nil {
				return appErr
			}
			if plan.Filter == nil {
				plan.Filter = node
			} else {
				plan.Filter = group(false, plan.Filter, node)
			}
		}

		if appErr := c.composeJoins(plan, joined, alias, j.Joins, seen); appErr != nil {
			return appErr
		}
	}
	return nil
}

func (c *Composer) resolveOrder(plan *Plan, table *catalog.Table, o Order) (PlanOrder, *AppError) {
	name := o.Field
	if dot := strings.IndexByte(name, '.'); dot >= 0 {
		alias, field := name[:dot], name[dot+1:]
		for _, j := range plan.Joins {
			if strings.EqualFold(j.Alias, alias) {
				joined := c.lookupByTableName(j.TableName)
				if joined == nil || !joined.HasField(field) {
					return PlanOrder{}, BadRequestError("Unknown order field %s", name)
				}
				return PlanOrder{Alias: j.Alias, Column: field, Desc: o.Descending}, nil
			}
		}
		return PlanOrder{}, BadRequestError("Unknown order alias %s", alias)
	}

	f := table.GetField(name)
	if f == nil {
		return PlanOrder{}, BadRequestError("Unknown order field %s on table %s", name, table.Name)
	}
	if f.NonQueryable || f.MultiSelect {
		return PlanOrder{}, BadRequestError("Field %s on table %s cannot be ordered", name, table.Name)
	}
	return PlanOrder{Alias: plan.Alias, Column: name, Desc: o.Descending}, nil
}

func (c *Composer) lookupByTableName(tableName string) *catalog.Table {
	for _, t := range c.catalog.All() {
		if t.TableName == tableName {
			return t
		}
	}
	return nil
}

func dedupeFields(fields []PlanField) []PlanField {
	seen := make(map[string]bool, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if seen[f.Out] {
			continue
		}
		seen[f.Out] = true
		out = append(out, f)
	}
	return out
}

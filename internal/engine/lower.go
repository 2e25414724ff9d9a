package engine

import (
	"fmt"
	"strings"

	"slate-backend/internal/store"
)

// LowerSelect turns a composed plan into one parameterized SELECT statement.
// The plan stays pure data up to this point; lowering is the only place that
// knows SQL.
func LowerSelect(d store.Dialect, p *Plan) (string, []any) {
	pb := d.NewParamBuilder()
	sql := lowerSelect(d, p, pb)
	return sql, pb.Params()
}

func lowerSelect(d store.Dialect, p *Plan, pb store.ParamBuilder) string {
	var cols []string
	for _, f := range p.Fields {
		cols = append(cols, fmt.Sprintf("%s.%s AS %s", f.Alias, f.Column, f.Out))
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	if p.Distinct {
		b.WriteString("DISTINCT ")
	}
	b.WriteString(strings.Join(cols, ", "))
	b.WriteString(lowerFromWhere(d, p, pb))

	if len(p.Orders) > 0 {
		var parts []string
		for _, o := range p.Orders {
			dir := "ASC"
			if o.Desc {
				dir = "DESC"
			}
			parts = append(parts, fmt.Sprintf("%s.%s %s", o.Alias, o.Column, dir))
		}
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(parts, ", "))
	}

	if p.PerPage > 0 {
		page := p.Page
		if page < 1 {
			page = 1
		}
		b.WriteString(fmt.Sprintf(" LIMIT %s OFFSET %s",
			pb.Add(p.PerPage), pb.Add((page-1)*p.PerPage)))
	}

	return b.String()
}

// lowerFromWhere renders the shared FROM/JOIN/WHERE tail of a plan. Except
// sub-plans become anti-joins on the root primary key; their subquery scope
// keeps alias names from colliding with the outer query.
func lowerFromWhere(d store.Dialect, p *Plan, pb store.ParamBuilder) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf(" FROM %s AS %s", p.Table.TableName, p.Alias))

	for _, j := range p.Joins {
		b.WriteString(fmt.Sprintf(" %s JOIN %s AS %s ON %s.%s = %s.%s",
			j.Type, j.TableName, j.Alias, j.FromAlias, j.FromColumn, j.Alias, j.ToColumn))
	}

	var where []string
	if p.Security != nil {
		where = append(where, lowerNode(d, p.Security, pb))
	}
	if p.Filter != nil {
		where = append(where, lowerNode(d, p.Filter, pb))
	}
	for _, sub := range p.Except {
		subSQL := fmt.Sprintf("SELECT %s.%s%s",
			sub.Alias, sub.Table.PrimaryKey.Field, lowerFromWhere(d, sub, pb))
		where = append(where, fmt.Sprintf("%s.%s NOT IN (%s)",
			p.Alias, p.Table.PrimaryKey.Field, subSQL))
	}

	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	return b.String()
}

func lowerNode(d store.Dialect, n *FilterNode, pb store.ParamBuilder) string {
	if n.MatchNone {
		return "1 = 0"
	}
	if n.Group {
		sep := " AND "
		if n.Or {
			sep = " OR "
		}
		parts := make([]string, len(n.Kids))
		for i, kid := range n.Kids {
			parts[i] = lowerNode(d, kid, pb)
		}
		return "(" + strings.Join(parts, sep) + ")"
	}

	col := fmt.Sprintf("%s.%s", n.Alias, n.Column)
	switch n.Op {
	case "eq":
		return fmt.Sprintf("%s = %s", col, pb.Add(n.Value))
	case "ne":
		return fmt.Sprintf("%s != %s", col, pb.Add(n.Value))
	case "gt":
		return fmt.Sprintf("%s > %s", col, pb.Add(n.Value))
	case "gte":
		return fmt.Sprintf("%s >= %s", col, pb.Add(n.Value))
	case "lt":
		return fmt.Sprintf("%s < %s", col, pb.Add(n.Value))
	case "lte":
		return fmt.Sprintf("%s <= %s", col, pb.Add(n.Value))
	case "contains":
		return d.ContainsExpr(col, pb, "%"+escapeLike(n.Value)+"%")
	case "startswith":
		return d.ContainsExpr(col, pb, escapeLike(n.Value)+"%")
	case "endswith":
		return d.ContainsExpr(col, pb, "%"+escapeLike(n.Value))
	case "in":
		return d.InExpr(col, pb, n.Values)
	case "notin":
		return d.NotInExpr(col, pb, n.Values)
	default:
		return "1 = 0"
	}
}

func toPatternString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike neutralizes LIKE metacharacters in a user value so they match
// literally. The dialect pattern expressions declare the matching ESCAPE
// character.
func escapeLike(v any) string {
	return likeEscaper.Replace(toPatternString(v))
}

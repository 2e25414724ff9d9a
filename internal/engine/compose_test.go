package engine

import (
	"reflect"
	"testing"

	"slate-backend/internal/catalog"
	"slate-backend/internal/security"
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat := catalog.New()
	err := cat.Load([]*catalog.Table{
		{
			Name:       "Customer",
			TableName:  "customers",
			PrimaryKey: catalog.PrimaryKey{Field: "id", Type: "uuid", Generated: true},
			OwningUser: "owner_id",
			OwningTeam: "team_id",
			Fields: []catalog.Field{
				{Name: "id", Type: "uuid"},
				{Name: "name", Type: "string", Required: true, CharLimit: 80},
				{Name: "email", Type: "string", Unique: true, Nullable: true},
				{Name: "vip", Type: "boolean", Nullable: true},
				{Name: "owner_id", Type: "uuid", Nullable: true},
				{Name: "team_id", Type: "uuid", Nullable: true},
				{Name: "api_key", Type: "string", NonQueryable: true, Nullable: true},
				{Name: "created_at", Type: "timestamp", Auto: "create"},
			},
		},
		{
			Name:       "Order",
			TableName:  "orders",
			PrimaryKey: catalog.PrimaryKey{Field: "id", Type: "uuid", Generated: true},
			OwningUser: "owner_id",
			OwningTeam: "team_id",
			Fields: []catalog.Field{
				{Name: "id", Type: "uuid"},
				{Name: "customer_id", Type: "uuid", References: "Customer", CascadeDelete: true},
				{Name: "total", Type: "decimal"},
				{Name: "placed_at", Type: "timestamp", Nullable: true},
				{Name: "owner_id", Type: "uuid", Nullable: true},
				{Name: "team_id", Type: "uuid", Nullable: true},
			},
		},
		{
			Name:       "Note",
			TableName:  "notes",
			PrimaryKey: catalog.PrimaryKey{Field: "id", Type: "uuid", Generated: true},
			OwningUser: "owner_id",
			Fields: []catalog.Field{
				{Name: "id", Type: "uuid"},
				{Name: "order_id", Type: "uuid", References: "Order", CascadeDelete: true, Nullable: true},
				{Name: "customer_id", Type: "uuid", References: "Customer", Nullable: true},
				{Name: "body", Type: "text", Nullable: true},
				{Name: "owner_id", Type: "uuid", Nullable: true},
			},
		},
	})
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	return cat
}

func systemCaller() Caller {
	return Caller{UserID: "admin", Level: security.LevelSystem}
}

func TestComposeIsDeterministic(t *testing.T) {
	c := NewComposer(testCatalog(t))
	req := &ReadRequest{
		Table:   "Order",
		Fields:  []string{"id", "total"},
		Filters: []Filter{{Field: "total", Operator: "gte", Value: "10"}},
		Joins: []Join{{
			Table: "Customer", Alias: "cust", FromField: "customer_id",
			Fields: []string{"name"},
		}},
		Orders: []Order{{Field: "total", Descending: true}},
	}

	p1, appErr := c.Compose(req, systemCaller())
	if appErr != nil {
		t.Fatalf("compose: %v", appErr)
	}
	p2, appErr := c.Compose(req, systemCaller())
	if appErr != nil {
		t.Fatalf("compose: %v", appErr)
	}
	if !reflect.DeepEqual(p1, p2) {
		t.Fatal("composing the same request twice produced different plans")
	}
}

func TestComposeWildcardExpandsQueryableFields(t *testing.T) {
	c := NewComposer(testCatalog(t))
	p, appErr := c.Compose(&ReadRequest{Table: "Customer"}, systemCaller())
	if appErr != nil {
		t.Fatalf("compose: %v", appErr)
	}
	for _, f := range p.Fields {
		if f.Column == "api_key" {
			t.Fatal("wildcard expansion leaked a non-queryable field")
		}
	}
}

func TestComposeRejectsWildcardMixedWithFields(t *testing.T) {
	c := NewComposer(testCatalog(t))
	_, appErr := c.Compose(&ReadRequest{Table: "Customer", Fields: []string{"*", "name"}}, systemCaller())
	if appErr == nil {
		t.Fatal("expected error for * combined with named fields")
	}
}

func TestComposeRejectsUnknownAndHiddenFields(t *testing.T) {
	c := NewComposer(testCatalog(t))
	if _, appErr := c.Compose(&ReadRequest{Table: "Customer", Fields: []string{"nope"}}, systemCaller()); appErr == nil {
		t.Fatal("expected error for unknown field")
	}
	if _, appErr := c.Compose(&ReadRequest{Table: "Customer", Fields: []string{"api_key"}}, systemCaller()); appErr == nil {
		t.Fatal("expected error for non-queryable field")
	}
	if _, appErr := c.Compose(&ReadRequest{Table: "Missing"}, systemCaller()); appErr == nil {
		t.Fatal("expected error for unknown table")
	}
}

func TestComposeForcesOwnershipAndPrimaryKey(t *testing.T) {
	c := NewComposer(testCatalog(t))
	p, appErr := c.Compose(&ReadRequest{Table: "Customer", Fields: []string{"name"}}, systemCaller())
	if appErr != nil {
		t.Fatalf("compose: %v", appErr)
	}
	for _, want := range []string{"Customer_owner_id", "Customer_team_id", "Customer_id"} {
		if !p.selectsOut(want) {
			t.Fatalf("expected forced selection of %s", want)
		}
	}
}

func TestComposeSecurityPredicates(t *testing.T) {
	c := NewComposer(testCatalog(t))

	// System: no predicate at all.
	p, _ := c.Compose(&ReadRequest{Table: "Customer"}, systemCaller())
	if p.Security != nil {
		t.Fatal("system caller should have no security predicate")
	}

	// User: owner equality.
	p, _ = c.Compose(&ReadRequest{Table: "Customer"}, Caller{UserID: "u1", Level: security.LevelUser})
	sec := p.Security
	if sec == nil || sec.Op != "eq" || sec.Column != "owner_id" || sec.Value != "u1" {
		t.Fatalf("unexpected user predicate: %+v", sec)
	}

	// Team: OR of owner equality and team membership.
	p, _ = c.Compose(&ReadRequest{Table: "Customer"},
		Caller{UserID: "u1", Level: security.LevelTeam, Teams: []string{"t1", "t2"}})
	sec = p.Security
	if sec == nil || !sec.Group || !sec.Or || len(sec.Kids) != 2 {
		t.Fatalf("unexpected team predicate: %+v", sec)
	}
	if sec.Kids[1].Op != "in" || len(sec.Kids[1].Values) != 2 {
		t.Fatalf("expected team in-list branch, got %+v", sec.Kids[1])
	}
}

func TestComposeNoOwnershipTableDeniesNonSystem(t *testing.T) {
	cat := catalog.New()
	if err := cat.Load([]*catalog.Table{{
		Name:       "Config",
		TableName:  "configs",
		PrimaryKey: catalog.PrimaryKey{Field: "id", Type: "uuid"},
		Fields: []catalog.Field{
			{Name: "id", Type: "uuid"},
			{Name: "value", Type: "string", Nullable: true},
		},
	}}); err != nil {
		t.Fatal(err)
	}
	c := NewComposer(cat)

	p, _ := c.Compose(&ReadRequest{Table: "Config"}, Caller{UserID: "u1", Level: security.LevelTeam})
	if p.Security == nil || !p.Security.MatchNone {
		t.Fatalf("expected match-none predicate, got %+v", p.Security)
	}

	p, _ = c.Compose(&ReadRequest{Table: "Config"}, systemCaller())
	if p.Security != nil {
		t.Fatal("system caller should bypass ownership requirement")
	}
}

func TestComposeJoinAliasCollision(t *testing.T) {
	c := NewComposer(testCatalog(t))
	req := &ReadRequest{
		Table: "Order",
		Joins: []Join{
			{Table: "Customer", Alias: "c", FromField: "customer_id"},
			{Table: "Customer", Alias: "c", FromField: "customer_id"},
		},
	}
	if _, appErr := c.Compose(req, systemCaller()); appErr == nil {
		t.Fatal("expected error for duplicate join alias")
	}

	// The root alias is reserved too.
	req = &ReadRequest{
		Table: "Order",
		Joins: []Join{{Table: "Customer", Alias: "order", FromField: "customer_id"}},
	}
	if _, appErr := c.Compose(req, systemCaller()); appErr == nil {
		t.Fatal("expected error for join alias shadowing the root table")
	}
}

func TestComposeRejectsNonIdentifierJoinAlias(t *testing.T) {
	c := NewComposer(testCatalog(t))

	// An alias that smuggles SQL would land verbatim in the statement and
	// could comment out the ownership predicate for a scoped caller.
	for _, alias := range []string{
		"n.id AS x FROM notes AS n --",
		"c; DROP TABLE customers",
		"c--",
		"bad alias",
		`c"`,
		"1c",
	} {
		req := &ReadRequest{
			Table: "Order",
			Joins: []Join{{Table: "Customer", Alias: alias, FromField: "customer_id"}},
		}
		caller := Caller{UserID: "u1", Level: security.LevelUser}
		if _, appErr := c.Compose(req, caller); appErr == nil {
			t.Fatalf("alias %q must be rejected", alias)
		}
	}

	// Plain identifiers, including underscores, stay accepted.
	req := &ReadRequest{
		Table: "Order",
		Joins: []Join{{Table: "Customer", Alias: "the_customer", FromField: "customer_id"}},
	}
	if _, appErr := c.Compose(req, systemCaller()); appErr != nil {
		t.Fatalf("identifier alias rejected: %v", appErr)
	}
}

func TestComposeDottedOrderPath(t *testing.T) {
	c := NewComposer(testCatalog(t))
	req := &ReadRequest{
		Table: "Order",
		Joins: []Join{{Table: "Customer", Alias: "cust", FromField: "customer_id", Fields: []string{"name"}}},
		Orders: []Order{
			{Field: "cust.name"},
			{Field: "total", Descending: true},
		},
	}
	p, appErr := c.Compose(req, systemCaller())
	if appErr != nil {
		t.Fatalf("compose: %v", appErr)
	}
	if p.Orders[0].Alias != "cust" || p.Orders[0].Column != "name" {
		t.Fatalf("unexpected join order target: %+v", p.Orders[0])
	}
	if !p.Orders[1].Desc {
		t.Fatal("descending flag lost")
	}

	req.Orders = []Order{{Field: "nosuch.name"}}
	if _, appErr := c.Compose(req, systemCaller()); appErr == nil {
		t.Fatal("expected error for unknown order alias")
	}
}

func TestComposeDistinctRequiresOrderedColumnsSelected(t *testing.T) {
	c := NewComposer(testCatalog(t))
	req := &ReadRequest{
		Table:    "Order",
		Fields:   []string{"total"},
		Distinct: true,
		Joins:    []Join{{Table: "Customer", Alias: "cust", FromField: "customer_id", Fields: []string{"id"}}},
		Orders:   []Order{{Field: "cust.name"}},
	}
	if _, appErr := c.Compose(req, systemCaller()); appErr == nil {
		t.Fatal("expected error: distinct ordering by unselected column")
	}

	req.Orders = []Order{{Field: "total"}}
	if _, appErr := c.Compose(req, systemCaller()); appErr != nil {
		t.Fatalf("distinct with selected order column should pass: %v", appErr)
	}
}

func TestComposeExceptSubPlans(t *testing.T) {
	c := NewComposer(testCatalog(t))
	req := &ReadRequest{
		Table: "Customer",
		Except: []*ReadRequest{{
			Table:   "Customer",
			Filters: []Filter{{Field: "vip", Operator: "eq", Value: "true"}},
		}},
	}
	p, appErr := c.Compose(req, systemCaller())
	if appErr != nil {
		t.Fatalf("compose: %v", appErr)
	}
	if len(p.Except) != 1 {
		t.Fatalf("expected 1 except sub-plan, got %d", len(p.Except))
	}
	if p.Except[0].Table.Name != "Customer" {
		t.Fatalf("unexpected sub-plan table: %s", p.Except[0].Table.Name)
	}
}

func TestComposeFilterGroups(t *testing.T) {
	c := NewComposer(testCatalog(t))
	req := &ReadRequest{
		Table: "Customer",
		Filters: []Filter{{
			Logical: "||",
			Filters: []Filter{
				{Field: "name", Operator: "startswith", Value: "A"},
				{Field: "vip", Operator: "eq", Value: "true"},
			},
		}},
	}
	p, appErr := c.Compose(req, systemCaller())
	if appErr != nil {
		t.Fatalf("compose: %v", appErr)
	}
	f := p.Filter
	if f == nil || !f.Group || !f.Or || len(f.Kids) != 2 {
		t.Fatalf("unexpected filter tree: %+v", f)
	}
	if f.Kids[1].Value != true {
		t.Fatalf("boolean filter value not parsed: %+v", f.Kids[1])
	}
}

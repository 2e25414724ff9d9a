package engine

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"slate-backend/internal/catalog"
)

func patchTable() *catalog.Table {
	return &catalog.Table{
		Name:       "Customer",
		TableName:  "customers",
		PrimaryKey: catalog.PrimaryKey{Field: "id", Type: "uuid", Generated: true},
		Fields: []catalog.Field{
			{Name: "id", Type: "uuid"},
			{Name: "name", Type: "string", Required: true, CharLimit: 10},
			{Name: "tier", Type: "string", Default: "basic", Nullable: true},
			{Name: "age", Type: "int8", Nullable: true},
			{Name: "vip", Type: "boolean", Nullable: true},
			{Name: "created_at", Type: "timestamp", Auto: "create"},
			{Name: "updated_at", Type: "timestamp", Auto: "update"},
		},
	}
}

func TestBuildCreateEntity(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	entity, details := BuildCreateEntity(patchTable(), map[string]any{"name": "Bob"}, now)
	if details != nil {
		t.Fatalf("unexpected validation errors: %v", details)
	}

	// Generated uuid primary key.
	id, _ := entity["id"].(string)
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("expected generated uuid id, got %v", entity["id"])
	}
	// Default applied.
	if entity["tier"] != "basic" {
		t.Fatalf("default not applied: %v", entity["tier"])
	}
	// Auto timestamps stamped.
	if entity["created_at"] != now && entity["created_at"] != now.UTC() {
		t.Fatalf("created_at not stamped: %v", entity["created_at"])
	}
}

func TestBuildCreateEntityHonorsSuppliedKey(t *testing.T) {
	id := uuid.NewString()
	entity, details := BuildCreateEntity(patchTable(), map[string]any{"id": id, "name": "Bob"}, time.Now())
	if details != nil {
		t.Fatalf("unexpected validation errors: %v", details)
	}
	if entity["id"] != id {
		t.Fatalf("supplied key was regenerated: %v", entity["id"])
	}

	if _, details = BuildCreateEntity(patchTable(), map[string]any{"id": "junk", "name": "Bob"}, time.Now()); len(details) == 0 {
		t.Fatal("expected error for a malformed supplied key")
	}
}

func TestBuildCreateEntityValidation(t *testing.T) {
	now := time.Now()

	// Missing required field.
	_, details := BuildCreateEntity(patchTable(), map[string]any{}, now)
	if len(details) == 0 || details[0].Rule != "required" {
		t.Fatalf("expected required error, got %v", details)
	}

	// Unknown field.
	_, details = BuildCreateEntity(patchTable(), map[string]any{"name": "x", "bogus": 1}, now)
	if len(details) == 0 || details[0].Rule != "unknown" {
		t.Fatalf("expected unknown-field error, got %v", details)
	}

	// Char limit.
	_, details = BuildCreateEntity(patchTable(), map[string]any{"name": "this is way too long"}, now)
	if len(details) == 0 || details[0].Rule != "char_limit" {
		t.Fatalf("expected char-limit error, got %v", details)
	}

	// Integer width.
	_, details = BuildCreateEntity(patchTable(), map[string]any{"name": "x", "age": float64(4000)}, now)
	if len(details) == 0 || details[0].Rule != "range" {
		t.Fatalf("expected range error, got %v", details)
	}

	// Non-integral number for an integer field.
	_, details = BuildCreateEntity(patchTable(), map[string]any{"name": "x", "age": 1.5}, now)
	if len(details) == 0 || details[0].Rule != "type" {
		t.Fatalf("expected type error, got %v", details)
	}
}

func TestPatchFromBefore(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	before := map[string]any{
		"id": "abc", "name": "Bob", "tier": "basic", "age": int64(30),
		"created_at": now.Add(-time.Hour), "updated_at": now.Add(-time.Hour),
	}

	entity, changed, details := PatchFromBefore(patchTable(), before,
		map[string]any{"age": float64(31)}, now)
	if details != nil {
		t.Fatalf("unexpected validation errors: %v", details)
	}

	// Only touched fields plus the auto-update stamp change.
	if changed["age"] != int64(31) {
		t.Fatalf("age not patched: %v", changed)
	}
	if _, ok := changed["updated_at"]; !ok {
		t.Fatal("updated_at not restamped")
	}
	if _, ok := changed["name"]; ok {
		t.Fatal("untouched field marked changed")
	}
	// The merged entity keeps the untouched values.
	if entity["name"] != "Bob" {
		t.Fatalf("merged entity lost a field: %v", entity["name"])
	}
}

func TestPatchIgnoresImmutableFields(t *testing.T) {
	now := time.Now()
	before := map[string]any{"id": "abc", "name": "Bob"}

	entity, changed, details := PatchFromBefore(patchTable(), before, map[string]any{
		"id":         "evil-new-id",
		"created_at": "2020-01-01T00:00:00Z",
	}, now)
	if details != nil {
		t.Fatalf("unexpected errors: %v", details)
	}
	if len(changed) != 0 {
		t.Fatalf("immutable fields must not change: %v", changed)
	}
	if entity["id"] != "abc" {
		t.Fatal("primary key was overwritten")
	}
}

func TestPatchRejectsClearingRequiredField(t *testing.T) {
	before := map[string]any{"id": "abc", "name": "Bob"}
	_, _, details := PatchFromBefore(patchTable(), before, map[string]any{"name": nil}, time.Now())
	if len(details) == 0 || details[0].Rule != "required" {
		t.Fatalf("expected required error, got %v", details)
	}
}

func TestCoerceBooleanAndUUID(t *testing.T) {
	now := time.Now()
	id := uuid.NewString()
	tab := &catalog.Table{
		Name:       "Link",
		TableName:  "links",
		PrimaryKey: catalog.PrimaryKey{Field: "id", Type: "uuid", Generated: true},
		Fields: []catalog.Field{
			{Name: "id", Type: "uuid"},
			{Name: "target", Type: "uuid", Nullable: true},
			{Name: "active", Type: "boolean", Nullable: true},
		},
	}

	entity, details := BuildCreateEntity(tab, map[string]any{"target": id, "active": "true"}, now)
	if details != nil {
		t.Fatalf("unexpected errors: %v", details)
	}
	if entity["active"] != true {
		t.Fatalf("boolean string not coerced: %v", entity["active"])
	}
	if entity["target"] != id {
		t.Fatalf("uuid not normalized: %v", entity["target"])
	}

	if _, details = BuildCreateEntity(tab, map[string]any{"target": "nope"}, now); len(details) == 0 {
		t.Fatal("expected error for malformed uuid")
	}
}

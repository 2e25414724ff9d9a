package engine

import (
	"context"
	"testing"
)

func noopHook(ctx context.Context, eng *Engine, pc *PipelineContext) error { return nil }

func TestServiceLogicRejectsReadAndDelete(t *testing.T) {
	h := NewHookRegistry()
	for _, op := range []Op{OpRead, OpDelete} {
		if err := h.RegisterServiceLogic("Customer", op, "x", noopHook, ""); err == nil {
			t.Fatalf("service logic must not attach to %s", op)
		}
	}
}

func TestPostLogicRejectsRead(t *testing.T) {
	h := NewHookRegistry()
	if err := h.RegisterPostLogic("Customer", OpRead, "x", noopHook, ""); err == nil {
		t.Fatal("post logic must not attach to READ")
	}
	if err := h.RegisterPostLogic("Customer", OpDelete, "x", noopHook, ""); err != nil {
		t.Fatalf("post logic should attach to DELETE: %v", err)
	}
}

func TestRegisterRejectsBrokenGuard(t *testing.T) {
	h := NewHookRegistry()
	if err := h.RegisterServiceLogic("Customer", OpCreate, "x", noopHook, "record.name =="); err == nil {
		t.Fatal("malformed guard expression must fail registration")
	}
	// Guards must evaluate to a boolean.
	if err := h.RegisterServiceLogic("Customer", OpCreate, "x", noopHook, `"not a bool"`); err == nil {
		t.Fatal("non-boolean guard must fail registration")
	}
}

func TestHasServiceLogicCoversAllPhases(t *testing.T) {
	h := NewHookRegistry()
	if h.HasServiceLogic("Customer") {
		t.Fatal("empty registry reports logic")
	}
	if err := h.RegisterPostLogic("Customer", OpUpdate, "x", noopHook, ""); err != nil {
		t.Fatalf("register: %v", err)
	}
	if !h.HasServiceLogic("Customer") {
		t.Fatal("post-phase hook not reflected")
	}
	if h.HasServiceLogic("Order") {
		t.Fatal("logic leaked to another table")
	}
}

func TestReadLogicRegistration(t *testing.T) {
	h := NewHookRegistry()
	if err := h.RegisterReadLogic("Customer", "x", noopHook, "params.scope =="); err == nil {
		t.Fatal("malformed guard expression must fail registration")
	}
	if err := h.RegisterReadLogic("Customer", "x", noopHook, ""); err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(h.readHooks("CUSTOMER")) != 1 {
		t.Fatal("read hook lookup should ignore table name casing")
	}
}

func TestHookLookupIsCaseInsensitive(t *testing.T) {
	h := NewHookRegistry()
	if err := h.RegisterDeleteLogic("CUSTOMER", "x", noopHook, ""); err != nil {
		t.Fatalf("register: %v", err)
	}
	if !h.HasDeleteLogic("customer") {
		t.Fatal("table name casing should not matter")
	}
}

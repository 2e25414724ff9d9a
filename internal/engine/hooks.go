package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// HookFunc is a registered piece of business logic. It runs inside the
// operation's transaction and may mutate pc.Entity, spawn child operations via
// pc.Child, or veto the operation by returning an error.
type HookFunc func(ctx context.Context, eng *Engine, pc *PipelineContext) error

type hookEntry struct {
	name     string
	fn       HookFunc
	guard    *vm.Program
	guardSrc string
}

// HookRegistry holds business-logic hooks keyed by table and operation.
// Registration happens once at startup; lookups are read-mostly.
type HookRegistry struct {
	mu      sync.RWMutex
	service map[string][]hookEntry // key: table|op, runs before persist
	post    map[string][]hookEntry // key: table|op, runs after persist
	deletes map[string][]hookEntry // key: table, runs before cascade
	reads   map[string][]hookEntry // key: table, runs after a read executes
}

func NewHookRegistry() *HookRegistry {
	return &HookRegistry{
		service: make(map[string][]hookEntry),
		post:    make(map[string][]hookEntry),
		deletes: make(map[string][]hookEntry),
		reads:   make(map[string][]hookEntry),
	}
}

func serviceKey(table string, op Op) string {
	return strings.ToLower(table) + "|" + string(op)
}

// RegisterServiceLogic attaches a hook to CREATE, UPDATE or UPSERT on a table.
// An optional guard expression, evaluated against {record, before, params,
// user_id, op}, gates the hook per invocation.
func (h *HookRegistry) RegisterServiceLogic(table string, op Op, name string, fn HookFunc, guard string) error {
	if op != OpCreate && op != OpUpdate && op != OpUpsert {
		return fmt.Errorf("service logic cannot attach to %s", op)
	}
	entry, err := newHookEntry(name, fn, guard)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.service[serviceKey(table, op)] = append(h.service[serviceKey(table, op)], entry)
	return nil
}

// RegisterPostLogic attaches a hook that runs after the row is persisted (or
// removed, for deletes) but still inside the operation's transaction. A hook
// error rolls the whole operation back.
func (h *HookRegistry) RegisterPostLogic(table string, op Op, name string, fn HookFunc, guard string) error {
	if op != OpCreate && op != OpUpdate && op != OpUpsert && op != OpDelete {
		return fmt.Errorf("post logic cannot attach to %s", op)
	}
	entry, err := newHookEntry(name, fn, guard)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.post[serviceKey(table, op)] = append(h.post[serviceKey(table, op)], entry)
	return nil
}

// RegisterReadLogic attaches a hook that runs after a read on the table
// executes. Read hooks see the request parameters and contribute output
// parameters; they never alter the rows themselves.
func (h *HookRegistry) RegisterReadLogic(table string, name string, fn HookFunc, guard string) error {
	entry, err := newHookEntry(name, fn, guard)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	key := strings.ToLower(table)
	h.reads[key] = append(h.reads[key], entry)
	return nil
}

// RegisterDeleteLogic attaches a hook that runs before a row's cascade is
// computed. Delete hooks see the full Before snapshot.
func (h *HookRegistry) RegisterDeleteLogic(table string, name string, fn HookFunc, guard string) error {
	entry, err := newHookEntry(name, fn, guard)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	key := strings.ToLower(table)
	h.deletes[key] = append(h.deletes[key], entry)
	return nil
}

func newHookEntry(name string, fn HookFunc, guard string) (hookEntry, error) {
	entry := hookEntry{name: name, fn: fn, guardSrc: guard}
	if guard != "" {
		prog, err := expr.Compile(guard, expr.AsBool())
		if err != nil {
			return hookEntry{}, fmt.Errorf("compile guard for hook %s: %w", name, err)
		}
		entry.guard = prog
	}
	return entry, nil
}

// HasServiceLogic reports whether any write hook exists for the table. The
// bulk path uses this to decide which creates can skip the pipeline.
func (h *HookRegistry) HasServiceLogic(table string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, op := range []Op{OpCreate, OpUpdate, OpUpsert} {
		if len(h.service[serviceKey(table, op)]) > 0 || len(h.post[serviceKey(table, op)]) > 0 {
			return true
		}
	}
	return false
}

// HasDeleteLogic reports whether a delete hook exists for the table. Cascade
// planning routes such rows through the pipeline one by one instead of the
// batched fast path.
func (h *HookRegistry) HasDeleteLogic(table string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.deletes[strings.ToLower(table)]) > 0
}

func (h *HookRegistry) serviceHooks(table string, op Op) []hookEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.service[serviceKey(table, op)]
}

func (h *HookRegistry) postHooks(table string, op Op) []hookEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.post[serviceKey(table, op)]
}

func (h *HookRegistry) deleteHooks(table string) []hookEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.deletes[strings.ToLower(table)]
}

func (h *HookRegistry) readHooks(table string) []hookEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.reads[strings.ToLower(table)]
}

// runHooks evaluates guards and invokes matching hooks in registration order.
// The first hook error aborts the chain.
func runHooks(ctx context.Context, eng *Engine, pc *PipelineContext, entries []hookEntry) error {
	if len(entries) == 0 {
		return nil
	}
	env := map[string]any{
		"record":  pc.Entity,
		"before":  pc.Before,
		"params":  pc.Params,
		"user_id": pc.UserID,
		"op":      string(pc.Op),
	}
	for _, entry := range entries {
		if entry.guard != nil {
			out, err := expr.Run(entry.guard, env)
			if err != nil {
				return fmt.Errorf("hook %s guard: %w", entry.name, err)
			}
			if pass, ok := out.(bool); !ok || !pass {
				continue
			}
		}
		if err := entry.fn(ctx, eng, pc); err != nil {
			return fmt.Errorf("hook %s: %w", entry.name, err)
		}
	}
	return nil
}

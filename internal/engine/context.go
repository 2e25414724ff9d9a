package engine

import (
	"context"
	"fmt"

	"slate-backend/internal/catalog"
	"slate-backend/internal/security"
	"slate-backend/internal/store"
)

// State tracks a pipeline context through the stage chain. A failed gate
// moves the context to StateFailed and aborts the remaining stages.
type State int

const (
	StateCreated State = iota
	StateValidating
	StateSecurityChecked
	StatePersisted
	StateResultShaped
	StateDone
	StateFailed
)

// Flags let hooks and internal callers alter pipeline behavior.
type Flags struct {
	// PreventPersist runs the full chain without writing; the bulk path uses
	// it to validate and default rows before a batched insert.
	PreventPersist bool
	// ReturnEmpty suppresses the payload.
	ReturnEmpty bool
	// ReturnRaw skips UI capability shaping and returns the bare entity.
	ReturnRaw bool
	// SkipCascade marks a context created by the cascade itself; its delete
	// must not re-cascade.
	SkipCascade bool
}

// PipelineContext is the per-operation state threaded through the stages.
// Entities are exclusively owned by the operation that created them; a parent
// context may be read by children but never mutated by them.
type PipelineContext struct {
	UserID string
	Table  *catalog.Table
	Op     Op

	// Entity is the "new" value for writes; Before is the snapshot loaded for
	// updates and deletes.
	Entity map[string]any
	Before map[string]any
	ID     any

	// Input holds the requested field values; Params holds request parameters
	// addressed to business-logic hooks, not to columns. Output collects extra
	// output parameters hooks contribute; it rides back on Result.Params.
	Input  map[string]any
	Params map[string]any
	Output map[string]any

	// Changed set computed by update validation, consumed by the persist
	// stage.
	changed map[string]any

	Parent *PipelineContext
	Flags  Flags
	State  State

	// Level the caller holds for this operation, resolved by the permission
	// stage.
	Level security.Level

	// Transaction shared with the whole logical operation; root-owned.
	q store.Querier

	// Root-owned bookkeeping for cascade and batch persistence.
	claimed map[string]bool
	buffer  *writeBuffer
}

func newRootContext(userID string, table *catalog.Table, op Op, q store.Querier) *PipelineContext {
	return &PipelineContext{
		UserID:  userID,
		Table:   table,
		Op:      op,
		Input:   make(map[string]any),
		Output:  make(map[string]any),
		State:   StateCreated,
		q:       q,
		claimed: make(map[string]bool),
		buffer:  newWriteBuffer(),
	}
}

// Child creates a nested context enlisted under this context's transaction.
// Cascade children and hook-triggered operations run through here so they
// never commit independently.
func (pc *PipelineContext) Child(table *catalog.Table, op Op) *PipelineContext {
	root := pc.Root()
	return &PipelineContext{
		UserID:  pc.UserID,
		Table:   table,
		Op:      op,
		Input:   make(map[string]any),
		Params:  pc.Params,
		Output:  make(map[string]any),
		Parent:  pc,
		State:   StateCreated,
		q:       root.q,
		claimed: root.claimed,
		buffer:  root.buffer,
	}
}

// Root walks the parent chain to the transaction owner.
func (pc *PipelineContext) Root() *PipelineContext {
	c := pc
	for c.Parent != nil {
		c = c.Parent
	}
	return c
}

// Claim marks a row as processed by the current logical operation. Returns
// false when some earlier step already claimed it: the same row is never
// deleted twice even when reachable via two dependency paths.
func (pc *PipelineContext) Claim(table string, id any) bool {
	key := table + "/" + fmt.Sprintf("%v", id)
	root := pc.Root()
	if root.claimed[key] {
		return false
	}
	root.claimed[key] = true
	return true
}

// Claimed reports whether a row was already claimed in this operation.
func (pc *PipelineContext) Claimed(table string, id any) bool {
	return pc.Root().claimed[table+"/"+fmt.Sprintf("%v", id)]
}

// --- write buffer ---

type nullOutKey struct {
	table  string
	column string
}

// writeBuffer groups pending null-outs and deletes so a cascade level flushes
// in as few statements as possible. Null-outs always flush before deletes:
// that ordering is what keeps foreign keys from dangling mid-cascade.
type writeBuffer struct {
	nullOrder  []nullOutKey
	nulls      map[nullOutKey][]any
	nullTables map[nullOutKey]*catalog.Table

	deleteOrder  []string
	deletes      map[string][]any
	deleteTables map[string]*catalog.Table
}

func newWriteBuffer() *writeBuffer {
	return &writeBuffer{
		nulls:        make(map[nullOutKey][]any),
		nullTables:   make(map[nullOutKey]*catalog.Table),
		deletes:      make(map[string][]any),
		deleteTables: make(map[string]*catalog.Table),
	}
}

func (w *writeBuffer) QueueNullOut(t *catalog.Table, column string, id any) {
	key := nullOutKey{table: t.Name, column: column}
	if _, ok := w.nulls[key]; !ok {
		w.nullOrder = append(w.nullOrder, key)
		w.nullTables[key] = t
	}
	w.nulls[key] = append(w.nulls[key], id)
}

func (w *writeBuffer) QueueDelete(t *catalog.Table, id any) {
	if _, ok := w.deletes[t.Name]; !ok {
		w.deleteOrder = append(w.deleteOrder, t.Name)
		w.deleteTables[t.Name] = t
	}
	w.deletes[t.Name] = append(w.deletes[t.Name], id)
}

// Flush executes all queued null-outs, then all queued deletes.
func (w *writeBuffer) Flush(ctx context.Context, q store.Querier, d store.Dialect) error {
	for _, key := range w.nullOrder {
		ids := w.nulls[key]
		if len(ids) == 0 {
			continue
		}
		sql, params := BuildNullOutSQL(d, w.nullTables[key], key.column, ids)
		if _, err := store.Exec(ctx, q, sql, params...); err != nil {
			return fmt.Errorf("null out %s.%s: %w", key.table, key.column, err)
		}
	}
	for _, name := range w.deleteOrder {
		ids := w.deletes[name]
		if len(ids) == 0 {
			continue
		}
		sql, params := BuildDeleteManySQL(d, w.deleteTables[name], ids)
		if _, err := store.Exec(ctx, q, sql, params...); err != nil {
			return fmt.Errorf("delete from %s: %w", name, err)
		}
	}
	w.nullOrder = w.nullOrder[:0]
	w.deleteOrder = w.deleteOrder[:0]
	w.nulls = make(map[nullOutKey][]any)
	w.deletes = make(map[string][]any)
	return nil
}

// Empty reports whether anything is queued.
func (w *writeBuffer) Empty() bool {
	return len(w.nullOrder) == 0 && len(w.deleteOrder) == 0
}

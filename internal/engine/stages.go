package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"slate-backend/internal/catalog"
	"slate-backend/internal/store"
)

// stageFunc is one link in an operation's chain. Returning a non-nil Result
// short-circuits the remaining stages; returning nil passes control on.
type stageFunc func(ctx context.Context, e *Engine, pc *PipelineContext) *Result

func createStages() []stageFunc {
	return []stageFunc{
		stagePermission,
		stageValidateCreate,
		stageSecurityCreate,
		stageServiceHooks,
		stagePersistCreate,
		stagePostHooks,
		stageShape,
	}
}

func updateStages() []stageFunc {
	return []stageFunc{
		stagePermission,
		stageLoadBefore,
		stageValidateUpdate,
		stageSecurityUpdate,
		stageServiceHooks,
		stagePersistUpdate,
		stagePostHooks,
		stageShape,
	}
}

func deleteStages() []stageFunc {
	return []stageFunc{
		stagePermission,
		stageLoadBefore,
		stageSecurityDelete,
		stageDeleteHooks,
		stagePersistDelete,
		stagePostHooks,
		stageShape,
	}
}

// runPipeline drives a context through its operation's chain. A failing stage
// marks the context failed; the transaction outcome is decided by the caller
// that owns it.
func (e *Engine) runPipeline(ctx context.Context, pc *PipelineContext) Result {
	var stages []stageFunc
	switch pc.Op {
	case OpCreate:
		stages = createStages()
	case OpUpdate:
		stages = updateStages()
	case OpDelete:
		stages = deleteStages()
	default:
		return Internal(fmt.Errorf("pipeline cannot run op %s", pc.Op))
	}

	for _, stage := range stages {
		if res := stage(ctx, e, pc); res != nil {
			if !res.Success {
				pc.State = StateFailed
			} else {
				pc.State = StateDone
			}
			return *res
		}
	}

	pc.State = StateDone
	return OK(nil)
}

// stagePermission resolves the caller's level for the table operation.
// Cascade children inherit the root operation's authorization and skip the
// check entirely.
func stagePermission(ctx context.Context, e *Engine, pc *PipelineContext) *Result {
	if pc.Flags.SkipCascade {
		if pc.Parent != nil {
			pc.Level = pc.Parent.Level
		}
		return nil
	}
	level, ok, err := e.resolver.TableLevel(ctx, pc.UserID, pc.Table.Name, string(pc.Op))
	if err != nil {
		return resultPtr(Internal(err))
	}
	if !ok {
		return resultPtr(Denied("You do not have permission to %s %s records.", opVerb(pc.Op), pc.Table.Name))
	}
	pc.Level = level
	return nil
}

func stageValidateCreate(ctx context.Context, e *Engine, pc *PipelineContext) *Result {
	pc.State = StateValidating
	entity, details := BuildCreateEntity(pc.Table, pc.Input, time.Now())
	if len(details) > 0 {
		return resultPtr(validationResult(pc.Table.Name, details))
	}
	pc.Entity = entity
	if id, ok := entity[pc.Table.PrimaryKey.Field]; ok {
		pc.ID = id
	}
	return nil
}

// stageSecurityCreate defaults missing ownership to the caller, then checks
// the assignment the same way an update would.
func stageSecurityCreate(ctx context.Context, e *Engine, pc *PipelineContext) *Result {
	t := pc.Table
	if t.OwningUser != "" && isEmptyValue(pc.Entity[t.OwningUser]) {
		pc.Entity[t.OwningUser] = pc.UserID
	}

	d, err := e.resolver.CanAssign(ctx, pc.UserID, pc.Level, t, nil, pc.Entity)
	if err != nil {
		return resultPtr(Internal(err))
	}
	if !d.Allowed {
		return resultPtr(Denied("%s", d.Reason))
	}
	pc.State = StateSecurityChecked
	return nil
}

// stageLoadBefore fetches the current row for updates and deletes. A missing
// row that this operation already claimed is a completed delete, not an
// error; otherwise absence and inaccessibility are reported identically.
func stageLoadBefore(ctx context.Context, e *Engine, pc *PipelineContext) *Result {
	before, err := FetchRecord(ctx, pc.q, e.store.Dialect, pc.Table, pc.ID)
	if errors.Is(err, store.ErrNotFound) {
		if pc.Op == OpDelete && pc.Claimed(pc.Table.Name, pc.ID) {
			pc.Flags.ReturnEmpty = true
			return resultPtr(OK(nil))
		}
		return resultPtr(Denied("The %s record was not found or you do not have access to it.", pc.Table.Name))
	}
	if err != nil {
		return resultPtr(Internal(err))
	}
	if e.store.Dialect.NeedsBoolFix() {
		store.NormalizeBooleans([]map[string]any{before}, tableBoolFields(pc.Table))
	}
	pc.Before = before
	return nil
}

func stageValidateUpdate(ctx context.Context, e *Engine, pc *PipelineContext) *Result {
	pc.State = StateValidating
	entity, changed, details := PatchFromBefore(pc.Table, pc.Before, pc.Input, time.Now())
	if len(details) > 0 {
		return resultPtr(validationResult(pc.Table.Name, details))
	}
	pc.Entity = entity
	pc.changed = changed
	return nil
}

func stageSecurityUpdate(ctx context.Context, e *Engine, pc *PipelineContext) *Result {
	d, err := e.resolver.CanAccessRow(ctx, pc.UserID, pc.Level, pc.Table, pc.Before)
	if err != nil {
		return resultPtr(Internal(err))
	}
	if !d.Allowed {
		return resultPtr(Denied("%s", d.Reason))
	}

	d, err = e.resolver.CanAssign(ctx, pc.UserID, pc.Level, pc.Table, pc.Before, pc.Entity)
	if err != nil {
		return resultPtr(Internal(err))
	}
	if !d.Allowed {
		return resultPtr(Denied("%s", d.Reason))
	}
	pc.State = StateSecurityChecked
	return nil
}

func stageSecurityDelete(ctx context.Context, e *Engine, pc *PipelineContext) *Result {
	if pc.Flags.SkipCascade {
		pc.State = StateSecurityChecked
		return nil
	}
	d, err := e.resolver.CanAccessRow(ctx, pc.UserID, pc.Level, pc.Table, pc.Before)
	if err != nil {
		return resultPtr(Internal(err))
	}
	if !d.Allowed {
		return resultPtr(Denied("%s", d.Reason))
	}
	pc.State = StateSecurityChecked
	return nil
}

func stageServiceHooks(ctx context.Context, e *Engine, pc *PipelineContext) *Result {
	entries := e.hooks.serviceHooks(pc.Table.Name, pc.Op)
	if err := runHooks(ctx, e, pc, entries); err != nil {
		return resultPtr(Invalid("%s", err.Error()))
	}
	return nil
}

// stagePostHooks runs after persistence, still inside the transaction. The
// entity here carries database-assigned values, so hooks see the final row; a
// hook error rolls the whole operation back.
func stagePostHooks(ctx context.Context, e *Engine, pc *PipelineContext) *Result {
	entries := e.hooks.postHooks(pc.Table.Name, pc.Op)
	if err := runHooks(ctx, e, pc, entries); err != nil {
		return resultPtr(Invalid("%s", err.Error()))
	}
	return nil
}

func stageDeleteHooks(ctx context.Context, e *Engine, pc *PipelineContext) *Result {
	entries := e.hooks.deleteHooks(pc.Table.Name)
	if err := runHooks(ctx, e, pc, entries); err != nil {
		return resultPtr(Invalid("%s", err.Error()))
	}
	return nil
}

func stagePersistCreate(ctx context.Context, e *Engine, pc *PipelineContext) *Result {
	if pc.Flags.PreventPersist {
		return nil
	}
	sql, params := BuildInsertSQL(e.store.Dialect, pc.Table, pc.Entity)
	row, err := store.QueryRow(ctx, pc.q, sql, params...)
	if err != nil {
		if errors.Is(e.store.Dialect.MapError(err), store.ErrUniqueViolation) {
			return resultPtr(Invalid("A %s record with the same unique value already exists.", pc.Table.Name))
		}
		return resultPtr(Internal(err))
	}
	if e.store.Dialect.NeedsBoolFix() {
		store.NormalizeBooleans([]map[string]any{row}, tableBoolFields(pc.Table))
	}
	pc.Entity = row
	pc.ID = row[pc.Table.PrimaryKey.Field]
	pc.State = StatePersisted
	return nil
}

func stagePersistUpdate(ctx context.Context, e *Engine, pc *PipelineContext) *Result {
	if pc.Flags.PreventPersist {
		return nil
	}
	changed := pc.changed
	if len(changed) == 0 {
		pc.State = StatePersisted
		return nil
	}
	sql, params := BuildUpdateSQL(e.store.Dialect, pc.Table, pc.ID, changed)
	if sql == "" {
		pc.State = StatePersisted
		return nil
	}
	if _, err := store.Exec(ctx, pc.q, sql, params...); err != nil {
		if errors.Is(e.store.Dialect.MapError(err), store.ErrUniqueViolation) {
			return resultPtr(Invalid("A %s record with the same unique value already exists.", pc.Table.Name))
		}
		return resultPtr(Internal(err))
	}
	pc.State = StatePersisted
	return nil
}

// stagePersistDelete claims the root row, plans and executes the cascade,
// then removes the row itself. Cascade children skip this planning step and
// queue their single row directly.
func stagePersistDelete(ctx context.Context, e *Engine, pc *PipelineContext) *Result {
	if pc.Flags.PreventPersist {
		return nil
	}
	if !pc.Claim(pc.Table.Name, pc.ID) && !pc.Flags.SkipCascade {
		// Something earlier in this operation already removed the row.
		pc.Flags.ReturnEmpty = true
		pc.State = StatePersisted
		return nil
	}

	if !pc.Flags.SkipCascade {
		if res := e.cascadeDelete(ctx, pc); res != nil {
			return res
		}
	}

	pc.buffer.QueueDelete(pc.Table, pc.ID)
	if err := pc.buffer.Flush(ctx, pc.q, e.store.Dialect); err != nil {
		return resultPtr(Internal(err))
	}
	pc.Flags.ReturnEmpty = true
	pc.State = StatePersisted
	return nil
}

// stageShape assembles the outgoing result. Hook-contributed output
// parameters travel next to the entity, never inside it.
func stageShape(ctx context.Context, e *Engine, pc *PipelineContext) *Result {
	pc.State = StateResultShaped
	res := Result{Success: true}
	if !pc.Flags.ReturnEmpty {
		res.Payload = pc.Entity
	}
	if len(pc.Output) > 0 {
		res.Params = pc.Output
	}
	return resultPtr(res)
}

func validationResult(table string, details []ErrorDetail) Result {
	msg := fmt.Sprintf("The %s record is invalid.", table)
	if len(details) > 0 {
		msg = fmt.Sprintf("The %s record is invalid: %s", table, details[0].Message)
	}
	return Result{Success: false, FriendlyMessage: msg, Payload: details}
}

func resultPtr(r Result) *Result {
	return &r
}

func opVerb(op Op) string {
	switch op {
	case OpCreate:
		return "create"
	case OpRead:
		return "read"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	case OpUpsert:
		return "save"
	default:
		return "access"
	}
}

func isEmptyValue(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

func tableBoolFields(t *catalog.Table) []string {
	var names []string
	for _, f := range t.Fields {
		if f.Type == "boolean" {
			names = append(names, f.Name)
		}
	}
	return names
}

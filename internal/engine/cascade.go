package engine

import (
	"context"
)

// cascadeDelete plans and executes the dependency cascade for a root delete.
// Dependents are discovered breadth-first, then processed deepest level first
// so that by the time a row is removed, nothing still points at it.
//
// Within a level, rows whose table carries delete logic run through the
// pipeline individually so their hooks fire; everything else is batched
// through the write buffer. Null-outs in a level flush before its deletes.
// Returns nil on success, or the short-circuit result of the first failure.
func (e *Engine) cascadeDelete(ctx context.Context, pc *PipelineContext) *Result {
	set, appErr := e.collectDependents(ctx, pc.q, pc.Table, []any{pc.ID}, e.maxCascadeDepth)
	if appErr != nil {
		if appErr.Status >= 500 {
			return resultPtr(Internal(appErr))
		}
		return resultPtr(Invalid("%s", appErr.Message))
	}

	for _, level := range set.levels() {
		for _, n := range level {
			switch n.action {
			case actionNull:
				pc.buffer.QueueNullOut(n.table, n.nullField, n.id)

			case actionDelete:
				if !pc.Claim(n.table.Name, n.id) {
					continue
				}
				if n.table.HasDeleteLogic {
					child := pc.Child(n.table, OpDelete)
					child.ID = n.id
					child.Flags.SkipCascade = true
					child.Flags.ReturnEmpty = true
					if res := e.runPipeline(ctx, child); !res.Success {
						return resultPtr(res)
					}
				} else {
					pc.buffer.QueueDelete(n.table, n.id)
				}
			}
		}
		if err := pc.buffer.Flush(ctx, pc.q, e.store.Dialect); err != nil {
			return resultPtr(Internal(err))
		}
	}
	return nil
}

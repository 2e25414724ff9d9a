package engine

import (
	"context"
	"errors"
	"fmt"
	"log"

	"slate-backend/internal/catalog"
	"slate-backend/internal/config"
	"slate-backend/internal/security"
	"slate-backend/internal/store"
)

// Engine is the single entry point for all data operations. Reads compose
// into query plans; writes run through the stage pipeline inside a
// transaction owned here.
type Engine struct {
	store           *store.Store
	catalog         *catalog.Catalog
	resolver        *security.Resolver
	composer        *Composer
	hooks           *HookRegistry
	maxCascadeDepth int
}

func New(st *store.Store, cat *catalog.Catalog, resolver *security.Resolver, hooks *HookRegistry, cfg config.SecurityConfig) *Engine {
	if hooks == nil {
		hooks = NewHookRegistry()
	}
	e := &Engine{
		store:           st,
		catalog:         cat,
		resolver:        resolver,
		composer:        NewComposer(cat),
		hooks:           hooks,
		maxCascadeDepth: cfg.MaxCascadeDepth,
	}

	// Stamp hook presence onto the catalog so cascade planning and the bulk
	// fast path can route rows without consulting the registry per row.
	for _, t := range cat.All() {
		t.HasServiceLogic = hooks.HasServiceLogic(t.Name)
		t.HasDeleteLogic = hooks.HasDeleteLogic(t.Name)
	}
	return e
}

// Catalog exposes table metadata for transports and hooks.
func (e *Engine) Catalog() *catalog.Catalog {
	return e.catalog
}

// Resolver exposes permission resolution for transports.
func (e *Engine) Resolver() *security.Resolver {
	return e.resolver
}

// Read composes, lowers and executes a declarative read. The caller's highest
// READ level decides the injected security predicate; results come back with
// per-row capability flags.
func (e *Engine) Read(ctx context.Context, userID string, req *ReadRequest) Result {
	table := e.catalog.Lookup(req.Table)
	if table == nil {
		return Denied("Unknown table: %s", req.Table)
	}

	level, ok, err := e.resolver.TableLevel(ctx, userID, table.Name, string(OpRead))
	if err != nil {
		return Internal(err)
	}
	if !ok {
		return Denied("You do not have permission to read %s records.", table.Name)
	}

	caller := Caller{UserID: userID, Level: level}
	if level == security.LevelTeam {
		teams, err := e.resolver.TeamIDs(ctx, userID)
		if err != nil {
			return Internal(err)
		}
		caller.Teams = teams
	}

	plan, appErr := e.composer.Compose(req, caller)
	if appErr != nil {
		return Invalid("%s", appErr.Message)
	}

	sqlStr, params := LowerSelect(e.store.Dialect, plan)
	rows, err := store.QueryRows(ctx, e.store.DB, sqlStr, params...)
	if err != nil {
		log.Printf("read %s: %v", table.Name, err)
		return Internal(fmt.Errorf("read %s: %w", table.Name, err))
	}
	if e.store.Dialect.NeedsBoolFix() {
		store.NormalizeBooleans(rows, e.planBoolFields(plan))
	}

	shaped, err := e.shapeRows(ctx, userID, table, plan.Alias, rows)
	if err != nil {
		return Internal(err)
	}

	res := OK(shaped)
	if entries := e.hooks.readHooks(table.Name); len(entries) > 0 {
		pc := newRootContext(userID, table, OpRead, e.store.DB)
		pc.Params = req.Parameters
		if err := runHooks(ctx, e, pc, entries); err != nil {
			return Invalid("%s", err.Error())
		}
		if len(pc.Output) > 0 {
			res.Params = pc.Output
		}
	}
	return res
}

// Create inserts one record through the pipeline in its own transaction.
func (e *Engine) Create(ctx context.Context, userID string, req *WriteRequest) Result {
	return e.runWrite(ctx, userID, req, OpCreate)
}

// Update patches one record through the pipeline in its own transaction.
func (e *Engine) Update(ctx context.Context, userID string, req *WriteRequest) Result {
	return e.runWrite(ctx, userID, req, OpUpdate)
}

// Delete removes one record and its dependency cascade in one transaction.
func (e *Engine) Delete(ctx context.Context, userID string, req *WriteRequest) Result {
	return e.runWrite(ctx, userID, req, OpDelete)
}

// Upsert creates or updates depending on whether the identified row exists.
// Classification happens inside the transaction so a concurrent writer cannot
// flip the answer under us.
func (e *Engine) Upsert(ctx context.Context, userID string, req *WriteRequest) Result {
	return e.runWrite(ctx, userID, req, OpUpsert)
}

// RunChild executes a nested operation inside the transaction of the
// operation that spawned it. Hooks that need follow-up writes build a context
// via PipelineContext.Child and run it here; the nested work commits or rolls
// back with its root, never on its own.
func (e *Engine) RunChild(ctx context.Context, pc *PipelineContext) Result {
	if pc == nil || pc.Parent == nil {
		return Internal(fmt.Errorf("RunChild requires a context built by Child"))
	}
	return e.runPipeline(ctx, pc)
}

func (e *Engine) runWrite(ctx context.Context, userID string, req *WriteRequest, op Op) Result {
	table := e.catalog.Lookup(req.Table)
	if table == nil {
		return Denied("Unknown table: %s", req.Table)
	}

	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return Internal(err)
	}

	res := e.runWriteTx(ctx, tx, userID, table, req, op)
	if !res.Success {
		tx.Rollback()
		return res
	}
	if err := tx.Commit(); err != nil {
		return Internal(err)
	}
	return res
}

func (e *Engine) runWriteTx(ctx context.Context, q store.Querier, userID string, table *catalog.Table, req *WriteRequest, op Op) Result {
	id := writeID(table, req)

	if op == OpUpsert {
		if id == nil {
			op = OpCreate
		} else {
			_, err := FetchRecord(ctx, q, e.store.Dialect, table, id)
			switch {
			case errors.Is(err, store.ErrNotFound):
				op = OpCreate
			case err != nil:
				return Internal(err)
			default:
				op = OpUpdate
			}
		}
	}

	if op != OpCreate && id == nil {
		return Invalid("A %s id is required to %s.", table.Name, opVerb(op))
	}

	pc := newRootContext(userID, table, op, q)
	pc.Input = req.Fields
	if pc.Input == nil {
		pc.Input = make(map[string]any)
	}
	pc.Params = req.Parameters
	if op == OpCreate && id != nil {
		pc.Input[table.PrimaryKey.Field] = id
	}
	pc.ID = id
	return e.runPipeline(ctx, pc)
}

// writeID extracts the target row id from the request, preferring the
// explicit ID over a primary-key field in the payload.
func writeID(table *catalog.Table, req *WriteRequest) any {
	if req.ID != "" {
		return req.ID
	}
	if v, ok := req.Fields[table.PrimaryKey.Field]; ok && v != nil {
		if s, isStr := v.(string); !isStr || s != "" {
			return v
		}
	}
	return nil
}

// planBoolFields resolves which output columns hold booleans, by alias.
func (e *Engine) planBoolFields(p *Plan) []string {
	byAlias := map[string]*catalog.Table{p.Alias: p.Table}
	for _, j := range p.Joins {
		for _, t := range e.catalog.All() {
			if t.TableName == j.TableName {
				byAlias[j.Alias] = t
				break
			}
		}
	}
	var names []string
	for _, f := range p.Fields {
		t := byAlias[f.Alias]
		if t == nil {
			continue
		}
		if fd := t.GetField(f.Column); fd != nil && fd.Type == "boolean" {
			names = append(names, f.Out)
		}
	}
	return names
}

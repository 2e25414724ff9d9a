package engine

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"slate-backend/internal/catalog"
	"slate-backend/internal/store"
)

// BulkItemResult reports the outcome of one bulk item in request order.
type BulkItemResult struct {
	Index   int            `json:"index"`
	Op      Op             `json:"op"`
	Table   string         `json:"table"`
	Payload map[string]any `json:"data,omitempty"`
}

// deniedError carries a friendly denial out of a concurrent pre-check.
type deniedError struct{ msg string }

func (e *deniedError) Error() string { return e.msg }

// resolvedItem is a bulk item after table lookup and upsert reclassification.
type resolvedItem struct {
	index int
	op    Op
	table *catalog.Table
	req   *WriteRequest
	id    any
}

// Bulk runs a batch of mixed operations as one all-or-nothing transaction.
//
// The batch is checked before anything is written: upserts are reclassified
// against current data, table permissions resolve once per distinct
// table/operation pair, and row-level security for updates and deletes fans
// out per table in parallel against the live connection. Only then does the
// transaction open. Creates on tables without service logic persist through
// one batched insert per table; everything else runs the normal pipeline in
// request order. The first failure rolls the whole batch back.
func (e *Engine) Bulk(ctx context.Context, userID string, req *BulkRequest) Result {
	if len(req.Items) == 0 {
		return Invalid("A bulk request needs at least one item.")
	}

	items := make([]resolvedItem, 0, len(req.Items))
	for i, item := range req.Items {
		table := e.catalog.Lookup(item.Table)
		if table == nil {
			return Invalid("Item %d: unknown table %s.", i, item.Table)
		}
		switch item.Op {
		case OpCreate, OpUpdate, OpDelete, OpUpsert:
		default:
			return Invalid("Item %d: unsupported operation %s.", i, item.Op)
		}

		wr := &WriteRequest{Table: item.Table, Fields: item.Fields}
		ri := resolvedItem{index: i, op: item.Op, table: table, req: wr, id: writeID(table, wr)}

		if ri.op == OpUpsert {
			if ri.id == nil {
				ri.op = OpCreate
			} else {
				_, err := FetchRecord(ctx, e.store.DB, e.store.Dialect, table, ri.id)
				switch {
				case errors.Is(err, store.ErrNotFound):
					ri.op = OpCreate
				case err != nil:
					return Internal(err)
				default:
					ri.op = OpUpdate
				}
			}
		}
		if ri.op != OpCreate && ri.id == nil {
			return Invalid("Item %d: a %s id is required to %s.", i, table.Name, opVerb(ri.op))
		}
		items = append(items, ri)
	}

	if res := e.bulkPrecheck(ctx, userID, items); res != nil {
		return *res
	}

	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return Internal(err)
	}

	res := e.runBulkTx(ctx, tx, userID, items)
	if !res.Success {
		tx.Rollback()
		return res
	}
	if err := tx.Commit(); err != nil {
		return Internal(err)
	}
	return res
}

// bulkPrecheck resolves table permissions once per table/operation pair, then
// fans row-level checks for updates and deletes out per pair. Returns nil
// when the whole batch may proceed.
func (e *Engine) bulkPrecheck(ctx context.Context, userID string, items []resolvedItem) *Result {
	type permKey struct {
		table string
		op    Op
	}
	seen := make(map[permKey]bool)
	rowChecks := make(map[permKey][]any)
	rowTables := make(map[permKey]*catalog.Table)

	for _, ri := range items {
		key := permKey{table: ri.table.Name, op: ri.op}
		if !seen[key] {
			_, ok, err := e.resolver.TableLevel(ctx, userID, ri.table.Name, string(ri.op))
			if err != nil {
				return resultPtr(Internal(err))
			}
			if !ok {
				return resultPtr(Denied("You do not have permission to %s %s records.", opVerb(ri.op), ri.table.Name))
			}
			seen[key] = true
		}
		if ri.op == OpUpdate || ri.op == OpDelete {
			rowChecks[key] = append(rowChecks[key], ri.id)
			rowTables[key] = ri.table
		}
	}

	// Against the live connection, not the transaction; the pipeline
	// re-checks each row once the transaction holds it.
	g, gctx := errgroup.WithContext(ctx)
	for key, ids := range rowChecks {
		key, ids := key, ids
		table := rowTables[key]
		g.Go(func() error {
			level, _, err := e.resolver.TableLevel(gctx, userID, table.Name, string(key.op))
			if err != nil {
				return err
			}
			rows, err := e.store.FindByIDs(gctx, e.store.DB, table, ids)
			if err != nil {
				return err
			}
			found := make(map[string]bool, len(rows))
			for _, row := range rows {
				found[fmt.Sprintf("%v", row[table.PrimaryKey.Field])] = true
				d, err := e.resolver.CanAccessRow(gctx, userID, level, table, row)
				if err != nil {
					return err
				}
				if !d.Allowed {
					return &deniedError{msg: d.Reason}
				}
			}
			for _, id := range ids {
				if !found[fmt.Sprintf("%v", id)] {
					return &deniedError{msg: fmt.Sprintf(
						"The %s record was not found or you do not have access to it.", table.Name)}
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		var denied *deniedError
		if errors.As(err, &denied) {
			return resultPtr(Denied("%s", denied.msg))
		}
		return resultPtr(Internal(err))
	}
	return nil
}

func (e *Engine) runBulkTx(ctx context.Context, q store.Querier, userID string, items []resolvedItem) Result {
	root := newRootContext(userID, nil, OpCreate, q)
	results := make([]BulkItemResult, len(items))
	for _, ri := range items {
		results[ri.index] = BulkItemResult{Index: ri.index, Op: ri.op, Table: ri.table.Name}
	}

	// Pass 1: hook-free creates validate through the pipeline without
	// persisting, then land in one insert per table before anything else runs.
	type batch struct {
		table    *catalog.Table
		entities []map[string]any
	}
	batches := make(map[string]*batch)
	var batchOrder []string
	batched := make(map[int]bool)

	for _, ri := range items {
		if ri.op != OpCreate || ri.table.HasServiceLogic {
			continue
		}
		pc := root.Child(ri.table, OpCreate)
		pc.Input = ri.req.Fields
		if pc.Input == nil {
			pc.Input = make(map[string]any)
		}
		pc.Flags.PreventPersist = true
		if res := e.runPipeline(ctx, pc); !res.Success {
			res.FriendlyMessage = fmt.Sprintf("Item %d: %s", ri.index, res.FriendlyMessage)
			return res
		}
		b := batches[ri.table.Name]
		if b == nil {
			b = &batch{table: ri.table}
			batches[ri.table.Name] = b
			batchOrder = append(batchOrder, ri.table.Name)
		}
		b.entities = append(b.entities, pc.Entity)
		results[ri.index].Payload = pc.Entity
		batched[ri.index] = true
	}

	for _, name := range batchOrder {
		b := batches[name]
		sqlStr, params := BuildInsertManySQL(e.store.Dialect, b.table, b.entities)
		if _, err := store.Exec(ctx, q, sqlStr, params...); err != nil {
			if errors.Is(e.store.Dialect.MapError(err), store.ErrUniqueViolation) {
				return Invalid("A %s record with the same unique value already exists.", b.table.Name)
			}
			return Internal(err)
		}
	}

	// Pass 2: everything else in request order through the full pipeline.
	for _, ri := range items {
		if batched[ri.index] {
			continue
		}
		pc := root.Child(ri.table, ri.op)
		pc.Input = ri.req.Fields
		if pc.Input == nil {
			pc.Input = make(map[string]any)
		}
		pc.ID = ri.id
		res := e.runPipeline(ctx, pc)
		if !res.Success {
			res.FriendlyMessage = fmt.Sprintf("Item %d: %s", ri.index, res.FriendlyMessage)
			return res
		}
		if payload, ok := res.Payload.(map[string]any); ok {
			results[ri.index].Payload = payload
		}
	}

	return OK(results)
}

package engine

import (
	"context"

	"slate-backend/internal/catalog"
	"slate-backend/internal/security"
)

// RowCapabilities tells a client what it may do with a row it just read,
// so the UI can disable actions instead of offering doomed ones.
type RowCapabilities struct {
	CanUpdate bool `json:"can_update"`
	CanDelete bool `json:"can_delete"`
	CanAssign bool `json:"can_assign"`
}

// ShapedRow pairs a result row with its capability flags.
type ShapedRow struct {
	Entity map[string]any  `json:"entity"`
	UI     RowCapabilities `json:"ui"`
}

// shapeRows computes per-row capabilities for a read result. The update and
// delete levels resolve once per request; each row then runs the same
// ownership check a real write would. Rows keep their prefixed column names;
// the ownership fields were force-selected during composition exactly so this
// step can see them.
func (e *Engine) shapeRows(ctx context.Context, userID string, t *catalog.Table, alias string, rows []map[string]any) ([]ShapedRow, error) {
	updLevel, canUpd, err := e.resolver.TableLevel(ctx, userID, t.Name, string(OpUpdate))
	if err != nil {
		return nil, err
	}
	delLevel, canDel, err := e.resolver.TableLevel(ctx, userID, t.Name, string(OpDelete))
	if err != nil {
		return nil, err
	}

	shaped := make([]ShapedRow, 0, len(rows))
	for _, row := range rows {
		owner := ownershipView(t, alias, row)
		caps := RowCapabilities{}

		if canUpd {
			d, err := e.resolver.CanAccessRow(ctx, userID, updLevel, t, owner)
			if err != nil {
				return nil, err
			}
			caps.CanUpdate = d.Allowed
			caps.CanAssign = d.Allowed && updLevel >= security.LevelTeam
		}
		if canDel {
			d, err := e.resolver.CanAccessRow(ctx, userID, delLevel, t, owner)
			if err != nil {
				return nil, err
			}
			caps.CanDelete = d.Allowed
		}

		shaped = append(shaped, ShapedRow{Entity: row, UI: caps})
	}
	return shaped, nil
}

// ownershipView rebuilds an unprefixed record of the root table's ownership
// columns from a prefixed result row.
func ownershipView(t *catalog.Table, alias string, row map[string]any) map[string]any {
	owner := make(map[string]any)
	for _, name := range t.OwnershipFields() {
		owner[name] = row[alias+"_"+name]
	}
	owner[t.PrimaryKey.Field] = row[alias+"_"+t.PrimaryKey.Field]
	return owner
}

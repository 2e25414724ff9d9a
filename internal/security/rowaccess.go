package security

import (
	"context"
	"fmt"

	"slate-backend/internal/catalog"
)

// Decision is the outcome of a row-level check. Denials carry a friendly
// reason; they are expected results, never errors.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(format string, args ...any) Decision {
	return Decision{Allowed: false, Reason: fmt.Sprintf(format, args...)}
}

// CanAccessRow checks whether the caller, holding the given level for the
// operation, may touch the record. The record is the "before" snapshot for
// updates and deletes.
//
// System level always passes. Team level passes when the record's owning team
// is among the caller's teams, or the record's owning user is the caller.
// User level passes only when the record's owning user (or a custom owner
// field) is the caller.
func (r *Resolver) CanAccessRow(ctx context.Context, userID string, level Level, t *catalog.Table, record map[string]any) (Decision, error) {
	if level == LevelSystem {
		return allow(), nil
	}

	if t.OwningUser != "" && equalID(idString(record[t.OwningUser]), userID) {
		return allow(), nil
	}
	for _, custom := range t.CustomOwners {
		if equalID(idString(record[custom]), userID) {
			return allow(), nil
		}
	}

	if level == LevelTeam && t.OwningTeam != "" {
		team := idString(record[t.OwningTeam])
		if team != "" {
			onTeam, err := r.OnTeam(ctx, userID, team)
			if err != nil {
				return Decision{}, err
			}
			if onTeam {
				return allow(), nil
			}
		}
	}

	return deny("You do not have access to this %s record.", t.Name), nil
}

// CanAssign checks an ownership change, which is stricter than plain row
// access: unchanged ownership always passes, assigning to yourself always
// passes, team-level callers may assign only to their own teams, and
// user-level callers may never reassign to others.
func (r *Resolver) CanAssign(ctx context.Context, userID string, level Level, t *catalog.Table, before, after map[string]any) (Decision, error) {
	if level == LevelSystem {
		return allow(), nil
	}

	if t.OwningUser != "" {
		oldOwner := idString(before[t.OwningUser])
		newOwner := idString(after[t.OwningUser])
		if newOwner != "" && !equalID(oldOwner, newOwner) && !equalID(newOwner, userID) {
			return deny("You cannot assign this %s record to another user.", t.Name), nil
		}
	}

	if t.OwningTeam != "" {
		oldTeam := idString(before[t.OwningTeam])
		newTeam := idString(after[t.OwningTeam])
		if newTeam != "" && !equalID(oldTeam, newTeam) {
			if level != LevelTeam {
				return deny("You cannot assign this %s record to a team.", t.Name), nil
			}
			onTeam, err := r.OnTeam(ctx, userID, newTeam)
			if err != nil {
				return Decision{}, err
			}
			if !onTeam {
				return deny("You can only assign this %s record to your own teams.", t.Name), nil
			}
		}
	}

	return allow(), nil
}

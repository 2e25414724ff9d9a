package security

import (
	"context"
	"fmt"
	"strings"
	"time"

	"slate-backend/internal/config"
)

// Resolver answers "what access does user U have" from the AccessCache,
// falling back to the Source on misses. It is safe for concurrent use.
type Resolver struct {
	cache  *AccessCache
	src    Source
	window time.Duration
	retry  time.Duration

	// Injected in tests to avoid real sleeping.
	sleep func(time.Duration)
	now   func() time.Time
}

func NewResolver(src Source, cfg config.SecurityConfig) *Resolver {
	return &Resolver{
		cache:  NewAccessCache(),
		src:    src,
		window: cfg.PropagationWindow(),
		retry:  cfg.RetrySleep(),
		sleep:  time.Sleep,
		now:    time.Now,
	}
}

// SetClock overrides the time source and sleep function. Test-only.
func (r *Resolver) SetClock(now func() time.Time, sleep func(time.Duration)) {
	r.now = now
	r.sleep = sleep
}

// Cache exposes the underlying cache for targeted invalidation from the
// write path (role/permission/membership edits).
func (r *Resolver) Cache() *AccessCache {
	return r.cache
}

// EffectivePermissions returns the union of permissions granted through the
// user's own roles and through roles of every team the user belongs to. When
// names are given the result is restricted to that set.
//
// An unknown user is fetched lazily from the Source: a peer instance sharing
// the database may have created it moments ago. A known user with zero roles
// and zero teams created inside the propagation window triggers one bounded
// wait-and-retry before concluding "no access". Best effort, not a guarantee.
func (r *Resolver) EffectivePermissions(ctx context.Context, userID string, names ...string) ([]string, error) {
	roles, teams, err := r.membership(ctx, userID)
	if err != nil {
		return nil, err
	}

	if len(roles) == 0 && len(teams) == 0 && r.retry > 0 {
		if created, ok := r.cache.User(userID); ok && r.now().Sub(created) < r.window {
			r.sleep(r.retry)
			r.cache.InvalidateUser(userID)
			roles, teams, err = r.membership(ctx, userID)
			if err != nil {
				return nil, err
			}
		}
	}

	roleSet := make(map[string]bool, len(roles))
	for _, role := range roles {
		roleSet[role] = true
	}
	for _, team := range teams {
		teamRoles, err := r.teamRoles(ctx, team)
		if err != nil {
			return nil, err
		}
		for _, role := range teamRoles {
			roleSet[role] = true
		}
	}

	var want map[string]bool
	if len(names) > 0 {
		want = make(map[string]bool, len(names))
		for _, n := range names {
			want[n] = true
		}
	}

	seen := make(map[string]bool)
	var perms []string
	for role := range roleSet {
		rolePerms, err := r.rolePermissions(ctx, role)
		if err != nil {
			return nil, err
		}
		for _, p := range rolePerms {
			if seen[p] {
				continue
			}
			if want != nil && !want[p] {
				continue
			}
			seen[p] = true
			perms = append(perms, p)
		}
	}
	return perms, nil
}

// TableLevel resolves the caller's highest level for one table operation.
// The global administrator permission counts as System on every table.
func (r *Resolver) TableLevel(ctx context.Context, userID, table, op string) (Level, bool, error) {
	perms, err := r.EffectivePermissions(ctx, userID, append(TablePermissionNames(table, op), AdminPermission)...)
	if err != nil {
		return 0, false, err
	}
	level, ok := HighestLevel(perms)
	return level, ok, nil
}

// TeamIDs returns the teams the user belongs to.
func (r *Resolver) TeamIDs(ctx context.Context, userID string) ([]string, error) {
	_, teams, err := r.membership(ctx, userID)
	return teams, err
}

// OnTeam reports whether the user belongs to the given team.
func (r *Resolver) OnTeam(ctx context.Context, userID, teamID string) (bool, error) {
	teams, err := r.TeamIDs(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, t := range teams {
		if equalID(t, teamID) {
			return true, nil
		}
	}
	return false, nil
}

func (r *Resolver) membership(ctx context.Context, userID string) (roles, teams []string, err error) {
	if _, ok := r.cache.User(userID); ok {
		roles, _ = r.cache.UserRoles(userID)
		teams, _ = r.cache.UserTeams(userID)
		return roles, teams, nil
	}

	created, found, err := r.src.FetchUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	if !found {
		return nil, nil, nil
	}
	roles, err = r.src.FetchUserRoles(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	teams, err = r.src.FetchUserTeams(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	r.cache.SetUser(userID, created, roles, teams)
	return roles, teams, nil
}

func (r *Resolver) teamRoles(ctx context.Context, teamID string) ([]string, error) {
	if roles, ok := r.cache.TeamRoles(teamID); ok {
		return roles, nil
	}
	roles, err := r.src.FetchTeamRoles(ctx, teamID)
	if err != nil {
		return nil, err
	}
	r.cache.SetTeamRoles(teamID, roles)
	return roles, nil
}

func (r *Resolver) rolePermissions(ctx context.Context, roleID string) ([]string, error) {
	if perms, ok := r.cache.RolePermissions(roleID); ok {
		return perms, nil
	}
	perms, err := r.src.FetchRolePermissions(ctx, roleID)
	if err != nil {
		return nil, err
	}
	r.cache.SetRolePermissions(roleID, perms)
	return perms, nil
}

// equalID compares two id values case-insensitively; UUIDs round-trip through
// the database in varying cases.
func equalID(a, b string) bool {
	return strings.EqualFold(a, b)
}

// idString renders a record value for id comparison.
func idString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

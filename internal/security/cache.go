package security

import (
	"sync"
	"time"
)

// AccessCache holds the user/role/team/permission maps behind the resolver.
// Entries are populated lazily per key and invalidated individually; there is
// no whole-cache flush and no proactive expiry. Per-key atomic operations via
// sync.Map keep read-heavy concurrent access from serializing.
//
// Invariant: a user id present in userRoles or userTeams is also present in
// users; invalidating a user removes all three entries together.
type AccessCache struct {
	users     sync.Map // user id -> time.Time (creation time)
	userRoles sync.Map // user id -> []string (role ids)
	userTeams sync.Map // user id -> []string (team ids)
	teamRoles sync.Map // team id -> []string (role ids)
	rolePerms sync.Map // role id -> []string (permission names)
}

func NewAccessCache() *AccessCache {
	return &AccessCache{}
}

// User returns the cached creation time for a user.
func (c *AccessCache) User(id string) (time.Time, bool) {
	v, ok := c.users.Load(id)
	if !ok {
		return time.Time{}, false
	}
	return v.(time.Time), true
}

// SetUser stores a user with its roles and teams in one step, preserving the
// cache invariant.
func (c *AccessCache) SetUser(id string, createdAt time.Time, roles, teams []string) {
	c.users.Store(id, createdAt)
	c.userRoles.Store(id, roles)
	c.userTeams.Store(id, teams)
}

// UserRoles returns the cached role ids for a user.
func (c *AccessCache) UserRoles(id string) ([]string, bool) {
	return c.loadStrings(&c.userRoles, id)
}

// UserTeams returns the cached team ids for a user.
func (c *AccessCache) UserTeams(id string) ([]string, bool) {
	return c.loadStrings(&c.userTeams, id)
}

// TeamRoles returns the cached role ids for a team.
func (c *AccessCache) TeamRoles(id string) ([]string, bool) {
	return c.loadStrings(&c.teamRoles, id)
}

// SetTeamRoles stores a team's role ids.
func (c *AccessCache) SetTeamRoles(id string, roles []string) {
	c.teamRoles.Store(id, roles)
}

// RolePermissions returns the cached permission names for a role.
func (c *AccessCache) RolePermissions(id string) ([]string, bool) {
	return c.loadStrings(&c.rolePerms, id)
}

// SetRolePermissions stores a role's permission names.
func (c *AccessCache) SetRolePermissions(id string, perms []string) {
	c.rolePerms.Store(id, perms)
}

// InvalidateUser drops one user's entries. The next access re-fetches.
func (c *AccessCache) InvalidateUser(id string) {
	c.users.Delete(id)
	c.userRoles.Delete(id)
	c.userTeams.Delete(id)
}

// InvalidateTeam drops one team's role list.
func (c *AccessCache) InvalidateTeam(id string) {
	c.teamRoles.Delete(id)
}

// InvalidateRole drops one role's permission list.
func (c *AccessCache) InvalidateRole(id string) {
	c.rolePerms.Delete(id)
}

func (c *AccessCache) loadStrings(m *sync.Map, id string) ([]string, bool) {
	v, ok := m.Load(id)
	if !ok {
		return nil, false
	}
	return v.([]string), true
}

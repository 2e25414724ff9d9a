package security

import (
	"context"
	"testing"
	"time"

	"slate-backend/internal/catalog"
	"slate-backend/internal/config"
)

// fakeSource is an in-memory Source that counts fetches.
type fakeSource struct {
	users       map[string]time.Time
	userRoles   map[string][]string
	userTeams   map[string][]string
	teamRoles   map[string][]string
	rolePerms   map[string][]string
	userFetches int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		users:     make(map[string]time.Time),
		userRoles: make(map[string][]string),
		userTeams: make(map[string][]string),
		teamRoles: make(map[string][]string),
		rolePerms: make(map[string][]string),
	}
}

func (f *fakeSource) FetchUser(ctx context.Context, userID string) (time.Time, bool, error) {
	f.userFetches++
	created, ok := f.users[userID]
	return created, ok, nil
}

func (f *fakeSource) FetchUserRoles(ctx context.Context, userID string) ([]string, error) {
	return f.userRoles[userID], nil
}

func (f *fakeSource) FetchUserTeams(ctx context.Context, userID string) ([]string, error) {
	return f.userTeams[userID], nil
}

func (f *fakeSource) FetchTeamRoles(ctx context.Context, teamID string) ([]string, error) {
	return f.teamRoles[teamID], nil
}

func (f *fakeSource) FetchRolePermissions(ctx context.Context, roleID string) ([]string, error) {
	return f.rolePerms[roleID], nil
}

func testCfg() config.SecurityConfig {
	return config.SecurityConfig{PropagationWindowS: 5, RetrySleepS: 3, MaxCascadeDepth: 32}
}

func TestEffectivePermissionsUnionsUserAndTeamRoles(t *testing.T) {
	src := newFakeSource()
	src.users["u1"] = time.Now().Add(-time.Hour)
	src.userRoles["u1"] = []string{"r1"}
	src.userTeams["u1"] = []string{"t1"}
	src.teamRoles["t1"] = []string{"r2"}
	src.rolePerms["r1"] = []string{"TABLE_Order_READ_USER"}
	src.rolePerms["r2"] = []string{"TABLE_Order_READ_TEAM", "TABLE_Order_READ_USER"}

	r := NewResolver(src, testCfg())
	perms, err := r.EffectivePermissions(context.Background(), "u1")
	if err != nil {
		t.Fatalf("effective permissions: %v", err)
	}
	// Duplicates collapse: two distinct permission names total.
	if len(perms) != 2 {
		t.Fatalf("expected 2 permissions, got %v", perms)
	}
}

func TestEffectivePermissionsFilterByNames(t *testing.T) {
	src := newFakeSource()
	src.users["u1"] = time.Now().Add(-time.Hour)
	src.userRoles["u1"] = []string{"r1"}
	src.rolePerms["r1"] = []string{"TABLE_Order_READ_USER", "TABLE_Customer_READ_USER"}

	r := NewResolver(src, testCfg())
	perms, err := r.EffectivePermissions(context.Background(), "u1", "TABLE_Order_READ_USER")
	if err != nil {
		t.Fatalf("effective permissions: %v", err)
	}
	if len(perms) != 1 || perms[0] != "TABLE_Order_READ_USER" {
		t.Fatalf("expected filtered set, got %v", perms)
	}
}

func TestUnknownUserReturnsNoPermissions(t *testing.T) {
	r := NewResolver(newFakeSource(), testCfg())
	perms, err := r.EffectivePermissions(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("effective permissions: %v", err)
	}
	if len(perms) != 0 {
		t.Fatalf("expected no permissions, got %v", perms)
	}
}

func TestPropagationRetryForFreshEmptyUser(t *testing.T) {
	src := newFakeSource()
	now := time.Now()
	src.users["u1"] = now.Add(-1 * time.Second)

	r := NewResolver(src, testCfg())
	slept := false
	r.SetClock(func() time.Time { return now }, func(d time.Duration) {
		slept = true
		// Membership lands between first and second fetch.
		src.userRoles["u1"] = []string{"r1"}
		src.rolePerms["r1"] = []string{"TABLE_Order_READ_USER"}
	})

	perms, err := r.EffectivePermissions(context.Background(), "u1")
	if err != nil {
		t.Fatalf("effective permissions: %v", err)
	}
	if !slept {
		t.Fatal("expected the resolver to wait for propagation")
	}
	if len(perms) != 1 {
		t.Fatalf("expected permissions after retry, got %v", perms)
	}
}

func TestNoRetryForOldEmptyUser(t *testing.T) {
	src := newFakeSource()
	now := time.Now()
	src.users["u1"] = now.Add(-time.Hour)

	r := NewResolver(src, testCfg())
	r.SetClock(func() time.Time { return now }, func(d time.Duration) {
		t.Fatal("resolver slept for a user created outside the window")
	})

	if _, err := r.EffectivePermissions(context.Background(), "u1"); err != nil {
		t.Fatalf("effective permissions: %v", err)
	}
}

func TestNoRetryWhenDisabled(t *testing.T) {
	src := newFakeSource()
	now := time.Now()
	src.users["u1"] = now.Add(-1 * time.Second)

	cfg := testCfg()
	cfg.RetrySleepS = 0
	r := NewResolver(src, cfg)
	r.SetClock(func() time.Time { return now }, func(d time.Duration) {
		t.Fatal("resolver slept although retry is disabled")
	})

	if _, err := r.EffectivePermissions(context.Background(), "u1"); err != nil {
		t.Fatalf("effective permissions: %v", err)
	}
}

func TestMembershipCachedAcrossCalls(t *testing.T) {
	src := newFakeSource()
	src.users["u1"] = time.Now().Add(-time.Hour)
	src.userRoles["u1"] = []string{"r1"}
	src.rolePerms["r1"] = []string{"TABLE_Order_READ_USER"}

	r := NewResolver(src, testCfg())
	ctx := context.Background()
	if _, err := r.EffectivePermissions(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.EffectivePermissions(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	if src.userFetches != 1 {
		t.Fatalf("expected 1 source fetch, got %d", src.userFetches)
	}

	// Targeted invalidation forces a refetch for this user only.
	r.Cache().InvalidateUser("u1")
	if _, err := r.EffectivePermissions(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	if src.userFetches != 2 {
		t.Fatalf("expected refetch after invalidation, got %d fetches", src.userFetches)
	}
}

func ownedTable() *catalog.Table {
	return &catalog.Table{
		Name:       "Order",
		TableName:  "orders",
		PrimaryKey: catalog.PrimaryKey{Field: "id", Type: "uuid"},
		OwningUser: "owner_id",
		OwningTeam: "team_id",
		Fields: []catalog.Field{
			{Name: "id", Type: "uuid"},
			{Name: "owner_id", Type: "uuid"},
			{Name: "team_id", Type: "uuid", Nullable: true},
		},
	}
}

func TestCanAccessRow(t *testing.T) {
	src := newFakeSource()
	src.users["u1"] = time.Now().Add(-time.Hour)
	src.userTeams["u1"] = []string{"team-a"}
	r := NewResolver(src, testCfg())
	ctx := context.Background()
	tab := ownedTable()

	// System level ignores ownership entirely.
	d, err := r.CanAccessRow(ctx, "u1", LevelSystem, tab, map[string]any{"owner_id": "other"})
	if err != nil || !d.Allowed {
		t.Fatalf("system level should pass: %v %v", d, err)
	}

	// User level passes only on own records.
	d, _ = r.CanAccessRow(ctx, "u1", LevelUser, tab, map[string]any{"owner_id": "u1"})
	if !d.Allowed {
		t.Fatal("owner should access own record")
	}
	d, _ = r.CanAccessRow(ctx, "u1", LevelUser, tab, map[string]any{"owner_id": "u2"})
	if d.Allowed {
		t.Fatal("user level must not access another user's record")
	}
	if d.Reason == "" {
		t.Fatal("denial must carry a reason")
	}

	// Team level reaches team records and still reaches own records.
	d, _ = r.CanAccessRow(ctx, "u1", LevelTeam, tab, map[string]any{"owner_id": "u2", "team_id": "team-a"})
	if !d.Allowed {
		t.Fatal("team member should access team record")
	}
	d, _ = r.CanAccessRow(ctx, "u1", LevelTeam, tab, map[string]any{"owner_id": "u1", "team_id": nil})
	if !d.Allowed {
		t.Fatal("team level should still reach own records")
	}
	d, _ = r.CanAccessRow(ctx, "u1", LevelTeam, tab, map[string]any{"owner_id": "u2", "team_id": "team-b"})
	if d.Allowed {
		t.Fatal("team level must not reach foreign team records")
	}
}

func TestCanAccessRowIDsCompareCaseInsensitively(t *testing.T) {
	r := NewResolver(newFakeSource(), testCfg())
	tab := ownedTable()
	d, _ := r.CanAccessRow(context.Background(), "ABC-123", LevelUser, tab,
		map[string]any{"owner_id": "abc-123"})
	if !d.Allowed {
		t.Fatal("uuid case difference must not deny access")
	}
}

func TestCanAssign(t *testing.T) {
	src := newFakeSource()
	src.users["u1"] = time.Now().Add(-time.Hour)
	src.userTeams["u1"] = []string{"team-a"}
	r := NewResolver(src, testCfg())
	ctx := context.Background()
	tab := ownedTable()

	// Unchanged ownership always passes.
	before := map[string]any{"owner_id": "u2", "team_id": "team-b"}
	after := map[string]any{"owner_id": "u2", "team_id": "team-b"}
	d, _ := r.CanAssign(ctx, "u1", LevelUser, tab, before, after)
	if !d.Allowed {
		t.Fatal("unchanged ownership should pass")
	}

	// Assigning to yourself passes at any level.
	d, _ = r.CanAssign(ctx, "u1", LevelUser, tab, nil, map[string]any{"owner_id": "u1"})
	if !d.Allowed {
		t.Fatal("self-assignment should pass")
	}

	// User level may not hand records to someone else.
	d, _ = r.CanAssign(ctx, "u1", LevelUser, tab, nil, map[string]any{"owner_id": "u2"})
	if d.Allowed {
		t.Fatal("user level must not reassign to another user")
	}

	// Team level may assign to own teams only.
	d, _ = r.CanAssign(ctx, "u1", LevelTeam, tab, nil, map[string]any{"owner_id": "u1", "team_id": "team-a"})
	if !d.Allowed {
		t.Fatal("assignment to own team should pass")
	}
	d, _ = r.CanAssign(ctx, "u1", LevelTeam, tab, nil, map[string]any{"owner_id": "u1", "team_id": "team-z"})
	if d.Allowed {
		t.Fatal("assignment to foreign team must fail")
	}

	// System level may assign anywhere.
	d, _ = r.CanAssign(ctx, "u1", LevelSystem, tab, nil, map[string]any{"owner_id": "u9", "team_id": "team-z"})
	if !d.Allowed {
		t.Fatal("system level should assign freely")
	}
}

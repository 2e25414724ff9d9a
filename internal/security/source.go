package security

import (
	"context"
	"errors"
	"fmt"
	"time"

	"slate-backend/internal/store"
)

// Source fetches access-control records from the backing store. The resolver
// talks to it only on cache misses.
type Source interface {
	// FetchUser returns a user's creation time. ok=false when the user does
	// not exist anywhere, which is distinct from a query error.
	FetchUser(ctx context.Context, userID string) (createdAt time.Time, ok bool, err error)
	FetchUserRoles(ctx context.Context, userID string) ([]string, error)
	FetchUserTeams(ctx context.Context, userID string) ([]string, error)
	FetchTeamRoles(ctx context.Context, teamID string) ([]string, error)
	FetchRolePermissions(ctx context.Context, roleID string) ([]string, error)
}

// SQLSource reads the _users/_teams/_roles/_permissions system tables.
type SQLSource struct {
	store *store.Store
}

func NewSQLSource(s *store.Store) *SQLSource {
	return &SQLSource{store: s}
}

func (s *SQLSource) FetchUser(ctx context.Context, userID string) (time.Time, bool, error) {
	pb := s.store.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf("SELECT created_at FROM _users WHERE id = %s", pb.Add(userID))
	row, err := store.QueryRow(ctx, s.store.DB, sqlStr, pb.Params()...)
	if errors.Is(err, store.ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("fetch user %s: %w", userID, err)
	}
	created, _ := row["created_at"].(time.Time)
	return created, true, nil
}

func (s *SQLSource) FetchUserRoles(ctx context.Context, userID string) ([]string, error) {
	return s.fetchIDs(ctx, "SELECT role_id FROM _user_roles WHERE user_id = %s", "role_id", userID)
}

func (s *SQLSource) FetchUserTeams(ctx context.Context, userID string) ([]string, error) {
	return s.fetchIDs(ctx, "SELECT team_id FROM _team_users WHERE user_id = %s", "team_id", userID)
}

func (s *SQLSource) FetchTeamRoles(ctx context.Context, teamID string) ([]string, error) {
	return s.fetchIDs(ctx, "SELECT role_id FROM _team_roles WHERE team_id = %s", "role_id", teamID)
}

func (s *SQLSource) FetchRolePermissions(ctx context.Context, roleID string) ([]string, error) {
	return s.fetchIDs(ctx,
		"SELECT p.name AS name FROM _permissions p JOIN _role_permissions rp ON rp.permission_id = p.id WHERE rp.role_id = %s",
		"name", roleID)
}

func (s *SQLSource) fetchIDs(ctx context.Context, format, column, key string) ([]string, error) {
	pb := s.store.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf(format, pb.Add(key))
	rows, err := store.QueryRows(ctx, s.store.DB, sqlStr, pb.Params()...)
	if err != nil {
		return nil, fmt.Errorf("fetch access rows: %w", err)
	}
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		if v, ok := row[column].(string); ok {
			out = append(out, v)
		}
	}
	return out, nil
}

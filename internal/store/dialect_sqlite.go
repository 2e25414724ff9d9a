package store

import (
	"fmt"
	"strings"
)

type SQLiteDialect struct{}

func (d *SQLiteDialect) Name() string       { return "sqlite" }
func (d *SQLiteDialect) DriverName() string { return "sqlite" }

func (d *SQLiteDialect) NewParamBuilder() ParamBuilder { return &sqliteParamBuilder{} }

func (d *SQLiteDialect) NowExpr() string     { return "CURRENT_TIMESTAMP" }
func (d *SQLiteDialect) UUIDDefault() string { return "" }

func (d *SQLiteDialect) ColumnType(portable string) string {
	switch portable {
	case "UUID":
		return "TEXT"
	case "TIMESTAMPTZ":
		return "TEXT"
	case "DATE":
		return "TEXT"
	case "JSONB":
		return "TEXT"
	case "NUMERIC":
		return "REAL"
	case "BOOLEAN":
		return "INTEGER"
	default:
		return portable
	}
}

func (d *SQLiteDialect) InExpr(field string, pb ParamBuilder, values []any) string {
	placeholders := make([]string, len(values))
	for i, v := range values {
		placeholders[i] = pb.Add(v)
	}
	return fmt.Sprintf("%s IN (%s)", field, strings.Join(placeholders, ", "))
}

func (d *SQLiteDialect) NotInExpr(field string, pb ParamBuilder, values []any) string {
	placeholders := make([]string, len(values))
	for i, v := range values {
		placeholders[i] = pb.Add(v)
	}
	return fmt.Sprintf("%s NOT IN (%s)", field, strings.Join(placeholders, ", "))
}

func (d *SQLiteDialect) ContainsExpr(field string, pb ParamBuilder, pattern string) string {
	// LIKE is case-insensitive for ASCII in SQLite by default.
	return fmt.Sprintf("%s LIKE %s ESCAPE '\\'", field, pb.Add(pattern))
}

func (d *SQLiteDialect) AccessTablesSQL() string {
	return `
CREATE TABLE IF NOT EXISTS _users (
    id            TEXT PRIMARY KEY,
    name          TEXT NOT NULL,
    email         TEXT UNIQUE,
    password_hash TEXT,
    created_at    TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS _teams (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL UNIQUE,
    created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS _roles (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL UNIQUE,
    created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS _permissions (
    id   TEXT PRIMARY KEY,
    name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS _role_permissions (
    role_id       TEXT NOT NULL REFERENCES _roles(id) ON DELETE CASCADE,
    permission_id TEXT NOT NULL REFERENCES _permissions(id) ON DELETE CASCADE,
    PRIMARY KEY (role_id, permission_id)
);

CREATE TABLE IF NOT EXISTS _user_roles (
    user_id TEXT NOT NULL REFERENCES _users(id) ON DELETE CASCADE,
    role_id TEXT NOT NULL REFERENCES _roles(id) ON DELETE CASCADE,
    PRIMARY KEY (user_id, role_id)
);

CREATE TABLE IF NOT EXISTS _team_roles (
    team_id TEXT NOT NULL REFERENCES _teams(id) ON DELETE CASCADE,
    role_id TEXT NOT NULL REFERENCES _roles(id) ON DELETE CASCADE,
    PRIMARY KEY (team_id, role_id)
);

CREATE TABLE IF NOT EXISTS _team_users (
    team_id TEXT NOT NULL REFERENCES _teams(id) ON DELETE CASCADE,
    user_id TEXT NOT NULL REFERENCES _users(id) ON DELETE CASCADE,
    PRIMARY KEY (team_id, user_id)
);

CREATE TABLE IF NOT EXISTS _refresh_tokens (
    id         TEXT PRIMARY KEY,
    user_id    TEXT NOT NULL REFERENCES _users(id) ON DELETE CASCADE,
    token      TEXT NOT NULL UNIQUE,
    expires_at TEXT NOT NULL
);
`
}

func (d *SQLiteDialect) MapError(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %s", ErrUniqueViolation, err.Error())
	}
	return err
}

func (d *SQLiteDialect) NeedsBoolFix() bool { return true }

package security

import (
	"fmt"
	"strings"
)

// Level is the scope a permission grants: User < Team < System.
type Level int

const (
	LevelUser Level = iota + 1
	LevelTeam
	LevelSystem
)

func (l Level) String() string {
	switch l {
	case LevelUser:
		return "USER"
	case LevelTeam:
		return "TEAM"
	case LevelSystem:
		return "SYSTEM"
	}
	return "NONE"
}

const (
	suffixUser   = "_USER"
	suffixTeam   = "_TEAM"
	suffixSystem = "_SYSTEM"
)

// AdminPermission grants System level on every table operation.
const AdminPermission = "SYSTEM_ADMINISTRATOR_SYSTEM"

// HighestLevel scans a permission set and returns the strongest level suffix
// present. System beats Team beats User.
func HighestLevel(perms []string) (Level, bool) {
	for _, p := range perms {
		if strings.HasSuffix(p, suffixSystem) {
			return LevelSystem, true
		}
	}
	for _, p := range perms {
		if strings.HasSuffix(p, suffixTeam) {
			return LevelTeam, true
		}
	}
	for _, p := range perms {
		if strings.HasSuffix(p, suffixUser) {
			return LevelUser, true
		}
	}
	return 0, false
}

// TablePermission builds the canonical permission name for a table operation
// at a given level, e.g. TABLE_Order_READ_TEAM.
func TablePermission(table, op string, level Level) string {
	return fmt.Sprintf("TABLE_%s_%s_%s", table, strings.ToUpper(op), level)
}

// TablePermissionNames returns the three level variants for a table operation,
// strongest first.
func TablePermissionNames(table, op string) []string {
	return []string{
		TablePermission(table, op, LevelSystem),
		TablePermission(table, op, LevelTeam),
		TablePermission(table, op, LevelUser),
	}
}

package store

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Bootstrap creates the access-control system tables and seeds a first admin
// user when the store is empty.
func (s *Store) Bootstrap(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, s.Dialect.AccessTablesSQL()); err != nil {
		return fmt.Errorf("bootstrap access tables: %w", err)
	}
	if err := s.seedAdminUser(ctx); err != nil {
		return fmt.Errorf("seed admin user: %w", err)
	}
	return nil
}

func (s *Store) seedAdminUser(ctx context.Context) error {
	var count int
	if err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM _users").Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hashBytes, err := bcrypt.GenerateFromPassword([]byte("changeme"), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	userID := uuid.New().String()
	roleID := uuid.New().String()
	permID := uuid.New().String()
	pb := s.Dialect.NewParamBuilder()
	insertUser := fmt.Sprintf(
		"INSERT INTO _users (id, name, email, password_hash) VALUES (%s, %s, %s, %s)",
		pb.Add(userID), pb.Add("Administrator"), pb.Add("admin@localhost"), pb.Add(string(hashBytes)))
	if _, err := s.DB.ExecContext(ctx, insertUser, pb.Params()...); err != nil {
		return err
	}

	pb = s.Dialect.NewParamBuilder()
	insertRole := fmt.Sprintf("INSERT INTO _roles (id, name) VALUES (%s, %s)",
		pb.Add(roleID), pb.Add("Administrator"))
	if _, err := s.DB.ExecContext(ctx, insertRole, pb.Params()...); err != nil {
		return err
	}

	pb = s.Dialect.NewParamBuilder()
	insertPerm := fmt.Sprintf("INSERT INTO _permissions (id, name) VALUES (%s, %s)",
		pb.Add(permID), pb.Add("SYSTEM_ADMINISTRATOR_SYSTEM"))
	if _, err := s.DB.ExecContext(ctx, insertPerm, pb.Params()...); err != nil {
		return err
	}

	pb = s.Dialect.NewParamBuilder()
	linkPerm := fmt.Sprintf("INSERT INTO _role_permissions (role_id, permission_id) VALUES (%s, %s)",
		pb.Add(roleID), pb.Add(permID))
	if _, err := s.DB.ExecContext(ctx, linkPerm, pb.Params()...); err != nil {
		return err
	}

	pb = s.Dialect.NewParamBuilder()
	linkRole := fmt.Sprintf("INSERT INTO _user_roles (user_id, role_id) VALUES (%s, %s)",
		pb.Add(userID), pb.Add(roleID))
	if _, err := s.DB.ExecContext(ctx, linkRole, pb.Params()...); err != nil {
		return err
	}

	log.Println("WARNING: Default admin user created (admin@localhost / changeme) - change the password immediately.")
	return nil
}

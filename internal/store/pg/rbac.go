package pg

import (
	"context"
	"database/sql"
	"errors"

	"sentra.org/internal/identity"
	"sentra.org/internal/rbac"
)

// --- rbac.RoleStore ---

func (s *Store) FindRole(ctx context.Context, name string) (*rbac.Role, error) {
	var role rbac.Role
	var rank int
	err := s.db.QueryRowContext(ctx, `
		select name, rank, description from roles where name=$1
	`, name).Scan(&role.Name, &rank, &role.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rbac.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	role.Rank = rbac.Rank(rank)
	perms, err := s.rolePermissions(ctx, role.Name)
	if err != nil {
		return nil, err
	}
	role.Permissions = perms
	return &role, nil
}

func (s *Store) ListRoles(ctx context.Context) ([]*rbac.Role, error) {
	rows, err := s.db.QueryContext(ctx, `select name, rank, description from roles order by rank desc, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*rbac.Role
	for rows.Next() {
		var role rbac.Role
		var rank int
		if err := rows.Scan(&role.Name, &rank, &role.Description); err != nil {
			return nil, err
		}
		role.Rank = rbac.Rank(rank)
		out = append(out, &role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, role := range out {
		perms, err := s.rolePermissions(ctx, role.Name)
		if err != nil {
			return nil, err
		}
		role.Permissions = perms
	}
	return out, nil
}

func (s *Store) EnsureRoles(ctx context.Context, roles []rbac.Role) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, role := range roles {
		if _, err := tx.ExecContext(ctx, `
			insert into roles(name, rank, description) values ($1,$2,$3)
			on conflict (name) do update set rank=excluded.rank, description=excluded.description
		`, role.Name, int(role.Rank), role.Description); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_name=$1`, role.Name); err != nil {
			return err
		}
		for _, perm := range role.Permissions {
			if _, err := tx.ExecContext(ctx, `
				insert into role_permissions(role_name, permission) values ($1,$2)
			`, role.Name, perm); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

func (s *Store) rolePermissions(ctx context.Context, roleName string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		select permission from role_permissions where role_name=$1 order by permission
	`, roleName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// --- rbac.UserDirectory ---

func (s *Store) UserRoles(ctx context.Context, userID string) ([]string, error) {
	return s.userRoleNames(ctx, userID)
}

func (s *Store) SetUserRoles(ctx context.Context, userID string, roles []string) error {
	err := s.SetRoles(ctx, userID, roles)
	if errors.Is(err, identity.ErrNotFound) {
		return rbac.ErrNotFound
	}
	return err
}

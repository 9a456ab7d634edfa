package roles

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ciec-now/ciecnow/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListRoles returns all roles.
func (r *Repository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, created_at, updated_at FROM roles ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("roles: list: %w", err)
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

// GetRole fetches a role by ID.
func (r *Repository) GetRole(ctx context.Context, id int64) (Role, error) {
	var role Role
	err := r.pool.QueryRow(ctx, `SELECT id, name, created_at, updated_at FROM roles WHERE id = $1`, id).
		Scan(&role.ID, &role.Name, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, ErrNotFound
		}
		return Role{}, fmt.Errorf("roles: get: %w", err)
	}
	return role, nil
}

// CreateRole inserts a new role.
func (r *Repository) CreateRole(ctx context.Context, name string) (Role, error) {
	var role Role
	err := r.pool.QueryRow(ctx, `INSERT INTO roles (name, created_at, updated_at) VALUES ($1, NOW(), NOW())
RETURNING id, name, created_at, updated_at`, name).Scan(&role.ID, &role.Name, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		return Role{}, fmt.Errorf("roles: create: %w", err)
	}
	return role, nil
}

// RenameRole updates a role's display name.
func (r *Repository) RenameRole(ctx context.Context, id int64, name string) (Role, error) {
	var role Role
	err := r.pool.QueryRow(ctx, `UPDATE roles SET name = $2, updated_at = NOW() WHERE id = $1
RETURNING id, name, created_at, updated_at`, id, name).Scan(&role.ID, &role.Name, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, ErrNotFound
		}
		return Role{}, fmt.Errorf("roles: rename: %w", err)
	}
	return role, nil
}

// DeleteRole removes a role and its permission links.
func (r *Repository) DeleteRole(ctx context.Context, id int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, id); err != nil {
			return fmt.Errorf("roles: delete links: %w", err)
		}
		tag, err := tx.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("roles: delete: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// ListPermissions returns the static permission table.
func (r *Repository) ListPermissions(ctx context.Context) ([]Permission, error) {
	return r.queryPermissions(ctx, `SELECT id, action, subject FROM permissions ORDER BY action, subject`)
}

// RolePermissions returns the permissions linked to a role.
func (r *Repository) RolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	return r.queryPermissions(ctx, `SELECT p.id, p.action, p.subject
FROM role_permissions rp
JOIN permissions p ON p.id = rp.permission_id
WHERE rp.role_id = $1
ORDER BY p.action, p.subject`, roleID)
}

// ReplaceRolePermissions attaches missing links and detaches stale ones in one transaction.
func (r *Repository) ReplaceRolePermissions(ctx context.Context, roleID int64, attach, detach []int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, id := range attach {
			if _, err := tx.Exec(ctx, `INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2)
ON CONFLICT DO NOTHING`, roleID, id); err != nil {
				return fmt.Errorf("roles: attach permission %d: %w", id, err)
			}
		}
		for _, id := range detach {
			if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2`, roleID, id); err != nil {
				return fmt.Errorf("roles: detach permission %d: %w", id, err)
			}
		}
		return nil
	})
}

func (r *Repository) queryPermissions(ctx context.Context, sql string, args ...any) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("roles: permissions: %w", err)
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Action, &p.Subject); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}

var _ RepositoryPort = (*Repository)(nil)

package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates the requested actor does not exist.
var ErrNotFound = errors.New("access: not found")

// Store reads the role-permission tables directly.
type Store interface {
	RolePermissions(ctx context.Context, roleID int64) ([]string, error)
	CatalogPermissions(ctx context.Context) ([]string, error)
	ActorByUser(ctx context.Context, userID int64) (Actor, error)
}

// Repository implements Store on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// RolePermissions joins role_permissions with permissions for one role.
func (r *Repository) RolePermissions(ctx context.Context, roleID int64) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT p.action, p.subject
FROM role_permissions rp
JOIN permissions p ON p.id = rp.permission_id
WHERE rp.role_id = $1
ORDER BY p.action, p.subject`, roleID)
	if err != nil {
		return nil, fmt.Errorf("access: role permissions: %w", err)
	}
	return scanCapabilities(rows)
}

// CatalogPermissions returns every permission row.
func (r *Repository) CatalogPermissions(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT action, subject FROM permissions ORDER BY action, subject`)
	if err != nil {
		return nil, fmt.Errorf("access: catalog permissions: %w", err)
	}
	return scanCapabilities(rows)
}

// ActorByUser resolves the role assignment of a profile.
func (r *Repository) ActorByUser(ctx context.Context, userID int64) (Actor, error) {
	actor := Actor{UserID: userID}
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(p.role_id, 0), COALESCE(r.name, '')
FROM profiles p
LEFT JOIN roles r ON r.id = p.role_id
WHERE p.id = $1`, userID).Scan(&actor.RoleID, &actor.RoleName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Actor{}, ErrNotFound
		}
		return Actor{}, fmt.Errorf("access: actor by user: %w", err)
	}
	return actor, nil
}

func scanCapabilities(rows pgx.Rows) ([]string, error) {
	defer rows.Close()
	var out []string
	for rows.Next() {
		var action, subject string
		if err := rows.Scan(&action, &subject); err != nil {
			return nil, err
		}
		out = append(out, action+":"+subject)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

var _ Store = (*Repository)(nil)

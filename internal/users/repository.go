package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const profileColumns = `p.id, p.email, p.full_name, p.role_id, r.name, p.is_approved, p.created_at, p.updated_at`

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetProfile fetches one profile joined with its role.
func (r *Repository) GetProfile(ctx context.Context, id int64) (ProfileRecord, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+profileColumns+`
FROM profiles p
LEFT JOIN roles r ON r.id = p.role_id
WHERE p.id = $1`, id)
	rec, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ProfileRecord{}, ErrNotFound
		}
		return ProfileRecord{}, fmt.Errorf("users: get profile: %w", err)
	}
	return rec, nil
}

// ListProfiles returns all profiles ordered by name.
func (r *Repository) ListProfiles(ctx context.Context) ([]ProfileRecord, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+profileColumns+`
FROM profiles p
LEFT JOIN roles r ON r.id = p.role_id
ORDER BY p.full_name NULLS LAST, p.id`)
	if err != nil {
		return nil, fmt.Errorf("users: list profiles: %w", err)
	}
	defer rows.Close()
	var out []ProfileRecord
	for rows.Next() {
		rec, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// SetApproval toggles the approval flag.
func (r *Repository) SetApproval(ctx context.Context, id int64, approved bool) error {
	return r.exec(ctx, `UPDATE profiles SET is_approved = $2, updated_at = NOW() WHERE id = $1`, id, approved)
}

// AssignRole replaces the profile's role.
func (r *Repository) AssignRole(ctx context.Context, id, roleID int64) error {
	return r.exec(ctx, `UPDATE profiles SET role_id = $2, updated_at = NOW() WHERE id = $1`, id, roleID)
}

// DeleteProfile removes a profile row.
func (r *Repository) DeleteProfile(ctx context.Context, id int64) error {
	return r.exec(ctx, `DELETE FROM profiles WHERE id = $1`, id)
}

func (r *Repository) exec(ctx context.Context, sql string, args ...any) error {
	tag, err := r.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("users: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanProfile(row pgx.Row) (ProfileRecord, error) {
	var rec ProfileRecord
	err := row.Scan(&rec.ID, &rec.Email, &rec.FullName, &rec.RoleID, &rec.RoleName, &rec.IsApproved, &rec.CreatedAt, &rec.UpdatedAt)
	return rec, err
}

var _ RepositoryPort = (*Repository)(nil)

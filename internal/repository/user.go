package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"league-engine/internal/domain"
	"league-engine/internal/model"
)

// UserRepository handles participant directory persistence.
type UserRepository struct {
	q Querier
}

// NewUserRepository creates a new UserRepository instance.
func NewUserRepository(q Querier) *UserRepository {
	return &UserRepository{q: q}
}

const userColumns = `id, external_id, display_name, experience, priority, created_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(
		&u.ID,
		&u.ExternalID,
		&u.DisplayName,
		&u.Experience,
		&u.Priority,
		&u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Create creates a new directory entry with the default experience value.
func (r *UserRepository) Create(ctx context.Context, externalID, displayName string) (*model.User, error) {
	const query = `
		INSERT INTO users (external_id, display_name, created_at)
		VALUES ($1, $2, NOW())
		RETURNING ` + userColumns

	u, err := scanUser(r.q.QueryRow(ctx, query, externalID, displayName))
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return u, nil
}

// GetByID retrieves a user by internal id.
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*model.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	u, err := scanUser(r.q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFoundf("user %d", id)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// GetByExternalID retrieves a user by the caller's identifier.
func (r *UserRepository) GetByExternalID(ctx context.Context, externalID string) (*model.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE external_id = $1`

	u, err := scanUser(r.q.QueryRow(ctx, query, externalID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFoundf("user %q", externalID)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// GetOrCreate retrieves a user by external id, creating one if missing.
func (r *UserRepository) GetOrCreate(ctx context.Context, externalID, displayName string) (*model.User, bool, error) {
	// Try to get existing user first
	user, err := r.GetByExternalID(ctx, externalID)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, err
	}

	// User doesn't exist, create new one
	user, err = r.Create(ctx, externalID, displayName)
	if err != nil {
		// Handle race condition: another request might have created the user
		user, err = r.GetByExternalID(ctx, externalID)
		if err != nil {
			return nil, false, err
		}
		return user, false, nil
	}

	return user, true, nil
}

// UpdateDisplayName updates a user's display name.
func (r *UserRepository) UpdateDisplayName(ctx context.Context, id int64, displayName string) error {
	const query = `UPDATE users SET display_name = $2 WHERE id = $1`

	result, err := r.q.Exec(ctx, query, id, displayName)
	if err != nil {
		return fmt.Errorf("failed to update display name: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.NotFoundf("user %d", id)
	}
	return nil
}

// ListByIDs retrieves users for the given ids, in no particular order.
func (r *UserRepository) ListByIDs(ctx context.Context, ids []int64) ([]*model.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = ANY($1)`

	rows, err := r.q.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}
	return users, nil
}

// IncrementPriority bumps admission priority for every given user, used
// when applicants are rejected at pool close or a session fails to refill.
func (r *UserRepository) IncrementPriority(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	const query = `UPDATE users SET priority = priority + 1 WHERE id = ANY($1)`

	if _, err := r.q.Exec(ctx, query, ids); err != nil {
		return fmt.Errorf("failed to increment priority: %w", err)
	}
	return nil
}

// ResetPriority clears admission priority for every given user, used when
// applicants are admitted at pool close.
func (r *UserRepository) ResetPriority(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	const query = `UPDATE users SET priority = 0 WHERE id = ANY($1)`

	if _, err := r.q.Exec(ctx, query, ids); err != nil {
		return fmt.Errorf("failed to reset priority: %w", err)
	}
	return nil
}

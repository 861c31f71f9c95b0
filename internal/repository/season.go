package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"league-engine/internal/domain"
	"league-engine/internal/model"
)

// SeasonRepository handles season and participant registration persistence.
type SeasonRepository struct {
	q Querier
}

// NewSeasonRepository creates a new SeasonRepository instance.
func NewSeasonRepository(q Querier) *SeasonRepository {
	return &SeasonRepository{q: q}
}

const seasonColumns = `id, name, starts_at, ends_at, is_active, created_at`

func scanSeason(row pgx.Row) (*model.Season, error) {
	var s model.Season
	err := row.Scan(
		&s.ID,
		&s.Name,
		&s.StartsAt,
		&s.EndsAt,
		&s.IsActive,
		&s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Create creates a season. Activation is a separate step so the caller can
// deactivate the previous season in the same transaction.
func (r *SeasonRepository) Create(ctx context.Context, name string, startsAt time.Time) (*model.Season, error) {
	const query = `
		INSERT INTO seasons (name, starts_at, is_active, created_at)
		VALUES ($1, $2, FALSE, NOW())
		RETURNING ` + seasonColumns

	s, err := scanSeason(r.q.QueryRow(ctx, query, name, startsAt))
	if err != nil {
		return nil, fmt.Errorf("failed to create season: %w", err)
	}
	return s, nil
}

// GetByID retrieves a season by id.
func (r *SeasonRepository) GetByID(ctx context.Context, id int64) (*model.Season, error) {
	const query = `SELECT ` + seasonColumns + ` FROM seasons WHERE id = $1`

	s, err := scanSeason(r.q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFoundf("season %d", id)
		}
		return nil, fmt.Errorf("failed to get season: %w", err)
	}
	return s, nil
}

// GetActive retrieves the single active season.
func (r *SeasonRepository) GetActive(ctx context.Context) (*model.Season, error) {
	const query = `SELECT ` + seasonColumns + ` FROM seasons WHERE is_active ORDER BY starts_at DESC LIMIT 1`

	s, err := scanSeason(r.q.QueryRow(ctx, query))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFoundf("no active season")
		}
		return nil, fmt.Errorf("failed to get active season: %w", err)
	}
	return s, nil
}

// DeactivateAll clears the active flag on every season.
func (r *SeasonRepository) DeactivateAll(ctx context.Context) error {
	const query = `UPDATE seasons SET is_active = FALSE WHERE is_active`

	if _, err := r.q.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to deactivate seasons: %w", err)
	}
	return nil
}

// Activate marks one season active.
func (r *SeasonRepository) Activate(ctx context.Context, id int64) error {
	const query = `UPDATE seasons SET is_active = TRUE WHERE id = $1`

	result, err := r.q.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to activate season: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.NotFoundf("season %d", id)
	}
	return nil
}

// AddParticipant registers a user for a season. Idempotent.
func (r *SeasonRepository) AddParticipant(ctx context.Context, seasonID, userID int64) error {
	const query = `
		INSERT INTO season_participants (season_id, user_id, joined_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (season_id, user_id) DO NOTHING
	`

	if _, err := r.q.Exec(ctx, query, seasonID, userID); err != nil {
		return fmt.Errorf("failed to add participant: %w", err)
	}
	return nil
}

// IsParticipant reports whether the user is registered for the season.
func (r *SeasonRepository) IsParticipant(ctx context.Context, seasonID, userID int64) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM season_participants WHERE season_id = $1 AND user_id = $2)`

	var exists bool
	if err := r.q.QueryRow(ctx, query, seasonID, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check participant: %w", err)
	}
	return exists, nil
}

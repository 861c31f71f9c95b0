package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"league-engine/internal/domain"
	"league-engine/internal/model"
)

// ScoreRepository handles season score persistence. Rating and win_points
// columns are written exclusively through the settlement path; entry points
// through the pool path.
type ScoreRepository struct {
	q Querier
}

// NewScoreRepository creates a new ScoreRepository instance.
func NewScoreRepository(q Querier) *ScoreRepository {
	return &ScoreRepository{q: q}
}

const scoreColumns = `season_id, user_id, rating, seed_rating, win_points, entry_points, updated_at`

func scanScore(row pgx.Row) (*model.SeasonScore, error) {
	var s model.SeasonScore
	err := row.Scan(
		&s.SeasonID,
		&s.UserID,
		&s.Rating,
		&s.SeedRating,
		&s.WinPoints,
		&s.EntryPoints,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Get retrieves one participant's season score.
func (r *ScoreRepository) Get(ctx context.Context, seasonID, userID int64) (*model.SeasonScore, error) {
	const query = `SELECT ` + scoreColumns + ` FROM season_scores WHERE season_id = $1 AND user_id = $2`

	s, err := scanScore(r.q.QueryRow(ctx, query, seasonID, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFoundf("season score for user %d in season %d", userID, seasonID)
		}
		return nil, fmt.Errorf("failed to get season score: %w", err)
	}
	return s, nil
}

// Ensure creates the score row with the given seed rating if it does not
// exist yet, then returns the current row. The stored seed_rating is what
// a season recompute resets to.
func (r *ScoreRepository) Ensure(ctx context.Context, seasonID, userID int64, seed float64) (*model.SeasonScore, error) {
	const query = `
		INSERT INTO season_scores (season_id, user_id, rating, seed_rating, win_points, entry_points, updated_at)
		VALUES ($1, $2, $3, $3, 0, 0, NOW())
		ON CONFLICT (season_id, user_id) DO NOTHING
	`

	if _, err := r.q.Exec(ctx, query, seasonID, userID, seed); err != nil {
		return nil, fmt.Errorf("failed to ensure season score: %w", err)
	}
	return r.Get(ctx, seasonID, userID)
}

// ApplyDelta adds win and rating deltas to a score. Callers outside the
// settlement ledger must not use this; every applied delta needs a matching
// ledger entry.
func (r *ScoreRepository) ApplyDelta(ctx context.Context, seasonID, userID int64, winDelta int, rateDelta float64) error {
	const query = `
		UPDATE season_scores
		SET win_points = win_points + $3, rating = rating + $4, updated_at = NOW()
		WHERE season_id = $1 AND user_id = $2
	`

	result, err := r.q.Exec(ctx, query, seasonID, userID, winDelta, rateDelta)
	if err != nil {
		return fmt.Errorf("failed to apply score delta: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.NotFoundf("season score for user %d in season %d", userID, seasonID)
	}
	return nil
}

// AddEntryPoints adjusts participation points, positive on application,
// negative on withdrawal.
func (r *ScoreRepository) AddEntryPoints(ctx context.Context, seasonID, userID int64, points float64) error {
	const query = `
		UPDATE season_scores
		SET entry_points = entry_points + $3, updated_at = NOW()
		WHERE season_id = $1 AND user_id = $2
	`

	result, err := r.q.Exec(ctx, query, seasonID, userID, points)
	if err != nil {
		return fmt.Errorf("failed to add entry points: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.NotFoundf("season score for user %d in season %d", userID, seasonID)
	}
	return nil
}

// ResetToSeed rewinds every score in the season to its seed rating with
// zero win points. Entry points are left untouched; they are not part of
// the settled history.
func (r *ScoreRepository) ResetToSeed(ctx context.Context, seasonID int64) error {
	const query = `
		UPDATE season_scores
		SET rating = seed_rating, win_points = 0, updated_at = NOW()
		WHERE season_id = $1
	`

	if _, err := r.q.Exec(ctx, query, seasonID); err != nil {
		return fmt.Errorf("failed to reset season scores: %w", err)
	}
	return nil
}

// ListBySeason retrieves every score row of a season.
func (r *ScoreRepository) ListBySeason(ctx context.Context, seasonID int64) ([]*model.SeasonScore, error) {
	const query = `SELECT ` + scoreColumns + ` FROM season_scores WHERE season_id = $1 ORDER BY user_id`

	rows, err := r.q.Query(ctx, query, seasonID)
	if err != nil {
		return nil, fmt.Errorf("failed to list season scores: %w", err)
	}
	defer rows.Close()

	var scores []*model.SeasonScore
	for rows.Next() {
		s, err := scanScore(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan season score: %w", err)
		}
		scores = append(scores, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating season scores: %w", err)
	}
	return scores, nil
}

// Standings retrieves the leaderboard: entry points plus win points
// descending, rating as tiebreak.
func (r *ScoreRepository) Standings(ctx context.Context, seasonID int64, limit int) ([]*model.Standing, error) {
	const query = `
		SELECT s.user_id, u.display_name, s.entry_points, s.win_points, s.rating
		FROM season_scores s
		JOIN users u ON u.id = s.user_id
		WHERE s.season_id = $1
		ORDER BY s.entry_points + s.win_points DESC, s.rating DESC, s.user_id
		LIMIT $2
	`

	rows, err := r.q.Query(ctx, query, seasonID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get standings: %w", err)
	}
	defer rows.Close()

	var standings []*model.Standing
	for rows.Next() {
		var st model.Standing
		err := rows.Scan(
			&st.UserID,
			&st.DisplayName,
			&st.EntryPoints,
			&st.WinPoints,
			&st.Rating,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan standing: %w", err)
		}
		standings = append(standings, &st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating standings: %w", err)
	}
	return standings, nil
}

package service

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"league-engine/internal/model"
	"league-engine/internal/repository"
)

// StandingsService exposes the season leaderboard.
type StandingsService struct {
	pool *pgxpool.Pool
}

// NewStandingsService creates a new StandingsService instance.
func NewStandingsService(pool *pgxpool.Pool) *StandingsService {
	return &StandingsService{pool: pool}
}

// Leaderboard returns the season's top rows ordered by entry points plus
// win points descending, rating breaking ties.
func (s *StandingsService) Leaderboard(ctx context.Context, seasonID int64, limit int) ([]*model.Standing, error) {
	if limit <= 0 {
		limit = 10
	}
	return repository.NewScoreRepository(s.pool).Standings(ctx, seasonID, limit)
}

package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"league-engine/internal/model"
	"league-engine/internal/rating"
	"league-engine/internal/repository"
)

// SeasonService manages the season registry and the participant directory.
type SeasonService struct {
	pool *pgxpool.Pool
}

// NewSeasonService creates a new SeasonService instance.
func NewSeasonService(pool *pgxpool.Pool) *SeasonService {
	return &SeasonService{pool: pool}
}

// Create creates a season and makes it the single active one, deactivating
// any previously active season in the same transaction.
func (s *SeasonService) Create(ctx context.Context, name string, startsAt time.Time) (*model.Season, error) {
	var season *model.Season
	err := inTx(ctx, s.pool, func(st *repository.Store) error {
		if err := st.Seasons.DeactivateAll(ctx); err != nil {
			return err
		}
		created, err := st.Seasons.Create(ctx, name, startsAt)
		if err != nil {
			return err
		}
		if err := st.Seasons.Activate(ctx, created.ID); err != nil {
			return err
		}
		created.IsActive = true
		season = created
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create season: %w", err)
	}
	return season, nil
}

// FindActive looks up the active season. There is deliberately no cached
// "current season" anywhere in the engine; callers pass the returned id
// into every operation, which keeps multiple seasons usable side by side.
func (s *SeasonService) FindActive(ctx context.Context) (*model.Season, error) {
	return repository.NewSeasonRepository(s.pool).GetActive(ctx)
}

// EnsureUser gets or creates a directory entry for the caller's identifier,
// refreshing the display name when it changed.
func (s *SeasonService) EnsureUser(ctx context.Context, externalID, displayName string) (*model.User, error) {
	users := repository.NewUserRepository(s.pool)
	user, _, err := users.GetOrCreate(ctx, externalID, displayName)
	if err != nil {
		return nil, err
	}
	if user.DisplayName != displayName {
		if err := users.UpdateDisplayName(ctx, user.ID, displayName); err != nil {
			return nil, err
		}
		user.DisplayName = displayName
	}
	return user, nil
}

// Register enrolls a user in a season and seeds their score row from their
// lifetime experience value. Idempotent; an existing score keeps its rating.
func (s *SeasonService) Register(ctx context.Context, seasonID, userID int64) (*model.SeasonScore, error) {
	var score *model.SeasonScore
	err := inTx(ctx, s.pool, func(st *repository.Store) error {
		if _, err := st.Seasons.GetByID(ctx, seasonID); err != nil {
			return err
		}
		user, err := st.Users.GetByID(ctx, userID)
		if err != nil {
			return err
		}
		if err := st.Seasons.AddParticipant(ctx, seasonID, userID); err != nil {
			return err
		}
		score, err = st.Scores.Ensure(ctx, seasonID, userID, rating.Seed(user.Experience))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register participant: %w", err)
	}
	return score, nil
}

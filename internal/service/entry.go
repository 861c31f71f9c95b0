package service

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"league-engine/internal/domain"
	"league-engine/internal/model"
	"league-engine/internal/pkg/lock"
	"league-engine/internal/rating"
	"league-engine/internal/repository"
)

// entryPointsPerApplication is the participation credit granted on a
// confirmed application and taken back on withdrawal. Entry points are not
// part of the settled history and survive a season recompute.
const entryPointsPerApplication = 0.5

// EntryService manages the weekly entry pools and the priority-based
// admission sweep that turns applications into rooms.
type EntryService struct {
	pool  *pgxpool.Pool
	locks *lock.KeyedLock
	rules Rules
}

// NewEntryService creates a new EntryService instance.
func NewEntryService(pool *pgxpool.Pool, locks *lock.KeyedLock, rules Rules) *EntryService {
	return &EntryService{pool: pool, locks: locks, rules: rules}
}

// SessionRoster is one room created by a pool close, members ordered by
// rating descending.
type SessionRoster struct {
	Session   *model.Session
	MemberIDs []int64
}

// CloseResult is the outcome of one admission sweep.
type CloseResult struct {
	Pool     *model.EntryPool
	Sessions []*SessionRoster
	Admitted []int64
	Rejected []int64
}

// OpenPool creates the week's entry pool in open status, along with the
// placeholder session that marks the week until rooms are formed.
// Idempotent: an existing pool is returned as is.
func (s *EntryService) OpenPool(ctx context.Context, seasonID int64, week int) (*model.EntryPool, error) {
	var pool *model.EntryPool
	err := s.locks.WithLock(seasonID, func() error {
		return inTx(ctx, s.pool, func(st *repository.Store) error {
			if _, err := st.Seasons.GetByID(ctx, seasonID); err != nil {
				return err
			}

			created, err := st.Pools.Create(ctx, seasonID, week)
			if errors.Is(err, repository.ErrPoolExists) {
				pool, err = st.Pools.GetBySeasonWeek(ctx, seasonID, week)
				return err
			}
			if err != nil {
				return err
			}
			pool = created

			_, err = st.Sessions.GetPendingPlaceholder(ctx, seasonID, week)
			if errors.Is(err, domain.ErrNotFound) {
				_, err = st.Sessions.Create(ctx, seasonID, week, model.PendingRoomLabel,
					s.rules.RoomCapacity, model.SessionPending, time.Now())
			}
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return pool, nil
}

// Apply adds or reactivates a confirmed application. The pool must be open
// and the user registered for the season. Each transition into confirmed
// grants entry points; a reactivated application gets a fresh submission
// time, queueing behind same-priority applicants.
func (s *EntryService) Apply(ctx context.Context, poolID, userID int64) (*model.EntryApplication, error) {
	pool, err := repository.NewPoolRepository(s.pool).GetByID(ctx, poolID)
	if err != nil {
		return nil, err
	}

	var app *model.EntryApplication
	err = s.locks.WithLock(pool.SeasonID, func() error {
		return inTx(ctx, s.pool, func(st *repository.Store) error {
			pool, err := st.Pools.GetByID(ctx, poolID)
			if err != nil {
				return err
			}
			if pool.Status != model.PoolStatusOpen {
				return domain.InvalidStatef("entry pool %d is %s", poolID, pool.Status)
			}
			eligible, err := st.Seasons.IsParticipant(ctx, pool.SeasonID, userID)
			if err != nil {
				return err
			}
			if !eligible {
				return domain.Validationf("user %d is not registered for season %d", userID, pool.SeasonID)
			}

			existing, err := st.Pools.GetApplication(ctx, poolID, userID)
			switch {
			case errors.Is(err, domain.ErrNotFound):
				app, err = st.Pools.CreateApplication(ctx, poolID, userID)
				if err != nil {
					return err
				}
			case err != nil:
				return err
			case existing.Status == model.ApplicationConfirmed:
				app = existing
				return nil
			default:
				app, err = st.Pools.SetApplicationStatus(ctx, existing.ID, model.ApplicationConfirmed, true)
				if err != nil {
					return err
				}
			}

			user, err := st.Users.GetByID(ctx, userID)
			if err != nil {
				return err
			}
			if _, err := st.Scores.Ensure(ctx, pool.SeasonID, userID, rating.Seed(user.Experience)); err != nil {
				return err
			}
			return st.Scores.AddEntryPoints(ctx, pool.SeasonID, userID, entryPointsPerApplication)
		})
	})
	if err != nil {
		return nil, err
	}
	return app, nil
}

// Withdraw cancels an application while the pool is still open. Already
// canceled applications are a no-op; each transition into canceled takes
// the application's entry points back.
func (s *EntryService) Withdraw(ctx context.Context, poolID, userID int64) error {
	pool, err := repository.NewPoolRepository(s.pool).GetByID(ctx, poolID)
	if err != nil {
		return err
	}

	return s.locks.WithLock(pool.SeasonID, func() error {
		return inTx(ctx, s.pool, func(st *repository.Store) error {
			pool, err := st.Pools.GetByID(ctx, poolID)
			if err != nil {
				return err
			}
			if pool.Status != model.PoolStatusOpen {
				return domain.InvalidStatef("entry pool %d is %s", poolID, pool.Status)
			}
			app, err := st.Pools.GetApplication(ctx, poolID, userID)
			if err != nil {
				return err
			}
			if app.Status == model.ApplicationCanceled {
				return nil
			}
			if _, err := st.Pools.SetApplicationStatus(ctx, app.ID, model.ApplicationCanceled, false); err != nil {
				return err
			}
			return st.Scores.AddEntryPoints(ctx, pool.SeasonID, userID, -entryPointsPerApplication)
		})
	})
}

// ClosePool runs the one-shot admission sweep. Confirmed applications sort
// by (priority desc, submission time asc); the largest prefix that fills
// whole rooms is admitted, gets its priority reset and is chunked into
// scheduled sessions with match 1 created. Everyone outside the prefix gets
// a priority bump. With fewer than one room's worth of applicants the pool
// is canceled instead and every applicant gets the bump.
func (s *EntryService) ClosePool(ctx context.Context, poolID int64, scheduledAt time.Time) (*CloseResult, error) {
	pool, err := repository.NewPoolRepository(s.pool).GetByID(ctx, poolID)
	if err != nil {
		return nil, err
	}

	var result *CloseResult
	err = s.locks.WithLock(pool.SeasonID, func() error {
		return inTx(ctx, s.pool, func(st *repository.Store) error {
			pool, err := st.Pools.GetByID(ctx, poolID)
			if err != nil {
				return err
			}
			if pool.Status != model.PoolStatusOpen {
				return domain.InvalidStatef("entry pool %d is %s", poolID, pool.Status)
			}

			candidates, err := st.Pools.ListAdmissionCandidates(ctx, poolID)
			if err != nil {
				return err
			}
			ids := lo.Map(candidates, func(c *model.AdmissionCandidate, _ int) int64 { return c.UserID })

			admitCount := admitPrefix(len(ids), s.rules.RoomCapacity)
			admitted := ids[:admitCount]
			rejected := ids[admitCount:]

			if err := s.retirePlaceholder(ctx, st, pool); err != nil {
				return err
			}

			if admitCount == 0 {
				if err := st.Pools.Finalize(ctx, poolID, model.PoolStatusCanceled); err != nil {
					return err
				}
				if err := st.Users.IncrementPriority(ctx, rejected); err != nil {
					return err
				}
				pool.Status = model.PoolStatusCanceled
				result = &CloseResult{Pool: pool, Rejected: rejected}
				return nil
			}

			if err := st.Pools.Finalize(ctx, poolID, model.PoolStatusClosed); err != nil {
				return err
			}
			if err := st.Users.ResetPriority(ctx, admitted); err != nil {
				return err
			}
			if err := st.Users.IncrementPriority(ctx, rejected); err != nil {
				return err
			}

			rosters, err := s.buildRooms(ctx, st, pool, admitted, scheduledAt)
			if err != nil {
				return err
			}
			pool.Status = model.PoolStatusClosed
			result = &CloseResult{Pool: pool, Sessions: rosters, Admitted: admitted, Rejected: rejected}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	log.Info().
		Int64("pool_id", poolID).
		Str("status", result.Pool.Status).
		Int("admitted", len(result.Admitted)).
		Int("rejected", len(result.Rejected)).
		Int("rooms", len(result.Sessions)).
		Msg("Entry pool closed")
	return result, nil
}

// BumpPriorities increments admission priority for the given users. The
// session lifecycle signals this after an abandoned refill; the entry queue
// owns the priority field.
func (s *EntryService) BumpPriorities(ctx context.Context, userIDs []int64) error {
	return inTx(ctx, s.pool, func(st *repository.Store) error {
		return st.Users.IncrementPriority(ctx, userIDs)
	})
}

// admitPrefix returns the largest multiple of capacity not exceeding n: the
// length of the admitted prefix of the sorted candidate list.
func admitPrefix(n, capacity int) int {
	return n / capacity * capacity
}

// buildRooms chunks the admitted ids into capacity-size rooms, seeds every
// member's score, orders each room by rating descending and creates the
// scheduled session with its first match.
func (s *EntryService) buildRooms(ctx context.Context, st *repository.Store, pool *model.EntryPool, admitted []int64, scheduledAt time.Time) ([]*SessionRoster, error) {
	users, err := st.Users.ListByIDs(ctx, admitted)
	if err != nil {
		return nil, err
	}
	experience := make(map[int64]float64, len(users))
	for _, u := range users {
		experience[u.ID] = u.Experience
	}

	var rosters []*SessionRoster
	for i, chunk := range lo.Chunk(admitted, s.rules.RoomCapacity) {
		ratings := make(map[int64]float64, len(chunk))
		for _, id := range chunk {
			score, err := st.Scores.Ensure(ctx, pool.SeasonID, id, rating.Seed(experience[id]))
			if err != nil {
				return nil, err
			}
			ratings[id] = score.Rating
		}
		members := make([]int64, len(chunk))
		copy(members, chunk)
		sort.SliceStable(members, func(a, b int) bool {
			return ratings[members[a]] > ratings[members[b]]
		})

		sess, err := st.Sessions.Create(ctx, pool.SeasonID, pool.WeekNumber,
			strconv.Itoa(i+1), s.rules.RoomCapacity, model.SessionScheduled, scheduledAt)
		if err != nil {
			return nil, err
		}
		for _, id := range members {
			if err := st.Sessions.UpsertMember(ctx, sess.ID, id); err != nil {
				return nil, err
			}
		}
		if err := st.Sessions.EnsureStats(ctx, sess.ID, members); err != nil {
			return nil, err
		}
		if _, err := createNextMatch(ctx, st, sess); err != nil {
			return nil, err
		}
		rosters = append(rosters, &SessionRoster{Session: sess, MemberIDs: members})
	}
	return rosters, nil
}

// retirePlaceholder cancels the week's pending placeholder session, if one
// still exists. Both close outcomes retire it.
func (s *EntryService) retirePlaceholder(ctx context.Context, st *repository.Store, pool *model.EntryPool) error {
	placeholder, err := st.Sessions.GetPendingPlaceholder(ctx, pool.SeasonID, pool.WeekNumber)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return st.Sessions.UpdateStatus(ctx, placeholder.ID, model.SessionCanceled)
}

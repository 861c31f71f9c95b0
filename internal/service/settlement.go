package service

import (
	"context"
	"math"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"league-engine/internal/domain"
	"league-engine/internal/model"
	"league-engine/internal/pkg/lock"
	"league-engine/internal/rating"
	"league-engine/internal/repository"
)

// auditTolerance is the floating point slack allowed between the summed
// ledger deltas and a participant's actual rating movement.
const auditTolerance = 1e-6

// SettlementService is the rating-settlement ledger: the only component
// allowed to change a participant's rating or win points, and only ever
// alongside a matching ledger entry.
type SettlementService struct {
	pool  *pgxpool.Pool
	locks *lock.KeyedLock
	rules Rules
}

// NewSettlementService creates a new SettlementService instance.
func NewSettlementService(pool *pgxpool.Pool, locks *lock.KeyedLock, rules Rules) *SettlementService {
	return &SettlementService{pool: pool, locks: locks, rules: rules}
}

// AuditViolation is one participant whose rating the ledger fails to explain.
type AuditViolation struct {
	UserID     int64
	RateSum    float64
	Rating     float64
	SeedRating float64
	Drift      float64
}

// Settle converts one session's win counters into permanent season rating
// and win point changes. Idempotent and re-enterable: any existing entries
// for the session are rolled back first, so repeated or corrected
// settlement never double-counts.
func (s *SettlementService) Settle(ctx context.Context, seasonID, sessionID int64) error {
	return s.locks.WithLock(seasonID, func() error {
		return inTx(ctx, s.pool, func(st *repository.Store) error {
			sess, err := st.Sessions.GetByID(ctx, sessionID)
			if err != nil {
				return err
			}
			if sess.SeasonID != seasonID {
				return domain.Validationf("session %d belongs to season %d, not %d", sessionID, sess.SeasonID, seasonID)
			}
			return settleSession(ctx, st, seasonID, sessionID, s.rules.RatingK)
		})
	})
}

// Rollback subtracts and deletes one session's ledger entries without
// resettling, for reopening a session.
func (s *SettlementService) Rollback(ctx context.Context, seasonID, sessionID int64) error {
	return s.locks.WithLock(seasonID, func() error {
		return inTx(ctx, s.pool, func(st *repository.Store) error {
			return rollbackSession(ctx, st, seasonID, sessionID)
		})
	})
}

// RecomputeSeason rebuilds the whole season from raw match history: the
// ledger is wiped, every score rewinds to its seed (entry points stay), and
// every finished session replays in (scheduled_at, id) order with win
// counters recomputed purely from decided matches, carrying the evolving
// ratings forward. Deterministic for a given history.
func (s *SettlementService) RecomputeSeason(ctx context.Context, seasonID int64) error {
	err := s.locks.WithLock(seasonID, func() error {
		return inTx(ctx, s.pool, func(st *repository.Store) error {
			if _, err := st.Seasons.GetByID(ctx, seasonID); err != nil {
				return err
			}
			if _, err := st.Settlements.DeleteBySeason(ctx, seasonID); err != nil {
				return err
			}
			if err := st.Scores.ResetToSeed(ctx, seasonID); err != nil {
				return err
			}

			sessions, err := st.Sessions.ListFinishedBySeason(ctx, seasonID)
			if err != nil {
				return err
			}
			for _, sess := range sessions {
				if err := replayStats(ctx, st, sess); err != nil {
					return err
				}
				if err := settleSession(ctx, st, seasonID, sess.ID, s.rules.RatingK); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return err
	}
	log.Info().Int64("season_id", seasonID).Msg("Season recomputed from match history")
	return nil
}

// HasLaterSettlement is the edit-safety check consumed by the correction
// path: true when any of the given participants carries a nonzero rating
// delta settled for a session strictly later than the given one. A
// conservative staleness heuristic, not a causal dependency graph.
func (s *SettlementService) HasLaterSettlement(ctx context.Context, seasonID, sessionID int64, userIDs []int64) (bool, error) {
	sess, err := repository.NewSessionRepository(s.pool).GetByID(ctx, sessionID)
	if err != nil {
		return false, err
	}
	return repository.NewSettlementRepository(s.pool).HasLaterNonzero(ctx, seasonID, sess.ScheduledAt, sessionID, userIDs)
}

// AuditSeason verifies that the summed ledger deltas of every participant
// equal their rating movement from seed, within tolerance. Returns the
// violations, empty when the ledger is sound.
func (s *SettlementService) AuditSeason(ctx context.Context, seasonID int64) ([]AuditViolation, error) {
	sums, err := repository.NewSettlementRepository(s.pool).LedgerSums(ctx, seasonID)
	if err != nil {
		return nil, err
	}

	var violations []AuditViolation
	for _, sum := range sums {
		drift := math.Abs(sum.RateSum - (sum.Rating - sum.SeedRating))
		if drift > auditTolerance {
			violations = append(violations, AuditViolation{
				UserID:     sum.UserID,
				RateSum:    sum.RateSum,
				Rating:     sum.Rating,
				SeedRating: sum.SeedRating,
				Drift:      drift,
			})
		}
	}
	return violations, nil
}

// settleSession is the rollback-then-reapply core, run inside the caller's
// transaction. For every confirmed member's win counter it ensures a seeded
// score row, computes the rating delta against the field average and writes
// the score change together with its ledger entry under one batch id.
// Settlement attributes to the confirmed member set and nothing else.
func settleSession(ctx context.Context, st *repository.Store, seasonID, sessionID int64, k float64) error {
	if err := rollbackSession(ctx, st, seasonID, sessionID); err != nil {
		return err
	}

	stats, err := st.Sessions.ListConfirmedStats(ctx, sessionID)
	if err != nil {
		return err
	}
	if len(stats) == 0 {
		return nil
	}

	userIDs := lo.Map(stats, func(stat *model.SessionStat, _ int) int64 { return stat.UserID })
	users, err := st.Users.ListByIDs(ctx, userIDs)
	if err != nil {
		return err
	}
	experience := make(map[int64]float64, len(users))
	for _, u := range users {
		experience[u.ID] = u.Experience
	}

	scores := make(map[int64]*model.SeasonScore, len(stats))
	maxWins := 0
	total := 0.0
	for _, stat := range stats {
		score, err := st.Scores.Ensure(ctx, seasonID, stat.UserID, rating.Seed(experience[stat.UserID]))
		if err != nil {
			return err
		}
		scores[stat.UserID] = score
		total += score.Rating
		if stat.Wins > maxWins {
			maxWins = stat.Wins
		}
	}
	avg := total / float64(len(stats))

	batchID := uuid.New()
	for _, stat := range stats {
		score := scores[stat.UserID]
		delta := rating.Delta(score.Rating, stat.Wins, avg, maxWins, k)
		if err := st.Scores.ApplyDelta(ctx, seasonID, stat.UserID, stat.Wins, delta); err != nil {
			return err
		}
		if _, err := st.Settlements.Insert(ctx, seasonID, sessionID, stat.UserID, stat.Wins, delta, batchID); err != nil {
			return err
		}
	}
	return nil
}

// rollbackSession subtracts and deletes the session's ledger entries,
// restoring every affected score to its pre-settlement value.
func rollbackSession(ctx context.Context, st *repository.Store, seasonID, sessionID int64) error {
	entries, err := st.Settlements.ListBySession(ctx, seasonID, sessionID)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := st.Scores.ApplyDelta(ctx, seasonID, e.UserID, -e.WinDelta, -e.RateDelta); err != nil {
			return err
		}
	}
	_, err = st.Settlements.DeleteBySession(ctx, seasonID, sessionID)
	return err
}

// replayStats rewrites a session's win counters purely from its decided
// matches, ignoring whatever the stored counters say.
func replayStats(ctx context.Context, st *repository.Store, sess *model.Session) error {
	members, err := st.Sessions.ListConfirmedMemberIDs(ctx, sess.ID)
	if err != nil {
		return err
	}
	if err := st.Sessions.EnsureStats(ctx, sess.ID, members); err != nil {
		return err
	}
	if err := st.Sessions.ResetStats(ctx, sess.ID); err != nil {
		return err
	}

	matches, err := st.Matches.ListDecided(ctx, sess.ID)
	if err != nil {
		return err
	}
	for _, m := range matches {
		if err := st.Sessions.AddWins(ctx, sess.ID, roster(m, *m.Winner), 1); err != nil {
			return err
		}
	}
	return nil
}

package service

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"league-engine/internal/balance"
	"league-engine/internal/domain"
	"league-engine/internal/model"
	"league-engine/internal/pkg/lock"
	"league-engine/internal/rating"
	"league-engine/internal/repository"
)

// SessionService is the match-sequencing state machine for a room:
// scheduled -> live -> finished, with canceled <-> scheduled around refills.
type SessionService struct {
	pool  *pgxpool.Pool
	locks *lock.KeyedLock
	rules Rules
}

// NewSessionService creates a new SessionService instance.
func NewSessionService(pool *pgxpool.Pool, locks *lock.KeyedLock, rules Rules) *SessionService {
	return &SessionService{pool: pool, locks: locks, rules: rules}
}

// StartResult reports whether Start actually transitioned the session.
// Repeated start calls are expected and are not errors.
type StartResult struct {
	Session *model.Session
	Started bool
	Note    string
}

// OutcomeResult is the payload of a recorded match outcome.
type OutcomeResult struct {
	Match     *model.Match
	Stats     []*model.SessionStat
	Finished  bool
	NextMatch *model.Match
}

// CorrectionResult is the payload of a corrected match outcome.
type CorrectionResult struct {
	Match     *model.Match
	Stats     []*model.SessionStat
	Finished  bool
	Reopened  bool
	NextMatch *model.Match
}

// RefillResult reports a refill and, when it completed the room, the fresh
// open match.
type RefillResult struct {
	Session *model.Session
	Filled  bool
	Match   *model.Match
}

// seasonOf resolves the session's season id for lock scoping. The season id
// of a session never changes, so the unlocked read is safe.
func (s *SessionService) seasonOf(ctx context.Context, sessionID int64) (int64, error) {
	sess, err := repository.NewSessionRepository(s.pool).GetByID(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	return sess.SeasonID, nil
}

// Start moves a scheduled session to live, zeroes its win counters and makes
// sure exactly one open match exists. Calling it on an already live or
// finished session reports a note instead of failing.
func (s *SessionService) Start(ctx context.Context, sessionID int64) (*StartResult, error) {
	seasonID, err := s.seasonOf(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var result *StartResult
	err = s.locks.WithLock(seasonID, func() error {
		return inTx(ctx, s.pool, func(st *repository.Store) error {
			sess, err := st.Sessions.GetByID(ctx, sessionID)
			if err != nil {
				return err
			}
			switch sess.Status {
			case model.SessionLive:
				result = &StartResult{Session: sess, Started: false, Note: "session is already live"}
				return nil
			case model.SessionFinished:
				result = &StartResult{Session: sess, Started: false, Note: "session is already finished"}
				return nil
			case model.SessionScheduled:
			default:
				return domain.InvalidStatef("cannot start session %d in status %s", sessionID, sess.Status)
			}

			if err := st.Sessions.ResetStats(ctx, sessionID); err != nil {
				return err
			}
			open, err := st.Matches.HasOpen(ctx, sessionID)
			if err != nil {
				return err
			}
			if !open {
				if _, err := createNextMatch(ctx, st, sess); err != nil {
					return err
				}
			}
			if err := st.Sessions.UpdateStatus(ctx, sessionID, model.SessionLive); err != nil {
				return err
			}
			sess.Status = model.SessionLive
			result = &StartResult{Session: sess, Started: true, Note: "session is live"}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if result.Started {
		log.Info().Int64("session_id", sessionID).Msg("Session started")
	}
	return result, nil
}

// CreateNextMatch explicitly allocates the next match of a live or scheduled
// session. RecordOutcome normally does this automatically.
func (s *SessionService) CreateNextMatch(ctx context.Context, sessionID int64) (*model.Match, error) {
	seasonID, err := s.seasonOf(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var match *model.Match
	err = s.locks.WithLock(seasonID, func() error {
		return inTx(ctx, s.pool, func(st *repository.Store) error {
			sess, err := st.Sessions.GetByID(ctx, sessionID)
			if err != nil {
				return err
			}
			if sess.Status != model.SessionLive && sess.Status != model.SessionScheduled {
				return domain.InvalidStatef("cannot create a match for session %d in status %s", sessionID, sess.Status)
			}
			match, err = createNextMatch(ctx, st, sess)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return match, nil
}

// RecordOutcome decides the session's open match. The winning roster gains a
// win each; reaching the threshold settles the session and finishes it,
// otherwise the next match is created so exactly one stays open.
func (s *SessionService) RecordOutcome(ctx context.Context, sessionID int64, winner, stage string) (*OutcomeResult, error) {
	if !model.ValidWinner(winner) {
		return nil, domain.Validationf("winner must be %s or %s, got %q", model.WinnerA, model.WinnerB, winner)
	}
	seasonID, err := s.seasonOf(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var result *OutcomeResult
	err = s.locks.WithLock(seasonID, func() error {
		return inTx(ctx, s.pool, func(st *repository.Store) error {
			sess, err := st.Sessions.GetByID(ctx, sessionID)
			if err != nil {
				return err
			}
			if sess.Status != model.SessionLive {
				return domain.InvalidStatef("cannot record an outcome for session %d in status %s", sessionID, sess.Status)
			}

			open, err := st.Matches.GetOpen(ctx, sessionID)
			if err != nil {
				return err
			}
			decided, err := st.Matches.SetOutcome(ctx, open.ID, winner, stagePtr(stage))
			if err != nil {
				return err
			}
			if err := st.Sessions.AddWins(ctx, sessionID, roster(decided, winner), 1); err != nil {
				return err
			}

			result = &OutcomeResult{Match: decided}

			maxWins, err := st.Sessions.MaxWins(ctx, sessionID)
			if err != nil {
				return err
			}
			if maxWins >= s.rules.WinThreshold {
				if err := settleSession(ctx, st, sess.SeasonID, sessionID, s.rules.RatingK); err != nil {
					return err
				}
				if err := st.Sessions.UpdateStatus(ctx, sessionID, model.SessionFinished); err != nil {
					return err
				}
				result.Finished = true
			} else {
				next, err := createNextMatch(ctx, st, sess)
				if err != nil {
					return err
				}
				result.NextMatch = next
			}

			result.Stats, err = st.Sessions.ListStats(ctx, sessionID)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	log.Info().
		Int64("session_id", sessionID).
		Int("match_index", result.Match.MatchIndex).
		Str("winner", winner).
		Bool("finished", result.Finished).
		Msg("Match outcome recorded")
	return result, nil
}

// CorrectOutcome edits a decided match. It reverses the previous winner's
// increments and applies the new ones, then re-evaluates the ending
// condition: a finished session that no longer meets it is reopened with
// its settlement rolled back, and a session that (still or newly) meets it
// is resettled. The rollback-then-reapply ledger makes both safe.
//
// The edit is refused with a stale-edit error when any participant this
// session settled already has a nonzero-rating settlement for a later
// session, since that session consumed this one's post-settlement rating.
func (s *SessionService) CorrectOutcome(ctx context.Context, sessionID int64, matchIndex int, newWinner, newStage string) (*CorrectionResult, error) {
	if !model.ValidWinner(newWinner) {
		return nil, domain.Validationf("winner must be %s or %s, got %q", model.WinnerA, model.WinnerB, newWinner)
	}
	seasonID, err := s.seasonOf(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var result *CorrectionResult
	err = s.locks.WithLock(seasonID, func() error {
		return inTx(ctx, s.pool, func(st *repository.Store) error {
			sess, err := st.Sessions.GetByID(ctx, sessionID)
			if err != nil {
				return err
			}
			if sess.Status != model.SessionLive && sess.Status != model.SessionFinished {
				return domain.InvalidStatef("cannot correct a match for session %d in status %s", sessionID, sess.Status)
			}

			match, err := st.Matches.GetByIndex(ctx, sessionID, matchIndex)
			if err != nil {
				return err
			}
			if match.Winner == nil {
				return domain.InvalidStatef("match %d in session %d is still open; record its outcome instead", matchIndex, sessionID)
			}

			settled := sess.Status == model.SessionFinished
			if settled {
				// Guard against the users the session actually settled,
				// not the current member set.
				entries, err := st.Settlements.ListBySession(ctx, sess.SeasonID, sessionID)
				if err != nil {
					return err
				}
				settledIDs := lo.Map(entries, func(e *model.SettlementEntry, _ int) int64 { return e.UserID })
				stale, err := st.Settlements.HasLaterNonzero(ctx, sess.SeasonID, sess.ScheduledAt, sessionID, settledIDs)
				if err != nil {
					return err
				}
				if stale {
					return domain.StaleEditf("a later session already settled against ratings from session %d", sessionID)
				}
			}

			oldWinner := *match.Winner
			if oldWinner != newWinner {
				if err := st.Sessions.AddWins(ctx, sessionID, roster(match, oldWinner), -1); err != nil {
					return err
				}
				if err := st.Sessions.AddWins(ctx, sessionID, roster(match, newWinner), 1); err != nil {
					return err
				}
			}
			corrected, err := st.Matches.SetOutcome(ctx, match.ID, newWinner, stagePtr(newStage))
			if err != nil {
				return err
			}
			result = &CorrectionResult{Match: corrected}

			maxWins, err := st.Sessions.MaxWins(ctx, sessionID)
			if err != nil {
				return err
			}
			switch {
			case maxWins >= s.rules.WinThreshold:
				// Ending condition met: (re)settle. Drop any open match so
				// the finished session ends clean.
				if err := settleSession(ctx, st, sess.SeasonID, sessionID, s.rules.RatingK); err != nil {
					return err
				}
				if _, err := st.Matches.DeleteOpen(ctx, sessionID); err != nil {
					return err
				}
				if !settled {
					if err := st.Sessions.UpdateStatus(ctx, sessionID, model.SessionFinished); err != nil {
						return err
					}
				}
				result.Finished = true
			case settled:
				// The session was finished but the corrected state no longer
				// meets the ending condition: reopen it. Roll the settlement
				// back, revert to live and restore the one-open-match
				// invariant with a fresh match.
				if err := rollbackSession(ctx, st, sess.SeasonID, sessionID); err != nil {
					return err
				}
				if err := st.Sessions.UpdateStatus(ctx, sessionID, model.SessionLive); err != nil {
					return err
				}
				sess.Status = model.SessionLive
				if _, err := st.Matches.DeleteOpen(ctx, sessionID); err != nil {
					return err
				}
				next, err := createNextMatch(ctx, st, sess)
				if err != nil {
					return err
				}
				result.Reopened = true
				result.NextMatch = next
			}

			result.Stats, err = st.Sessions.ListStats(ctx, sessionID)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	log.Info().
		Int64("session_id", sessionID).
		Int("match_index", matchIndex).
		Str("winner", newWinner).
		Bool("reopened", result.Reopened).
		Msg("Match outcome corrected")
	return result, nil
}

// Dropout withdraws a member from a session that has not gone live. The
// session stays scheduled under capacity, waiting for a refill; its open
// match is discarded because the roster is no longer valid, and the
// member's win counter goes with the membership so settlement only ever
// sees players who were in the room.
func (s *SessionService) Dropout(ctx context.Context, sessionID, userID int64) error {
	seasonID, err := s.seasonOf(ctx, sessionID)
	if err != nil {
		return err
	}

	return s.locks.WithLock(seasonID, func() error {
		return inTx(ctx, s.pool, func(st *repository.Store) error {
			sess, err := st.Sessions.GetByID(ctx, sessionID)
			if err != nil {
				return err
			}
			if sess.Status != model.SessionScheduled {
				return domain.InvalidStatef("cannot drop out of session %d in status %s", sessionID, sess.Status)
			}
			member, err := st.Sessions.GetMember(ctx, sessionID, userID)
			if err != nil {
				return err
			}
			if member.Status == model.MemberCanceled {
				return nil
			}
			if err := st.Sessions.SetMemberStatus(ctx, sessionID, userID, model.MemberCanceled); err != nil {
				return err
			}
			if err := st.Sessions.DeleteStat(ctx, sessionID, userID); err != nil {
				return err
			}
			_, err = st.Matches.DeleteOpen(ctx, sessionID)
			return err
		})
	})
}

// Refill adds a participant to an under-capacity scheduled session or to a
// canceled one that never progressed, reactivating a withdrawn membership
// if present. Reaching capacity recreates the open match and moves a
// canceled session back to scheduled.
func (s *SessionService) Refill(ctx context.Context, sessionID, userID int64) (*RefillResult, error) {
	seasonID, err := s.seasonOf(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var result *RefillResult
	err = s.locks.WithLock(seasonID, func() error {
		return inTx(ctx, s.pool, func(st *repository.Store) error {
			sess, err := st.Sessions.GetByID(ctx, sessionID)
			if err != nil {
				return err
			}
			if sess.Status != model.SessionScheduled && sess.Status != model.SessionCanceled {
				return domain.InvalidStatef("session %d is not joinable in status %s", sessionID, sess.Status)
			}
			if sess.Status == model.SessionCanceled {
				decided, err := st.Matches.ListDecided(ctx, sessionID)
				if err != nil {
					return err
				}
				if len(decided) > 0 {
					return domain.InvalidStatef("session %d already progressed and cannot be refilled", sessionID)
				}
			}

			count, err := st.Sessions.CountConfirmedMembers(ctx, sessionID)
			if err != nil {
				return err
			}
			if count >= sess.Capacity {
				return domain.Capacityf("session %d is full (%d/%d)", sessionID, count, sess.Capacity)
			}

			eligible, err := st.Seasons.IsParticipant(ctx, sess.SeasonID, userID)
			if err != nil {
				return err
			}
			if !eligible {
				return domain.Validationf("user %d is not registered for season %d", userID, sess.SeasonID)
			}

			user, err := st.Users.GetByID(ctx, userID)
			if err != nil {
				return err
			}
			if _, err := st.Scores.Ensure(ctx, sess.SeasonID, userID, rating.Seed(user.Experience)); err != nil {
				return err
			}
			if err := st.Sessions.UpsertMember(ctx, sessionID, userID); err != nil {
				return err
			}
			if err := st.Sessions.EnsureStats(ctx, sessionID, []int64{userID}); err != nil {
				return err
			}

			result = &RefillResult{Session: sess}
			if count+1 < sess.Capacity {
				return nil
			}

			// Room complete again.
			if sess.Status == model.SessionCanceled {
				if err := st.Sessions.UpdateStatus(ctx, sessionID, model.SessionScheduled); err != nil {
					return err
				}
				sess.Status = model.SessionScheduled
			}
			open, err := st.Matches.HasOpen(ctx, sessionID)
			if err != nil {
				return err
			}
			if !open {
				result.Match, err = createNextMatch(ctx, st, sess)
				if err != nil {
					return err
				}
			}
			result.Filled = true
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CancelRefill abandons a session that failed to refill. It returns the
// remaining confirmed member ids; the caller routes them through
// EntryService.BumpPriorities so they are favored at the next pool close.
func (s *SessionService) CancelRefill(ctx context.Context, sessionID int64) ([]int64, error) {
	seasonID, err := s.seasonOf(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var remaining []int64
	err = s.locks.WithLock(seasonID, func() error {
		return inTx(ctx, s.pool, func(st *repository.Store) error {
			sess, err := st.Sessions.GetByID(ctx, sessionID)
			if err != nil {
				return err
			}
			if sess.Status != model.SessionScheduled && sess.Status != model.SessionCanceled {
				return domain.InvalidStatef("cannot abandon session %d in status %s", sessionID, sess.Status)
			}
			if _, err := st.Matches.DeleteOpen(ctx, sessionID); err != nil {
				return err
			}
			if sess.Status != model.SessionCanceled {
				if err := st.Sessions.UpdateStatus(ctx, sessionID, model.SessionCanceled); err != nil {
					return err
				}
			}
			remaining, err = st.Sessions.ListConfirmedMemberIDs(ctx, sessionID)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	log.Info().Int64("session_id", sessionID).Int("remaining", len(remaining)).Msg("Session abandoned after failed refill")
	return remaining, nil
}

// createNextMatch allocates the session's next match: pulls every confirmed
// member's win counter (lazily creating missing ones at zero), balances the
// teams and persists an open match at last_index+1. The session must be at
// capacity and must not already have an open match.
func createNextMatch(ctx context.Context, st *repository.Store, sess *model.Session) (*model.Match, error) {
	members, err := st.Sessions.ListConfirmedMemberIDs(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	if len(members) != sess.Capacity {
		return nil, domain.Capacityf("session %d has %d members, needs %d", sess.ID, len(members), sess.Capacity)
	}

	open, err := st.Matches.HasOpen(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	if open {
		return nil, domain.InvalidStatef("session %d already has an open match", sess.ID)
	}

	if err := st.Sessions.EnsureStats(ctx, sess.ID, members); err != nil {
		return nil, err
	}
	stats, err := st.Sessions.ListStats(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	wins := make(map[int64]int, len(stats))
	for _, stat := range stats {
		wins[stat.UserID] = stat.Wins
	}

	players := make([]balance.Player, len(members))
	for i, id := range members {
		players[i] = balance.Player{ID: id, Wins: wins[id]}
	}
	teamA, teamB, err := balance.Split(players)
	if err != nil {
		return nil, domain.Wrapf(domain.CodeCapacity, err, "cannot split session %d into teams", sess.ID)
	}

	last, err := st.Matches.LastIndex(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	return st.Matches.Create(ctx, sess.ID, last+1, teamA, teamB)
}

// roster returns the member ids of one side of a match.
func roster(m *model.Match, side string) []int64 {
	if side == model.WinnerA {
		return m.TeamA
	}
	return m.TeamB
}

func stagePtr(stage string) *string {
	if stage == "" {
		return nil
	}
	return &stage
}

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

// SessionRepository handles room, membership and win-counter persistence.
type SessionRepository struct {
	q Querier
}

// NewSessionRepository creates a new SessionRepository instance.
func NewSessionRepository(q Querier) *SessionRepository {
	return &SessionRepository{q: q}
}

const sessionColumns = `id, season_id, week_number, room_label, capacity, status, scheduled_at, created_at`

func scanSession(row pgx.Row) (*model.Session, error) {
	var s model.Session
	err := row.Scan(
		&s.ID,
		&s.SeasonID,
		&s.WeekNumber,
		&s.RoomLabel,
		&s.Capacity,
		&s.Status,
		&s.ScheduledAt,
		&s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Create creates a session in the given status.
func (r *SessionRepository) Create(ctx context.Context, seasonID int64, week int, roomLabel string, capacity int, status string, scheduledAt time.Time) (*model.Session, error) {
	const query = `
		INSERT INTO sessions (season_id, week_number, room_label, capacity, status, scheduled_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING ` + sessionColumns

	s, err := scanSession(r.q.QueryRow(ctx, query, seasonID, week, roomLabel, capacity, status, scheduledAt))
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return s, nil
}

// GetByID retrieves a session by id.
func (r *SessionRepository) GetByID(ctx context.Context, id int64) (*model.Session, error) {
	const query = `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`

	s, err := scanSession(r.q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFoundf("session %d", id)
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

// GetPendingPlaceholder retrieves the week's placeholder session, if any.
func (r *SessionRepository) GetPendingPlaceholder(ctx context.Context, seasonID int64, week int) (*model.Session, error) {
	const query = `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE season_id = $1 AND week_number = $2 AND room_label = $3 AND status = 'pending'
	`

	s, err := scanSession(r.q.QueryRow(ctx, query, seasonID, week, model.PendingRoomLabel))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFoundf("pending session for season %d week %d", seasonID, week)
		}
		return nil, fmt.Errorf("failed to get pending session: %w", err)
	}
	return s, nil
}

// UpdateStatus moves a session to a new lifecycle status. State validation
// belongs to the service; this only persists the move.
func (r *SessionRepository) UpdateStatus(ctx context.Context, id int64, status string) error {
	const query = `UPDATE sessions SET status = $2 WHERE id = $1`

	result, err := r.q.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.NotFoundf("session %d", id)
	}
	return nil
}

// ListFinishedBySeason retrieves finished sessions in replay order:
// scheduled time ascending, id as tiebreak.
func (r *SessionRepository) ListFinishedBySeason(ctx context.Context, seasonID int64) ([]*model.Session, error) {
	const query = `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE season_id = $1 AND status = 'finished'
		ORDER BY scheduled_at ASC, id ASC
	`

	rows, err := r.q.Query(ctx, query, seasonID)
	if err != nil {
		return nil, fmt.Errorf("failed to list finished sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*model.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}
	return sessions, nil
}

// UpsertMember adds a confirmed member, reactivating a canceled membership
// if one exists. Capacity checks belong to the service.
func (r *SessionRepository) UpsertMember(ctx context.Context, sessionID, userID int64) error {
	const query = `
		INSERT INTO session_members (session_id, user_id, status, joined_at)
		VALUES ($1, $2, 'confirmed', NOW())
		ON CONFLICT (session_id, user_id) DO UPDATE SET status = 'confirmed'
	`

	if _, err := r.q.Exec(ctx, query, sessionID, userID); err != nil {
		return fmt.Errorf("failed to upsert session member: %w", err)
	}
	return nil
}

// GetMember retrieves one membership row.
func (r *SessionRepository) GetMember(ctx context.Context, sessionID, userID int64) (*model.SessionMember, error) {
	const query = `
		SELECT session_id, user_id, status, joined_at
		FROM session_members
		WHERE session_id = $1 AND user_id = $2
	`

	var m model.SessionMember
	err := r.q.QueryRow(ctx, query, sessionID, userID).Scan(&m.SessionID, &m.UserID, &m.Status, &m.JoinedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFoundf("member %d in session %d", userID, sessionID)
		}
		return nil, fmt.Errorf("failed to get session member: %w", err)
	}
	return &m, nil
}

// SetMemberStatus flips a membership status.
func (r *SessionRepository) SetMemberStatus(ctx context.Context, sessionID, userID int64, status string) error {
	const query = `UPDATE session_members SET status = $3 WHERE session_id = $1 AND user_id = $2`

	result, err := r.q.Exec(ctx, query, sessionID, userID, status)
	if err != nil {
		return fmt.Errorf("failed to update session member: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.NotFoundf("member %d in session %d", userID, sessionID)
	}
	return nil
}

// ListConfirmedMemberIDs retrieves confirmed member ids in join order.
func (r *SessionRepository) ListConfirmedMemberIDs(ctx context.Context, sessionID int64) ([]int64, error) {
	const query = `
		SELECT user_id
		FROM session_members
		WHERE session_id = $1 AND status = 'confirmed'
		ORDER BY joined_at ASC, user_id ASC
	`

	rows, err := r.q.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list session members: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan member id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating member ids: %w", err)
	}
	return ids, nil
}

// CountConfirmedMembers counts the session's confirmed members.
func (r *SessionRepository) CountConfirmedMembers(ctx context.Context, sessionID int64) (int, error) {
	const query = `SELECT COUNT(*) FROM session_members WHERE session_id = $1 AND status = 'confirmed'`

	var count int
	if err := r.q.QueryRow(ctx, query, sessionID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count session members: %w", err)
	}
	return count, nil
}

// EnsureStats lazily creates zero win counters for the given members.
func (r *SessionRepository) EnsureStats(ctx context.Context, sessionID int64, userIDs []int64) error {
	if len(userIDs) == 0 {
		return nil
	}
	const query = `
		INSERT INTO session_stats (session_id, user_id, wins)
		SELECT $1, unnest($2::bigint[]), 0
		ON CONFLICT (session_id, user_id) DO NOTHING
	`

	if _, err := r.q.Exec(ctx, query, sessionID, userIDs); err != nil {
		return fmt.Errorf("failed to ensure session stats: %w", err)
	}
	return nil
}

// DeleteStat removes a member's win counter when their membership is
// withdrawn before the session goes live, so a departed member never
// reaches settlement.
func (r *SessionRepository) DeleteStat(ctx context.Context, sessionID, userID int64) error {
	const query = `DELETE FROM session_stats WHERE session_id = $1 AND user_id = $2`

	if _, err := r.q.Exec(ctx, query, sessionID, userID); err != nil {
		return fmt.Errorf("failed to delete session stat: %w", err)
	}
	return nil
}

// ResetStats zeroes every win counter in the session, used at session start
// and before a recompute replay.
func (r *SessionRepository) ResetStats(ctx context.Context, sessionID int64) error {
	const query = `UPDATE session_stats SET wins = 0 WHERE session_id = $1`

	if _, err := r.q.Exec(ctx, query, sessionID); err != nil {
		return fmt.Errorf("failed to reset session stats: %w", err)
	}
	return nil
}

// AddWins adjusts win counters for the given members. Negative deltas floor
// at zero so a correction can never drive a counter negative.
func (r *SessionRepository) AddWins(ctx context.Context, sessionID int64, userIDs []int64, delta int) error {
	if len(userIDs) == 0 {
		return nil
	}
	const query = `
		UPDATE session_stats
		SET wins = GREATEST(wins + $3, 0)
		WHERE session_id = $1 AND user_id = ANY($2)
	`

	if _, err := r.q.Exec(ctx, query, sessionID, userIDs, delta); err != nil {
		return fmt.Errorf("failed to add wins: %w", err)
	}
	return nil
}

// ListStats retrieves the session's win counters ordered by user id.
func (r *SessionRepository) ListStats(ctx context.Context, sessionID int64) ([]*model.SessionStat, error) {
	const query = `
		SELECT session_id, user_id, wins
		FROM session_stats
		WHERE session_id = $1
		ORDER BY user_id ASC
	`

	rows, err := r.q.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list session stats: %w", err)
	}
	defer rows.Close()

	var stats []*model.SessionStat
	for rows.Next() {
		var st model.SessionStat
		if err := rows.Scan(&st.SessionID, &st.UserID, &st.Wins); err != nil {
			return nil, fmt.Errorf("failed to scan session stat: %w", err)
		}
		stats = append(stats, &st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session stats: %w", err)
	}
	return stats, nil
}

// ListConfirmedStats retrieves the win counters of the session's confirmed
// members only, ordered by user id. Settlement reads this so that a counter
// left behind by a withdrawn membership can never reach the ledger.
func (r *SessionRepository) ListConfirmedStats(ctx context.Context, sessionID int64) ([]*model.SessionStat, error) {
	const query = `
		SELECT st.session_id, st.user_id, st.wins
		FROM session_stats st
		JOIN session_members sm ON sm.session_id = st.session_id AND sm.user_id = st.user_id
		WHERE st.session_id = $1 AND sm.status = 'confirmed'
		ORDER BY st.user_id ASC
	`

	rows, err := r.q.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list confirmed session stats: %w", err)
	}
	defer rows.Close()

	var stats []*model.SessionStat
	for rows.Next() {
		var st model.SessionStat
		if err := rows.Scan(&st.SessionID, &st.UserID, &st.Wins); err != nil {
			return nil, fmt.Errorf("failed to scan session stat: %w", err)
		}
		stats = append(stats, &st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session stats: %w", err)
	}
	return stats, nil
}

// MaxWins returns the highest win counter in the session, 0 when none.
func (r *SessionRepository) MaxWins(ctx context.Context, sessionID int64) (int, error) {
	const query = `SELECT COALESCE(MAX(wins), 0) FROM session_stats WHERE session_id = $1`

	var maxWins int
	if err := r.q.QueryRow(ctx, query, sessionID).Scan(&maxWins); err != nil {
		return 0, fmt.Errorf("failed to get max wins: %w", err)
	}
	return maxWins, nil
}

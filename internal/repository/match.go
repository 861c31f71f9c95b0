package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"league-engine/internal/domain"
	"league-engine/internal/model"
)

// MatchRepository handles match persistence. A partial unique index on
// (session_id) WHERE winner IS NULL backs the one-open-match invariant.
type MatchRepository struct {
	q Querier
}

// NewMatchRepository creates a new MatchRepository instance.
func NewMatchRepository(q Querier) *MatchRepository {
	return &MatchRepository{q: q}
}

const matchColumns = `id, session_id, match_index, team_a, team_b, winner, stage, decided_at, created_at`

func scanMatch(row pgx.Row) (*model.Match, error) {
	var m model.Match
	err := row.Scan(
		&m.ID,
		&m.SessionID,
		&m.MatchIndex,
		&m.TeamA,
		&m.TeamB,
		&m.Winner,
		&m.Stage,
		&m.DecidedAt,
		&m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Create persists an open match with the given rosters.
func (r *MatchRepository) Create(ctx context.Context, sessionID int64, matchIndex int, teamA, teamB []int64) (*model.Match, error) {
	const query = `
		INSERT INTO matches (session_id, match_index, team_a, team_b, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING ` + matchColumns

	m, err := scanMatch(r.q.QueryRow(ctx, query, sessionID, matchIndex, teamA, teamB))
	if err != nil {
		return nil, fmt.Errorf("failed to create match: %w", err)
	}
	return m, nil
}

// GetOpen retrieves the session's open match, the lowest-index one with no
// winner set.
func (r *MatchRepository) GetOpen(ctx context.Context, sessionID int64) (*model.Match, error) {
	const query = `
		SELECT ` + matchColumns + `
		FROM matches
		WHERE session_id = $1 AND winner IS NULL
		ORDER BY match_index ASC
		LIMIT 1
	`

	m, err := scanMatch(r.q.QueryRow(ctx, query, sessionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFoundf("no open match in session %d", sessionID)
		}
		return nil, fmt.Errorf("failed to get open match: %w", err)
	}
	return m, nil
}

// GetByIndex retrieves a match by its sequence index within the session.
func (r *MatchRepository) GetByIndex(ctx context.Context, sessionID int64, matchIndex int) (*model.Match, error) {
	const query = `SELECT ` + matchColumns + ` FROM matches WHERE session_id = $1 AND match_index = $2`

	m, err := scanMatch(r.q.QueryRow(ctx, query, sessionID, matchIndex))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFoundf("match %d in session %d", matchIndex, sessionID)
		}
		return nil, fmt.Errorf("failed to get match: %w", err)
	}
	return m, nil
}

// LastIndex returns the highest allocated match index, 0 when none.
func (r *MatchRepository) LastIndex(ctx context.Context, sessionID int64) (int, error) {
	const query = `SELECT COALESCE(MAX(match_index), 0) FROM matches WHERE session_id = $1`

	var last int
	if err := r.q.QueryRow(ctx, query, sessionID).Scan(&last); err != nil {
		return 0, fmt.Errorf("failed to get last match index: %w", err)
	}
	return last, nil
}

// SetOutcome writes winner and stage on a match.
func (r *MatchRepository) SetOutcome(ctx context.Context, matchID int64, winner string, stage *string) (*model.Match, error) {
	const query = `
		UPDATE matches
		SET winner = $2, stage = $3, decided_at = NOW()
		WHERE id = $1
		RETURNING ` + matchColumns

	m, err := scanMatch(r.q.QueryRow(ctx, query, matchID, winner, stage))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFoundf("match %d", matchID)
		}
		return nil, fmt.Errorf("failed to set match outcome: %w", err)
	}
	return m, nil
}

// ListDecided retrieves the session's decided matches in sequence order,
// the raw history a recompute replays.
func (r *MatchRepository) ListDecided(ctx context.Context, sessionID int64) ([]*model.Match, error) {
	const query = `
		SELECT ` + matchColumns + `
		FROM matches
		WHERE session_id = $1 AND winner IS NOT NULL
		ORDER BY match_index ASC
	`

	rows, err := r.q.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list decided matches: %w", err)
	}
	defer rows.Close()

	var matches []*model.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating matches: %w", err)
	}
	return matches, nil
}

// DeleteOpen discards the session's open match, if any. Returns the number
// of rows removed (0 or 1 under the one-open-match invariant).
func (r *MatchRepository) DeleteOpen(ctx context.Context, sessionID int64) (int64, error) {
	const query = `DELETE FROM matches WHERE session_id = $1 AND winner IS NULL`

	result, err := r.q.Exec(ctx, query, sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete open match: %w", err)
	}
	return result.RowsAffected(), nil
}

// HasOpen reports whether the session has an open match.
func (r *MatchRepository) HasOpen(ctx context.Context, sessionID int64) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM matches WHERE session_id = $1 AND winner IS NULL)`

	var exists bool
	if err := r.q.QueryRow(ctx, query, sessionID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check open match: %w", err)
	}
	return exists, nil
}

package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"league-engine/internal/model"
)

// SettlementRepository handles ledger persistence. Entries are the only
// record of rating/win attribution; everything here supports the
// rollback-then-reapply settlement design.
type SettlementRepository struct {
	q Querier
}

// NewSettlementRepository creates a new SettlementRepository instance.
func NewSettlementRepository(q Querier) *SettlementRepository {
	return &SettlementRepository{q: q}
}

const settlementColumns = `season_id, session_id, user_id, win_delta, rate_delta, batch_id, calculated_at`

func scanSettlement(row pgx.Row) (*model.SettlementEntry, error) {
	var e model.SettlementEntry
	err := row.Scan(
		&e.SeasonID,
		&e.SessionID,
		&e.UserID,
		&e.WinDelta,
		&e.RateDelta,
		&e.BatchID,
		&e.CalculatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Insert writes one ledger row.
func (r *SettlementRepository) Insert(ctx context.Context, seasonID, sessionID, userID int64, winDelta int, rateDelta float64, batchID uuid.UUID) (*model.SettlementEntry, error) {
	const query = `
		INSERT INTO settlement_entries (season_id, session_id, user_id, win_delta, rate_delta, batch_id, calculated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING ` + settlementColumns

	e, err := scanSettlement(r.q.QueryRow(ctx, query, seasonID, sessionID, userID, winDelta, rateDelta, batchID))
	if err != nil {
		return nil, fmt.Errorf("failed to insert settlement entry: %w", err)
	}
	return e, nil
}

// ListBySession retrieves the session's ledger rows.
func (r *SettlementRepository) ListBySession(ctx context.Context, seasonID, sessionID int64) ([]*model.SettlementEntry, error) {
	const query = `
		SELECT ` + settlementColumns + `
		FROM settlement_entries
		WHERE season_id = $1 AND session_id = $2
		ORDER BY user_id ASC
	`

	rows, err := r.q.Query(ctx, query, seasonID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list settlement entries: %w", err)
	}
	defer rows.Close()

	var entries []*model.SettlementEntry
	for rows.Next() {
		e, err := scanSettlement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan settlement entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating settlement entries: %w", err)
	}
	return entries, nil
}

// DeleteBySession removes the session's ledger rows, returning the count.
func (r *SettlementRepository) DeleteBySession(ctx context.Context, seasonID, sessionID int64) (int64, error) {
	const query = `DELETE FROM settlement_entries WHERE season_id = $1 AND session_id = $2`

	result, err := r.q.Exec(ctx, query, seasonID, sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete settlement entries: %w", err)
	}
	return result.RowsAffected(), nil
}

// DeleteBySeason removes every ledger row of a season, for recompute.
func (r *SettlementRepository) DeleteBySeason(ctx context.Context, seasonID int64) (int64, error) {
	const query = `DELETE FROM settlement_entries WHERE season_id = $1`

	result, err := r.q.Exec(ctx, query, seasonID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete season settlement entries: %w", err)
	}
	return result.RowsAffected(), nil
}

// HasLaterNonzero reports whether any of the given users carries a nonzero
// rating delta settled for a session strictly later than the given one in
// (scheduled_at, id) order. The staleness guard for outcome corrections.
func (r *SettlementRepository) HasLaterNonzero(ctx context.Context, seasonID int64, scheduledAt time.Time, sessionID int64, userIDs []int64) (bool, error) {
	if len(userIDs) == 0 {
		return false, nil
	}
	const query = `
		SELECT EXISTS(
			SELECT 1
			FROM settlement_entries e
			JOIN sessions s ON s.id = e.session_id
			WHERE e.season_id = $1
			  AND e.user_id = ANY($2)
			  AND e.rate_delta <> 0
			  AND (s.scheduled_at, s.id) > ($3::timestamptz, $4::bigint)
		)
	`

	var exists bool
	if err := r.q.QueryRow(ctx, query, seasonID, userIDs, scheduledAt, sessionID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check later settlements: %w", err)
	}
	return exists, nil
}

// LedgerSums retrieves, per participant, the season's summed rate deltas
// alongside the current and seed rating, for the audit invariant
// SUM(rate_delta) == rating - seed_rating.
func (r *SettlementRepository) LedgerSums(ctx context.Context, seasonID int64) ([]*model.LedgerSum, error) {
	const query = `
		SELECT sc.user_id,
		       COALESCE(SUM(e.rate_delta), 0) AS rate_sum,
		       sc.rating,
		       sc.seed_rating
		FROM season_scores sc
		LEFT JOIN settlement_entries e
		  ON e.season_id = sc.season_id AND e.user_id = sc.user_id
		WHERE sc.season_id = $1
		GROUP BY sc.user_id, sc.rating, sc.seed_rating
		ORDER BY sc.user_id ASC
	`

	rows, err := r.q.Query(ctx, query, seasonID)
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger sums: %w", err)
	}
	defer rows.Close()

	var sums []*model.LedgerSum
	for rows.Next() {
		var s model.LedgerSum
		if err := rows.Scan(&s.UserID, &s.RateSum, &s.Rating, &s.SeedRating); err != nil {
			return nil, fmt.Errorf("failed to scan ledger sum: %w", err)
		}
		sums = append(sums, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger sums: %w", err)
	}
	return sums, nil
}

package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"league-engine/internal/domain"
	"league-engine/internal/model"
)

// ErrPoolExists is returned by Create when the (season, week) pool already
// exists. OpenPool treats it as "fetch the existing pool" to stay idempotent.
var ErrPoolExists = errors.New("entry pool already exists for this week")

// PoolRepository handles entry pool and application persistence.
type PoolRepository struct {
	q Querier
}

// NewPoolRepository creates a new PoolRepository instance.
func NewPoolRepository(q Querier) *PoolRepository {
	return &PoolRepository{q: q}
}

const poolColumns = `id, season_id, week_number, status, opened_at, closed_at`

func scanPool(row pgx.Row) (*model.EntryPool, error) {
	var p model.EntryPool
	err := row.Scan(
		&p.ID,
		&p.SeasonID,
		&p.WeekNumber,
		&p.Status,
		&p.OpenedAt,
		&p.ClosedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Create creates an open pool for the week. Returns ErrPoolExists when a
// concurrent or earlier call already created it.
func (r *PoolRepository) Create(ctx context.Context, seasonID int64, week int) (*model.EntryPool, error) {
	const query = `
		INSERT INTO entry_pools (season_id, week_number, status, opened_at)
		VALUES ($1, $2, 'open', NOW())
		RETURNING ` + poolColumns

	p, err := scanPool(r.q.QueryRow(ctx, query, seasonID, week))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, ErrPoolExists
		}
		return nil, fmt.Errorf("failed to create entry pool: %w", err)
	}
	return p, nil
}

// GetByID retrieves a pool by id.
func (r *PoolRepository) GetByID(ctx context.Context, id int64) (*model.EntryPool, error) {
	const query = `SELECT ` + poolColumns + ` FROM entry_pools WHERE id = $1`

	p, err := scanPool(r.q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFoundf("entry pool %d", id)
		}
		return nil, fmt.Errorf("failed to get entry pool: %w", err)
	}
	return p, nil
}

// GetBySeasonWeek retrieves the pool for a (season, week) pair.
func (r *PoolRepository) GetBySeasonWeek(ctx context.Context, seasonID int64, week int) (*model.EntryPool, error) {
	const query = `SELECT ` + poolColumns + ` FROM entry_pools WHERE season_id = $1 AND week_number = $2`

	p, err := scanPool(r.q.QueryRow(ctx, query, seasonID, week))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFoundf("entry pool for season %d week %d", seasonID, week)
		}
		return nil, fmt.Errorf("failed to get entry pool: %w", err)
	}
	return p, nil
}

// Finalize moves the pool into a terminal status (closed or canceled) and
// stamps closed_at.
func (r *PoolRepository) Finalize(ctx context.Context, id int64, status string) error {
	const query = `UPDATE entry_pools SET status = $2, closed_at = NOW() WHERE id = $1`

	result, err := r.q.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("failed to finalize entry pool: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.NotFoundf("entry pool %d", id)
	}
	return nil
}

const applicationColumns = `id, pool_id, user_id, status, submitted_at`

func scanApplication(row pgx.Row) (*model.EntryApplication, error) {
	var a model.EntryApplication
	err := row.Scan(
		&a.ID,
		&a.PoolID,
		&a.UserID,
		&a.Status,
		&a.SubmittedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetApplication retrieves one user's application to a pool.
func (r *PoolRepository) GetApplication(ctx context.Context, poolID, userID int64) (*model.EntryApplication, error) {
	const query = `SELECT ` + applicationColumns + ` FROM entry_applications WHERE pool_id = $1 AND user_id = $2`

	a, err := scanApplication(r.q.QueryRow(ctx, query, poolID, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFoundf("application for user %d in pool %d", userID, poolID)
		}
		return nil, fmt.Errorf("failed to get application: %w", err)
	}
	return a, nil
}

// CreateApplication adds a confirmed application.
func (r *PoolRepository) CreateApplication(ctx context.Context, poolID, userID int64) (*model.EntryApplication, error) {
	const query = `
		INSERT INTO entry_applications (pool_id, user_id, status, submitted_at)
		VALUES ($1, $2, 'confirmed', NOW())
		RETURNING ` + applicationColumns

	a, err := scanApplication(r.q.QueryRow(ctx, query, poolID, userID))
	if err != nil {
		return nil, fmt.Errorf("failed to create application: %w", err)
	}
	return a, nil
}

// SetApplicationStatus flips an application's status. Reactivation passes
// refreshSubmittedAt so a re-join queues behind same-priority applicants.
func (r *PoolRepository) SetApplicationStatus(ctx context.Context, id int64, status string, refreshSubmittedAt bool) (*model.EntryApplication, error) {
	const query = `
		UPDATE entry_applications
		SET status = $2,
		    submitted_at = CASE WHEN $3 THEN NOW() ELSE submitted_at END
		WHERE id = $1
		RETURNING ` + applicationColumns

	a, err := scanApplication(r.q.QueryRow(ctx, query, id, status, refreshSubmittedAt))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFoundf("application %d", id)
		}
		return nil, fmt.Errorf("failed to update application: %w", err)
	}
	return a, nil
}

// ListAdmissionCandidates retrieves the pool's confirmed applications in
// admission order: priority descending, then submission time, then id for
// fully deterministic sweeps.
func (r *PoolRepository) ListAdmissionCandidates(ctx context.Context, poolID int64) ([]*model.AdmissionCandidate, error) {
	const query = `
		SELECT a.user_id, u.priority, a.submitted_at
		FROM entry_applications a
		JOIN users u ON u.id = a.user_id
		WHERE a.pool_id = $1 AND a.status = 'confirmed'
		ORDER BY u.priority DESC, a.submitted_at ASC, a.id ASC
	`

	rows, err := r.q.Query(ctx, query, poolID)
	if err != nil {
		return nil, fmt.Errorf("failed to list admission candidates: %w", err)
	}
	defer rows.Close()

	var candidates []*model.AdmissionCandidate
	for rows.Next() {
		var c model.AdmissionCandidate
		if err := rows.Scan(&c.UserID, &c.Priority, &c.SubmittedAt); err != nil {
			return nil, fmt.Errorf("failed to scan admission candidate: %w", err)
		}
		candidates = append(candidates, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating admission candidates: %w", err)
	}
	return candidates, nil
}

// Package repository provides data access layer implementations.
package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of pgx operations the repositories need. Both
// *pgxpool.Pool and pgx.Tx satisfy it, so the same repositories serve
// one-off reads and the single-transaction service operations.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store bundles the per-aggregate repositories over one Querier. Services
// create a Store per transaction via NewStore(tx).
type Store struct {
	Users       *UserRepository
	Seasons     *SeasonRepository
	Scores      *ScoreRepository
	Pools       *PoolRepository
	Sessions    *SessionRepository
	Matches     *MatchRepository
	Settlements *SettlementRepository
}

// NewStore creates a Store whose repositories all run against q.
func NewStore(q Querier) *Store {
	return &Store{
		Users:       NewUserRepository(q),
		Seasons:     NewSeasonRepository(q),
		Scores:      NewScoreRepository(q),
		Pools:       NewPoolRepository(q),
		Sessions:    NewSessionRepository(q),
		Matches:     NewMatchRepository(q),
		Settlements: NewSettlementRepository(q),
	}
}

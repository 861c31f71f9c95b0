// Package service implements the league engine operations: entry pools,
// session lifecycle, settlement ledger, season registry and standings.
// Every mutating operation runs as one transaction, serialized per season
// through a keyed lock, so no caller ever observes a half-applied sweep.
package service

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"league-engine/internal/repository"
)

// Rules are the league parameters shared by the services.
type Rules struct {
	// RoomCapacity is the fixed room size. Must be even and small; the
	// team balancer enumerates C(n, n/2) subsets.
	RoomCapacity int
	// WinThreshold is the win count that finishes a session.
	WinThreshold int
	// RatingK is the spread factor of the rating model.
	RatingK float64
}

// DefaultRules returns the standard league parameters.
func DefaultRules() Rules {
	return Rules{RoomCapacity: 8, WinThreshold: 10, RatingK: 20.0}
}

// inTx runs fn inside one transaction, with every repository bound to it.
func inTx(ctx context.Context, pool *pgxpool.Pool, fn func(st *repository.Store) error) error {
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		return fn(repository.NewStore(tx))
	})
}

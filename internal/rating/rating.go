// Package rating computes per-session rating deltas and seed ratings.
// All functions are pure; persistence and attribution live in the
// settlement ledger, which is the only caller allowed to apply deltas.
package rating

// DefaultK is the spread factor applied to a session performance.
const DefaultK = 20.0

// Seed clamp bounds. A participant's first season rating derives from their
// lifetime experience value and always lands inside [SeedFloor, SeedCeiling].
const (
	SeedFloor   = 1000.0
	SeedCeiling = 2500.0

	seedOffset    = 1000.0
	ratingDivisor = 400.0
)

// Delta returns the rating change for one participant after a session.
//
// performance = wins/maxWins - 0.5
// diffTerm    = (avgRating - rating) / 400
// delta       = k * (performance + diffTerm)
//
// This compares each participant against the field average rather than doing
// pairwise Elo updates; the simplification is intentional. maxWins is clamped
// to 1 so a session with no decided matches yields a pure diff-term delta
// instead of dividing by zero.
func Delta(rating float64, wins int, avgRating float64, maxWins int, k float64) float64 {
	if maxWins < 1 {
		maxWins = 1
	}
	performance := float64(wins)/float64(maxWins) - 0.5
	diffTerm := (avgRating - rating) / ratingDivisor
	return k * (performance + diffTerm)
}

// Seed derives a first season rating from a lifetime experience value:
// experience - 1000, clamped into [SeedFloor, SeedCeiling]. The clamp is
// monotone, so any experience at or below 2000 seeds at the floor and any
// at or above 3500 seeds at the ceiling.
func Seed(experience float64) float64 {
	seed := experience - seedOffset
	if seed < SeedFloor {
		return SeedFloor
	}
	if seed > SeedCeiling {
		return SeedCeiling
	}
	return seed
}

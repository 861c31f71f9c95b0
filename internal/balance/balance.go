// Package balance splits a room's players into two equal teams with the
// smallest win-count imbalance.
package balance

import "errors"

// ErrInvalidPartySize is returned when the player count is zero, negative
// or odd. Maps to a capacity violation at the service layer.
var ErrInvalidPartySize = errors.New("party size must be positive and even")

// Player is one room member with their current session win count.
type Player struct {
	ID   int64
	Wins int
}

// Split partitions players into two teams of size n/2 minimizing
// |totalWins - 2*sumWins(teamA)|. It enumerates every size-n/2 index subset
// in lexicographic order and keeps the first subset reaching the minimum, so
// the result is deterministic for a given input order.
//
// The enumeration is exponential, C(n, n/2) candidates. That is fine for a
// room of 8 (70 candidates) and must be re-evaluated before anyone raises
// the room capacity.
func Split(players []Player) (teamA, teamB []int64, err error) {
	n := len(players)
	if n <= 0 || n%2 != 0 {
		return nil, nil, ErrInvalidPartySize
	}
	half := n / 2

	total := 0
	for _, p := range players {
		total += p.Wins
	}

	// Walk size-half index combinations in lexicographic order.
	idx := make([]int, half)
	for i := range idx {
		idx[i] = i
	}

	best := make([]int, half)
	copy(best, idx)
	bestDiff := -1

	for {
		sumA := 0
		for _, i := range idx {
			sumA += players[i].Wins
		}
		diff := total - 2*sumA
		if diff < 0 {
			diff = -diff
		}
		if bestDiff < 0 || diff < bestDiff {
			bestDiff = diff
			copy(best, idx)
		}

		// Advance to the next combination.
		i := half - 1
		for i >= 0 && idx[i] == i+n-half {
			i--
		}
		if i < 0 {
			break
		}
		idx[i]++
		for j := i + 1; j < half; j++ {
			idx[j] = idx[j-1] + 1
		}
	}

	inA := make(map[int]bool, half)
	for _, i := range best {
		inA[i] = true
	}

	teamA = make([]int64, 0, half)
	teamB = make([]int64, 0, half)
	for i, p := range players {
		if inA[i] {
			teamA = append(teamA, p.ID)
		} else {
			teamB = append(teamB, p.ID)
		}
	}
	return teamA, teamB, nil
}

package service

import (
	"math"
	"testing"

	"pgregory.net/rapid"

	"league-engine/internal/rating"
)

// The admitted prefix is the largest whole-rooms cut of the candidate list:
// a multiple of capacity, no larger than the list, leaving fewer than one
// room behind.
func TestAdmitPrefixProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 200).Draw(t, "n")
		capacity := rapid.SampledFrom([]int{2, 4, 6, 8}).Draw(t, "capacity")

		prefix := admitPrefix(n, capacity)

		if prefix%capacity != 0 {
			t.Fatalf("prefix %d is not a multiple of capacity %d", prefix, capacity)
		}
		if prefix > n {
			t.Fatalf("prefix %d exceeds candidate count %d", prefix, n)
		}
		if n-prefix >= capacity {
			t.Fatalf("prefix %d leaves %d behind, a full room", prefix, n-prefix)
		}
	})
}

// The diff terms of a session cancel out, so the summed deltas of one
// settlement depend only on the win distribution:
// sum(delta) = k * (sum(wins)/maxWins - n/2).
func TestSettlementDeltaSumProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(2, 8).Draw(t, "n")
		k := rapid.Float64Range(1, 50).Draw(t, "k")

		ratings := make([]float64, n)
		wins := make([]int, n)
		total := 0.0
		winSum := 0
		maxWins := 0
		for i := 0; i < n; i++ {
			ratings[i] = rapid.Float64Range(1000, 2500).Draw(t, "rating")
			wins[i] = rapid.IntRange(0, 10).Draw(t, "wins")
			total += ratings[i]
			winSum += wins[i]
			if wins[i] > maxWins {
				maxWins = wins[i]
			}
		}
		avg := total / float64(n)

		deltaSum := 0.0
		for i := 0; i < n; i++ {
			deltaSum += rating.Delta(ratings[i], wins[i], avg, maxWins, k)
		}

		clamped := maxWins
		if clamped < 1 {
			clamped = 1
		}
		want := k * (float64(winSum)/float64(clamped) - float64(n)/2)
		if math.Abs(deltaSum-want) > 1e-6 {
			t.Fatalf("delta sum %v, want %v", deltaSum, want)
		}
	})
}

// Applying a set of deltas and then subtracting them back must restore the
// starting ratings, the in-memory mirror of settle followed by rollback.
func TestRollbackRestoreProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(2, 8).Draw(t, "n")
		k := rapid.Float64Range(1, 50).Draw(t, "k")

		ratings := make([]float64, n)
		wins := make([]int, n)
		total := 0.0
		maxWins := 0
		for i := 0; i < n; i++ {
			ratings[i] = rapid.Float64Range(1000, 2500).Draw(t, "rating")
			wins[i] = rapid.IntRange(0, 10).Draw(t, "wins")
			total += ratings[i]
			if wins[i] > maxWins {
				maxWins = wins[i]
			}
		}
		avg := total / float64(n)

		after := make([]float64, n)
		deltas := make([]float64, n)
		for i := 0; i < n; i++ {
			deltas[i] = rating.Delta(ratings[i], wins[i], avg, maxWins, k)
			after[i] = ratings[i] + deltas[i]
		}
		for i := 0; i < n; i++ {
			restored := after[i] - deltas[i]
			if math.Abs(restored-ratings[i]) > 1e-9 {
				t.Fatalf("rating %d not restored: %v vs %v", i, restored, ratings[i])
			}
		}
	})
}

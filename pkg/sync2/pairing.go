package sync2

import "math"

// Event is one observed sync event: an absolute timestamp in its owning
// reader's clock, plus a pairing key (the event index as a string when no
// explicit pairing_key accessor was configured).
type Event struct {
	T   float64
	Key string
}

// Pair is one matched (reference, follower) sync event, both still in
// their own readers' clocks.
type Pair struct {
	RefT      float64
	FollowerT float64
}

// Strategy matches a reference reader's sync event list against a
// follower's. Implementations must return pairs sorted by non-decreasing
// RefT, since OffsetAt relies on that ordering to find the most recent
// pair at or before a query time.
type Strategy interface {
	Pair(ref, follower []Event) []Pair
}

// ClosestInTime is the default pairing strategy: greedily match each
// unmatched reference event, in order, with whichever unused follower
// event is nearest in absolute time. It assumes both clocks start near
// zero with small monotonic drift, per the core design's documented
// assumption.
type ClosestInTime struct{}

// Pair implements Strategy.
func (ClosestInTime) Pair(ref, follower []Event) []Pair {
	used := make([]bool, len(follower))
	pairs := make([]Pair, 0, len(ref))

	for _, r := range ref {
		best := -1
		bestDiff := math.Inf(1)
		for i, f := range follower {
			if used[i] {
				continue
			}
			diff := math.Abs(f.T - r.T)
			if diff < bestDiff {
				bestDiff = diff
				best = i
			}
		}
		if best == -1 {
			continue
		}
		used[best] = true
		pairs = append(pairs, Pair{RefT: r.T, FollowerT: follower[best].T})
	}
	return pairs
}

// Keyed pairs reference and follower events that share an equal key,
// used when the configuration supplies a pairing_key accessor.
type Keyed struct{}

// Pair implements Strategy.
func (Keyed) Pair(ref, follower []Event) []Pair {
	byKey := make(map[string]float64, len(follower))
	for _, f := range follower {
		byKey[f.Key] = f.T
	}

	pairs := make([]Pair, 0, len(ref))
	for _, r := range ref {
		if ft, ok := byKey[r.Key]; ok {
			pairs = append(pairs, Pair{RefT: r.T, FollowerT: ft})
		}
	}
	return pairs
}

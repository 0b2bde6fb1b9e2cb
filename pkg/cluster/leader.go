package cluster

import (
	"golang.org/x/exp/slices"
)

// DeriveLeader picks the leader from a membership set: the Up member with
// the lexicographically smallest (Address, Port) tuple. It is a pure
// function, so any two nodes holding an identical membership set derive the
// identical leader without a round-trip. It is not consensus: during
// membership churn two nodes may transiently disagree.
func DeriveLeader(members []ClusterNode) (string, bool) {
	candidates := make([]ClusterNode, 0, len(members))
	for _, m := range members {
		if m.Status == StatusUp {
			candidates = append(candidates, m)
		}
	}
	if len(candidates) == 0 {
		return "", false
	}

	slices.SortFunc(candidates, func(a, b ClusterNode) int {
		if a.Address != b.Address {
			if a.Address < b.Address {
				return -1
			}
			return 1
		}
		return a.Port - b.Port
	})

	return candidates[0].ID, true
}

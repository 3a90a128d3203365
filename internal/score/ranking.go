package score

import "sort"

type ranked struct {
	point  float64
	userID string
}

// sortRanking orders by point descending, user id ascending as tiebreak.
func sortRanking(r []ranked) {
	sort.Slice(r, func(i, j int) bool {
		if r[i].point != r[j].point {
			return r[i].point > r[j].point
		}
		return r[i].userID < r[j].userID
	})
}

// denseRanks assigns 1-based ranks over a sorted ranking; equal points share
// the earlier rank.
func denseRanks(r []ranked) []int {
	ranks := make([]int, len(r))
	for i := range r {
		if i > 0 && r[i-1].point == r[i].point {
			ranks[i] = ranks[i-1]
		} else {
			ranks[i] = i + 1
		}
	}
	return ranks
}

package mcts

import "math"

// selectChild picks the edge index maximizing the PUCT score
//
//	score = Q' + cPuct * P * sqrt(N_parent) / (1 + N_child)
//
// where Q' folds in-flight virtual losses into the mean as provisional losses:
// Q' = (W - VL) / (N + VL). A child with no completed or in-flight visits
// scores fpu instead of a mean. Ties break to the lowest edge index so a
// single-threaded search is reproducible.
func selectChild(arena *Arena, parent *Node, edges []Edge, cPuct, fpu float64) int {
	sqrtParent := math.Sqrt(float64(parent.visits.Load()))

	best := 0
	bestScore := math.Inf(-1)
	for i := range edges {
		child := arena.Get(edges[i].Child)
		visits := child.visits.Load()
		vl := child.virtualLoss.Load()

		q := fpu
		if denom := visits + vl; denom > 0 {
			q = (child.ValueSum() - float64(vl)) / float64(denom)
		}

		score := q + cPuct*float64(edges[i].Prior)*sqrtParent/(1+float64(visits))
		if score > bestScore {
			bestScore = score
			best = i
		}
	}
	return best
}

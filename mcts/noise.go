package mcts

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distmv"
	"lukechampine.com/frand"
)

// applyRootNoise mixes Dirichlet noise into the root priors,
// P' = (1-eps)*P + eps*Dir(alpha), so repeated self-play games explore
// different openings. The reweighted edge list is republished atomically, so
// concurrent statistics readers see either the old priors or the new ones,
// never a partial mix.
func (s *Search) applyRootNoise() {
	root := s.tree.RootNode()
	edges := root.Edges()
	if len(edges) < 2 {
		return
	}

	alpha := make([]float64, len(edges))
	for i := range alpha {
		alpha[i] = s.cfg.DirichletAlpha
	}
	src := rand.NewPCG(frand.Uint64n(1<<63), frand.Uint64n(1<<63))
	noise := distmv.NewDirichlet(alpha, src).Rand(nil)

	eps := s.cfg.DirichletEpsilon
	noisy := make([]Edge, len(edges))
	for i := range edges {
		noisy[i] = edges[i]
		noisy[i].Prior = float32((1-eps)*float64(edges[i].Prior) + eps*noise[i])
	}
	root.publishEdges(noisy)
}

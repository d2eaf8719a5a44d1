package mcts

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/penumbralabs/penumbra/game"
)

// buildFamily allocates a parent with one child per prior and returns the
// parent node with its edge list.
func buildFamily(a *Arena, priors []float32) (*Node, []Edge) {
	ph := a.Alloc(nullHandle, game.NoAction, 1)
	edges := make([]Edge, len(priors))
	for i, p := range priors {
		edges[i] = Edge{Action: game.Action(i), Prior: p, Child: a.Alloc(ph, game.Action(i), p)}
	}
	parent := a.Get(ph)
	parent.publishEdges(edges)
	return parent, edges
}

func TestSelectChildPrefersHighPriorWhenUnvisited(t *testing.T) {
	a := NewArena()
	parent, edges := buildFamily(a, []float32{0.2, 0.5, 0.3})
	parent.visits.Store(10)

	assert.Equal(t, 1, selectChild(a, parent, edges, 1.5, 0))
}

func TestSelectChildPrefersHighQ(t *testing.T) {
	a := NewArena()
	parent, edges := buildFamily(a, []float32{0.34, 0.33, 0.33})
	parent.visits.Store(100)

	for i, q := range []float64{-0.5, 0.8, 0.1} {
		c := a.Get(edges[i].Child)
		c.visits.Store(10)
		c.addValue(q * 10)
	}

	assert.Equal(t, 1, selectChild(a, parent, edges, 1.0, 0))
}

func TestSelectChildVirtualLossDiverts(t *testing.T) {
	a := NewArena()
	parent, edges := buildFamily(a, []float32{0.5, 0.5})
	parent.visits.Store(4)

	// Identical children, but one carries heavy in-flight losses; the other
	// must be picked.
	for i := range edges {
		c := a.Get(edges[i].Child)
		c.visits.Store(2)
		c.addValue(0.6)
	}
	a.Get(edges[0].Child).virtualLoss.Store(8)

	assert.Equal(t, 1, selectChild(a, parent, edges, 1.0, 0))
}

func TestSelectChildTieBreaksLowestIndex(t *testing.T) {
	a := NewArena()
	parent, edges := buildFamily(a, []float32{0.25, 0.25, 0.25, 0.25})
	parent.visits.Store(0)

	// Zero parent visits kill the exploration term; all children score fpu.
	assert.Equal(t, 0, selectChild(a, parent, edges, 2.0, 0.4))
}

func TestSelectChildFPUAppliesOnlyToFresh(t *testing.T) {
	a := NewArena()
	parent, edges := buildFamily(a, []float32{0.5, 0.5})
	parent.visits.Store(9)

	// Child 0 has a mediocre mean; child 1 is fresh. A pessimistic FPU must
	// make the visited child more attractive despite its larger visit count.
	c := a.Get(edges[0].Child)
	c.visits.Store(3)
	c.addValue(-0.3)

	assert.Equal(t, 0, selectChild(a, parent, edges, 0.1, -1.0))
}

package mcts

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/penumbralabs/penumbra/game"
)

// ErrRootNotExpanded is returned by Advance when the root has never been
// expanded, so no child exists to advance into.
var ErrRootNotExpanded = errors.New("root is not expanded")

// Tree is the logical search tree: a root handle overlaid on a node arena,
// plus the generation counter that fences stale evaluation responses after
// the root advances.
type Tree struct {
	arena      *Arena
	root       Handle
	rootState  game.State
	generation atomic.Uint64
}

// NewTree creates a single-node tree rooted at the given position.
func NewTree(root game.State) *Tree {
	arena := NewArena()
	h := arena.Alloc(nullHandle, game.NoAction, 1)
	return &Tree{
		arena:     arena,
		root:      h,
		rootState: root,
	}
}

// Arena returns the tree's node storage.
func (t *Tree) Arena() *Arena { return t.arena }

// Root returns the current root handle.
func (t *Tree) Root() Handle { return t.root }

// RootState returns the position the tree is rooted at.
func (t *Tree) RootState() game.State { return t.rootState }

// RootNode returns the current root node.
func (t *Tree) RootNode() *Node { return t.arena.Get(t.root) }

// Generation returns the advancement counter. Evaluation responses issued
// under an older generation are dropped.
func (t *Tree) Generation() uint64 { return t.generation.Load() }

// Advance commits a move: the chosen child becomes the new root and the
// generation increments. With retain set, sibling subtrees stay cached in the
// arena; otherwise the surviving subtree is compacted into a fresh arena and
// the siblings are released. Must not be called while a search is running.
func (t *Tree) Advance(action game.Action, retain bool) error {
	root := t.arena.Get(t.root)
	edges := root.Edges()
	if edges == nil {
		return ErrRootNotExpanded
	}

	child := nullHandle
	for i := range edges {
		if edges[i].Action == action {
			child = edges[i].Child
			break
		}
	}
	if child == nullHandle {
		return fmt.Errorf("advance: action %d is not a root move", action)
	}

	t.rootState = t.rootState.Apply(action)
	if retain {
		t.root = child
	} else {
		fresh := NewArena()
		t.root = copySubtree(t.arena, child, fresh, nullHandle)
		t.arena = fresh
	}
	t.generation.Add(1)
	return nil
}

// copySubtree clones the subtree under h into dst, preserving every
// statistic, and returns the new handle. Recursion depth is bounded by the
// game length.
func copySubtree(src *Arena, h Handle, dst *Arena, parent Handle) Handle {
	n := src.Get(h)
	nh := dst.Alloc(parent, n.action, n.prior)
	m := dst.Get(nh)
	m.visits.Store(n.visits.Load())
	m.valueBits.Store(n.valueBits.Load())
	m.terminal.Store(n.terminal.Load())
	m.termValBits.Store(n.termValBits.Load())

	if srcEdges := n.Edges(); srcEdges != nil {
		edges := make([]Edge, len(srcEdges))
		for i, e := range srcEdges {
			edges[i] = Edge{
				Action: e.Action,
				Prior:  e.Prior,
				Child:  copySubtree(src, e.Child, dst, nh),
			}
		}
		m.publishEdges(edges)
	}
	// A node left Claimed by an aborted expansion copies as Unexpanded,
	// which is what the zero state already is.
	return nh
}

// backprop walks the path leaf to root, converting each node's in-flight
// virtual loss into a completed visit. leafValue is from the perspective of
// the player to move at the leaf; the sign flips each ply since a node's
// value sum is kept from the perspective of the player who moved into it.
func backprop(arena *Arena, path []Handle, leafValue float64) {
	v := -leafValue
	for i := len(path) - 1; i >= 0; i-- {
		n := arena.Get(path[i])
		n.virtualLoss.Add(-1)
		n.visits.Add(1)
		n.addValue(v)
		v = -v
	}
}

// abortPath unwinds the virtual losses of a descent that will not complete
// (stale generation or evaluation failure) without recording a visit.
func abortPath(arena *Arena, path []Handle) {
	for i := len(path) - 1; i >= 0; i-- {
		arena.Get(path[i]).virtualLoss.Add(-1)
	}
}

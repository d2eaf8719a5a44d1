package mcts

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/penumbralabs/penumbra/game"
)

// Handle is a stable index of a node in its arena.
type Handle int32

const nullHandle Handle = -1

const (
	chunkShift = 12
	chunkSize  = 1 << chunkShift
	chunkMask  = chunkSize - 1
)

// Expansion states. A node moves Unexpanded -> Claimed -> Expanded exactly
// once; the Unexpanded -> Claimed transition is a CAS so only one worker ever
// owns the expansion.
const (
	stateUnexpanded int32 = iota
	stateClaimed
	stateExpanded
)

// Terminal resolution states, cached on first visit so the rule set is asked
// at most once per node.
const (
	termUnknown int32 = iota
	termNo
	termYes
)

// Edge is one (action, prior, child) entry of an expanded node. Edge slices
// are built privately and published with an atomic pointer store; a published
// slice is never mutated, only replaced.
type Edge struct {
	Action game.Action
	Prior  float32
	Child  Handle
}

// Node is a single search tree vertex. Statistics are per-field atomics so
// concurrent workers can read and update them without a node lock: the only
// mutations are narrow increments and adds.
type Node struct {
	visits      atomic.Int32
	virtualLoss atomic.Int32
	valueBits   atomic.Uint64 // float64 bits of the value sum
	expansion   atomic.Int32
	terminal    atomic.Int32
	termValBits atomic.Uint32 // float32 bits of the terminal value

	// Immutable after allocation; published to other workers by the parent's
	// expansion store.
	parent Handle
	action game.Action
	prior  float32

	// Stored once by the expansion owner, then possibly replaced wholesale
	// when root noise reweights the priors. The slice behind the pointer is
	// never mutated after a store.
	edges atomic.Pointer[[]Edge]
}

// Visits returns the number of completed backpropagations through the node.
func (n *Node) Visits() int32 { return n.visits.Load() }

// VirtualLoss returns the number of descents currently in flight through the
// node.
func (n *Node) VirtualLoss() int32 { return n.virtualLoss.Load() }

// ValueSum returns the accumulated value, from the perspective of the player
// who moved into this node.
func (n *Node) ValueSum() float64 {
	return math.Float64frombits(n.valueBits.Load())
}

// Prior returns the evaluator prior of the edge leading into this node.
func (n *Node) Prior() float32 { return n.prior }

// Action returns the action of the edge leading into this node.
func (n *Node) Action() game.Action { return n.action }

// Expanded reports whether the node's children have been published.
func (n *Node) Expanded() bool { return n.expansion.Load() == stateExpanded }

// Edges returns the node's child edges, or nil if it is not yet expanded.
func (n *Node) Edges() []Edge {
	if p := n.edges.Load(); p != nil {
		return *p
	}
	return nil
}

func (n *Node) addValue(v float64) {
	for {
		old := n.valueBits.Load()
		next := math.Float64bits(math.Float64frombits(old) + v)
		if n.valueBits.CompareAndSwap(old, next) {
			return
		}
	}
}

// tryClaimExpansion succeeds for exactly one caller per node.
func (n *Node) tryClaimExpansion() bool {
	return n.expansion.CompareAndSwap(stateUnexpanded, stateClaimed)
}

// unclaim reverts an aborted claim so a later visit can expand the node.
func (n *Node) unclaim() {
	n.expansion.Store(stateUnexpanded)
}

// publishEdges installs the child list and marks the node expanded. The
// pointer store publishes the fully built slice to concurrent readers.
func (n *Node) publishEdges(edges []Edge) {
	n.edges.Store(&edges)
	n.expansion.Store(stateExpanded)
}

func (n *Node) markTerminal(v float32) {
	n.termValBits.Store(math.Float32bits(v))
	n.terminal.Store(termYes)
}

func (n *Node) markNonTerminal() {
	n.terminal.CompareAndSwap(termUnknown, termNo)
}

// terminalValue returns (value, known, terminal). The value is from the
// perspective of the player to move in the node's position.
func (n *Node) terminalValue() (float32, bool, bool) {
	switch n.terminal.Load() {
	case termYes:
		return math.Float32frombits(n.termValBits.Load()), true, true
	case termNo:
		return 0, true, false
	default:
		return 0, false, false
	}
}

type nodeChunk [chunkSize]Node

// Arena owns every node of a tree in chunked contiguous storage addressed by
// Handle. Chunks are never reallocated, so readers resolve handles without a
// lock; only allocation takes the mutex.
type Arena struct {
	mu     sync.Mutex
	chunks atomic.Pointer[[]*nodeChunk]
	length atomic.Int32
}

// NewArena returns an empty arena with one chunk preallocated.
func NewArena() *Arena {
	a := &Arena{}
	chunks := []*nodeChunk{new(nodeChunk)}
	a.chunks.Store(&chunks)
	return a
}

// Alloc creates a node and returns its handle. The node is not visible to
// other workers until its handle is published through a parent's edge list.
func (a *Arena) Alloc(parent Handle, action game.Action, prior float32) Handle {
	a.mu.Lock()
	idx := a.length.Load()
	chunks := *a.chunks.Load()
	if int(idx)>>chunkShift == len(chunks) {
		// Copy-on-write append so concurrent Get calls keep a consistent
		// snapshot of the chunk table.
		grown := make([]*nodeChunk, len(chunks)+1)
		copy(grown, chunks)
		grown[len(chunks)] = new(nodeChunk)
		a.chunks.Store(&grown)
		chunks = grown
	}
	n := &chunks[idx>>chunkShift][idx&chunkMask]
	n.parent = parent
	n.action = action
	n.prior = prior
	a.length.Store(idx + 1)
	a.mu.Unlock()
	return Handle(idx)
}

// Get resolves a handle. Handles are only ever produced by Alloc and remain
// valid for the lifetime of the arena.
func (a *Arena) Get(h Handle) *Node {
	chunks := *a.chunks.Load()
	return &chunks[int(h)>>chunkShift][int(h)&chunkMask]
}

// Len returns the number of allocated nodes.
func (a *Arena) Len() int {
	return int(a.length.Load())
}

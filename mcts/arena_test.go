package mcts

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/penumbralabs/penumbra/game"
)

func TestArenaAllocGet(t *testing.T) {
	a := NewArena()
	h := a.Alloc(nullHandle, game.Action(7), 0.25)
	require.Equal(t, Handle(0), h)

	n := a.Get(h)
	assert.Equal(t, game.Action(7), n.Action())
	assert.Equal(t, float32(0.25), n.Prior())
	assert.Zero(t, n.Visits())
	assert.Zero(t, n.VirtualLoss())
	assert.False(t, n.Expanded())
	assert.Equal(t, 1, a.Len())
}

func TestArenaGrowsPastChunk(t *testing.T) {
	a := NewArena()
	total := 3*chunkSize + 17
	handles := make([]Handle, total)
	for i := 0; i < total; i++ {
		handles[i] = a.Alloc(nullHandle, game.Action(i%100), float32(i))
	}
	require.Equal(t, total, a.Len())

	// Handles allocated before growth stay valid afterwards.
	for i, h := range handles {
		assert.Equal(t, float32(i), a.Get(h).Prior(), "handle %d", i)
	}
}

func TestArenaConcurrentAllocAndGet(t *testing.T) {
	a := NewArena()
	anchor := a.Alloc(nullHandle, 0, 0.5)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 2000; i++ {
				a.Alloc(anchor, game.Action(i%3), 0.1)
				// Readers must always resolve a consistent chunk table.
				_ = a.Get(anchor).Prior()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1+8*2000, a.Len())
}

func TestClaimExactlyOnce(t *testing.T) {
	a := NewArena()
	n := a.Get(a.Alloc(nullHandle, 0, 1))

	var winners atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if n.tryClaimExpansion() {
				winners.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()
	assert.EqualValues(t, 1, winners.Load())
}

func TestUnclaimAllowsReclaim(t *testing.T) {
	a := NewArena()
	n := a.Get(a.Alloc(nullHandle, 0, 1))

	require.True(t, n.tryClaimExpansion())
	require.False(t, n.tryClaimExpansion())
	n.unclaim()
	require.True(t, n.tryClaimExpansion())

	n.publishEdges([]Edge{{Action: 1, Prior: 1, Child: a.Alloc(0, 1, 1)}})
	assert.True(t, n.Expanded())
	assert.False(t, n.tryClaimExpansion())
	assert.Len(t, n.Edges(), 1)
}

func TestAddValueConcurrent(t *testing.T) {
	a := NewArena()
	n := a.Get(a.Alloc(nullHandle, 0, 1))

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				n.addValue(0.5)
			}
		}()
	}
	wg.Wait()
	assert.InDelta(t, 4000.0, n.ValueSum(), 1e-9)
}

func TestTerminalCache(t *testing.T) {
	a := NewArena()
	n := a.Get(a.Alloc(nullHandle, 0, 1))

	_, known, _ := n.terminalValue()
	assert.False(t, known)

	n.markTerminal(-1)
	v, known, terminal := n.terminalValue()
	assert.True(t, known)
	assert.True(t, terminal)
	assert.Equal(t, float32(-1), v)

	m := a.Get(a.Alloc(nullHandle, 1, 1))
	m.markNonTerminal()
	_, known, terminal = m.terminalValue()
	assert.True(t, known)
	assert.False(t, terminal)
}

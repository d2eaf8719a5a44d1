package mcts

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"lukechampine.com/frand"

	"github.com/penumbralabs/penumbra/game"
)

// errStaleGeneration marks an evaluation response that arrived after the tree
// root advanced past the node it was issued for. Dropped silently.
var errStaleGeneration = errors.New("evaluation response from a previous tree generation")

// ChildStat is the exported statistics snapshot of one root child.
type ChildStat struct {
	Action game.Action
	Visits int32
	Q      float64
	Prior  float32
}

// Results is the outcome of one search: the chosen move plus the full root
// statistics, which callers use for logging and training targets.
type Results struct {
	Best    game.Action
	Value   float64
	Nodes   uint64
	Elapsed time.Duration

	Children []ChildStat

	// LowConfidence is set when the budget allowed zero completed visits and
	// the move was chosen on priors alone.
	LowConfidence bool
}

// VisitDistribution returns the normalized root visit counts over the rule
// set's full policy space, the standard policy training target.
func (r *Results) VisitDistribution(policyDim int) []float32 {
	dist := make([]float32, policyDim)
	var total int64
	for _, c := range r.Children {
		total += int64(c.Visits)
	}
	if total == 0 {
		for _, c := range r.Children {
			dist[c.Action] = c.Prior
		}
		return dist
	}
	for _, c := range r.Children {
		dist[c.Action] = float32(float64(c.Visits) / float64(total))
	}
	return dist
}

// Search owns one tree and a predictor, and coordinates a pool of workers
// that run the select/expand/backpropagate cycle against it.
type Search struct {
	cfg       Config
	predictor Predictor
	tree      *Tree
}

// NewSearch creates a search session rooted at the given position.
func NewSearch(root game.State, predictor Predictor, cfg Config) *Search {
	cfg.sanitize()
	return &Search{
		cfg:       cfg,
		predictor: predictor,
		tree:      NewTree(root),
	}
}

// Tree returns the underlying search tree.
func (s *Search) Tree() *Tree { return s.tree }

// Config returns the session configuration.
func (s *Search) Config() Config { return s.cfg }

// AdvanceRoot commits a move, making the corresponding child the new root.
// Accumulated statistics in the surviving subtree are reused by later runs.
func (s *Search) AdvanceRoot(action game.Action) error {
	return s.tree.Advance(action, s.cfg.RetainSubtrees)
}

// Run searches until the budget is exhausted or ctx is cancelled, then picks
// a move from the root statistics. Workers observe stop conditions only at
// iteration boundaries, so every in-flight backpropagation completes and the
// tree remains valid for further runs.
func (s *Search) Run(ctx context.Context, limits Limits) (*Results, error) {
	start := time.Now()
	var started, completed atomic.Uint64

	// A finished game needs no search, and a terminal position must never
	// reach the evaluator. This also covers rule sets whose finished
	// positions report no legal actions at all.
	if v, terminal := s.resolveTerminal(s.tree.RootNode(), s.tree.rootState); terminal {
		return &Results{
			Best:    game.NoAction,
			Value:   v,
			Elapsed: time.Since(start),
		}, nil
	}

	// Root exploration noise must be applied to an expanded root before
	// workers start racing on its priors. The expansion consumes one
	// iteration of the budget like any other.
	if s.cfg.DirichletEpsilon > 0 && !s.tree.RootNode().Expanded() {
		if limits.Nodes == 0 || started.Add(1) <= limits.Nodes {
			if _, err := s.step(ctx, nil); err != nil {
				return nil, fmt.Errorf("search: %w", err)
			}
			completed.Add(1)
		}
	}
	if s.cfg.DirichletEpsilon > 0 {
		s.applyRootNoise()
	}

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < s.cfg.Workers; w++ {
		g.Go(func() error {
			path := make([]Handle, 0, 128)
			for {
				if gctx.Err() != nil {
					return nil
				}
				if budget := limits.timeBudget(); budget > 0 && time.Since(start) >= budget {
					return nil
				}
				// Reserve an iteration so the node budget is exact
				// regardless of interleaving.
				if limits.Nodes > 0 && started.Add(1) > limits.Nodes {
					return nil
				}
				var err error
				path, err = s.step(gctx, path)
				if err != nil {
					return err
				}
				completed.Add(1)
			}
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	// A budget too small to complete a single visit still yields a move:
	// expand the root directly and select on priors alone.
	if !s.tree.RootNode().Expanded() {
		if err := s.expandRootOnly(ctx); err != nil {
			return nil, fmt.Errorf("search: %w", err)
		}
	}

	res := s.results(completed.Load(), time.Since(start))
	log.Debug().
		Uint64("nodes", res.Nodes).
		Dur("elapsed", res.Elapsed).
		Int32("best", int32(res.Best)).
		Float64("q", res.Value).
		Bool("low_confidence", res.LowConfidence).
		Msg("search finished")
	return res, nil
}

// step performs one select/expand/backpropagate iteration along a single
// root-to-leaf path. The caller's path buffer is reused across iterations.
func (s *Search) step(ctx context.Context, path []Handle) ([]Handle, error) {
	t := s.tree
	arena := t.arena
	gen := t.generation.Load()
	h := t.root
	st := t.rootState
	path = path[:0]

	for {
		n := arena.Get(h)
		n.virtualLoss.Add(1)
		path = append(path, h)

		if v, terminal := s.resolveTerminal(n, st); terminal {
			backprop(arena, path, v)
			return path, nil
		}

		if !n.Expanded() {
			if n.tryClaimExpansion() {
				v, err := s.evaluateAndExpand(ctx, h, n, st, gen)
				switch {
				case err == nil:
					backprop(arena, path, v)
					return path, nil
				case errors.Is(err, errStaleGeneration),
					errors.Is(err, context.Canceled),
					errors.Is(err, context.DeadlineExceeded):
					n.unclaim()
					abortPath(arena, path)
					return path, nil
				default:
					n.unclaim()
					abortPath(arena, path)
					return path, err
				}
			}
			// Lost the claim race. Back up the node's current statistics as
			// a provisional leaf value rather than blocking on the winner.
			backprop(arena, path, provisionalValue(n, s.cfg.FPU))
			return path, nil
		}

		edges := n.Edges()
		i := selectChild(arena, n, edges, s.cfg.CPuct, s.cfg.FPU)
		st = st.Apply(edges[i].Action)
		h = edges[i].Child
	}
}

// resolveTerminal returns the node's terminal value (to-move perspective) if
// the position is final, consulting the rule set once and caching the answer.
func (s *Search) resolveTerminal(n *Node, st game.State) (float64, bool) {
	if v, known, terminal := n.terminalValue(); known {
		return float64(v), terminal
	}
	out, ok := st.TerminalOutcome()
	if !ok {
		n.markNonTerminal()
		return 0, false
	}
	v := s.outcomeValue(out, st.Player())
	n.markTerminal(float32(v))
	return v, true
}

func (s *Search) outcomeValue(out game.Outcome, player int) float64 {
	if out.Winner == game.NoWinner {
		return s.cfg.DrawValue
	}
	return float64(out.ValueFor(player))
}

// provisionalValue converts a node's stored mean (kept from its parent's
// perspective) into a to-move leaf value for backprop.
func provisionalValue(n *Node, fpu float64) float64 {
	q := fpu
	if visits := n.visits.Load(); visits > 0 {
		q = n.ValueSum() / float64(visits)
	}
	return -q
}

// evaluateAndExpand submits the leaf for evaluation, blocks for the batched
// response, then allocates one child per legal action with the masked and
// renormalized priors. Only the claim owner ever runs this for a given node.
func (s *Search) evaluateAndExpand(ctx context.Context, h Handle, n *Node, st game.State, gen uint64) (float64, error) {
	input := make([]float32, st.EncodedSize())
	st.Encode(input)

	value, policy, err := s.predictor.Predict(ctx, input)
	if err != nil {
		return 0, fmt.Errorf("leaf evaluation: %w", err)
	}
	if s.tree.generation.Load() != gen {
		return 0, errStaleGeneration
	}

	legal := st.LegalActions(nil)
	if len(legal) == 0 {
		// The rule set contract guarantees at least one action at any
		// non-terminal position; the search cannot proceed without it.
		panic(fmt.Sprintf("rule set contract violation: no legal actions in non-terminal position %v", st))
	}

	priors := make([]float32, len(legal))
	var sum float32
	for i, a := range legal {
		var p float32
		if int(a) >= 0 && int(a) < len(policy) {
			p = policy[a]
		}
		if p > 0 {
			priors[i] = p
			sum += p
		}
	}
	if sum > 0 {
		inv := 1 / sum
		for i := range priors {
			priors[i] *= inv
		}
	} else {
		uniform := 1 / float32(len(legal))
		for i := range priors {
			priors[i] = uniform
		}
	}

	arena := s.tree.arena
	edges := make([]Edge, len(legal))
	for i, a := range legal {
		edges[i] = Edge{
			Action: a,
			Prior:  priors[i],
			Child:  arena.Alloc(h, a, priors[i]),
		}
	}
	n.publishEdges(edges)
	return float64(value), nil
}

// expandRootOnly populates the root's children without recording a visit,
// used when the budget expired before any iteration completed.
func (s *Search) expandRootOnly(ctx context.Context) error {
	t := s.tree
	n := t.RootNode()
	if _, terminal := s.resolveTerminal(n, t.rootState); terminal {
		return nil
	}
	if !n.tryClaimExpansion() {
		return nil
	}
	_, err := s.evaluateAndExpand(ctx, t.root, n, t.rootState, t.generation.Load())
	if err != nil {
		n.unclaim()
		return err
	}
	return nil
}

// RootStats snapshots the root children. Safe to call while a search is
// running; statistics are read atomically.
func (s *Search) RootStats() []ChildStat {
	arena := s.tree.arena
	edges := s.tree.RootNode().Edges()
	children := make([]ChildStat, len(edges))
	for i, e := range edges {
		c := arena.Get(e.Child)
		visits := c.Visits()
		q := 0.0
		if visits > 0 {
			q = c.ValueSum() / float64(visits)
		}
		children[i] = ChildStat{Action: e.Action, Visits: visits, Q: q, Prior: e.Prior}
	}
	return children
}

func (s *Search) results(nodes uint64, elapsed time.Duration) *Results {
	children := s.RootStats()
	var total int64
	for _, c := range children {
		total += int64(c.Visits)
	}

	res := &Results{
		Nodes:         nodes,
		Elapsed:       elapsed,
		Children:      children,
		LowConfidence: total == 0,
	}
	if len(children) == 0 {
		res.Best = game.NoAction
		return res
	}

	var pick int
	switch {
	case total == 0:
		pick = argmaxPrior(children)
	case s.cfg.Temperature > 0:
		pick = sampleByVisits(children, s.cfg.Temperature)
	default:
		pick = argmaxVisits(children)
	}
	res.Best = children[pick].Action
	res.Value = children[pick].Q
	return res
}

// argmaxVisits picks the most visited child; ties break by highest Q, then
// lowest action index.
func argmaxVisits(children []ChildStat) int {
	best := 0
	for i := 1; i < len(children); i++ {
		c, b := children[i], children[best]
		switch {
		case c.Visits > b.Visits:
			best = i
		case c.Visits == b.Visits && c.Q > b.Q:
			best = i
		case c.Visits == b.Visits && c.Q == b.Q && c.Action < b.Action:
			best = i
		}
	}
	return best
}

func argmaxPrior(children []ChildStat) int {
	best := 0
	for i := 1; i < len(children); i++ {
		c, b := children[i], children[best]
		if c.Prior > b.Prior || (c.Prior == b.Prior && c.Action < b.Action) {
			best = i
		}
	}
	return best
}

// sampleByVisits draws a child with probability proportional to
// visits^(1/temperature).
func sampleByVisits(children []ChildStat, temperature float64) int {
	weights := make([]float64, len(children))
	var sum float64
	for i, c := range children {
		if c.Visits > 0 {
			weights[i] = math.Pow(float64(c.Visits), 1/temperature)
			sum += weights[i]
		}
	}
	if sum == 0 {
		return argmaxPrior(children)
	}
	r := frand.Float64() * sum
	for i, w := range weights {
		r -= w
		if r < 0 {
			return i
		}
	}
	return len(children) - 1
}

// PrincipalVariation walks the most-visited line from the root, up to max
// plies. Safe to call during a search.
func (s *Search) PrincipalVariation(max int) []game.Action {
	arena := s.tree.arena
	var pv []game.Action
	h := s.tree.root
	for len(pv) < max {
		edges := arena.Get(h).Edges()
		if len(edges) == 0 {
			break
		}
		best := 0
		bestVisits := int32(-1)
		for i := range edges {
			if v := arena.Get(edges[i].Child).Visits(); v > bestVisits {
				bestVisits = v
				best = i
			}
		}
		if bestVisits <= 0 {
			break
		}
		pv = append(pv, edges[best].Action)
		h = edges[best].Child
	}
	return pv
}

// SortedByVisits returns the root children ordered most-visited first, for
// human-facing output.
func SortedByVisits(children []ChildStat) []ChildStat {
	out := append([]ChildStat(nil), children...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Visits > out[j].Visits
	})
	return out
}

// Package mcts implements a game-agnostic Monte Carlo Tree Search guided by
// PUCT selection, with leaf values and move priors supplied by a learned
// evaluator. A fixed pool of workers shares one tree; per-field atomic
// statistics and a claim-based expansion protocol let them descend and update
// it concurrently without a global lock.
package mcts

import "context"

// Predictor is the evaluation capability consumed by the search: it maps one
// encoded position to a value estimate in [-1, 1] (from the perspective of the
// player to move) and a prior probability distribution over the rule set's
// full policy space. Implementations are expected to batch concurrent calls;
// workers block in Predict until their row of a batch returns.
type Predictor interface {
	Predict(ctx context.Context, input []float32) (value float32, policy []float32, err error)
}

// Config holds the search hyperparameters.
type Config struct {
	// CPuct scales the exploration term of the selection formula.
	CPuct float64
	// Workers is the number of concurrent search goroutines.
	Workers int
	// FPU ("first play urgency") is the Q assigned to children with no
	// completed or in-flight visits.
	FPU float64
	// DrawValue is the terminal value of a drawn position, from the
	// perspective of the player to move. Nonzero values bias the engine for
	// or against draws.
	DrawValue float64
	// Temperature controls move selection: 0 plays the most-visited child
	// deterministically, higher values sample proportionally to
	// visits^(1/Temperature).
	Temperature float64
	// RetainSubtrees keeps the subtrees of discarded siblings in the arena
	// when the root advances, in case they become reachable again. When
	// false the surviving subtree is compacted into a fresh arena.
	RetainSubtrees bool
	// DirichletEpsilon and DirichletAlpha configure root exploration noise:
	// P' = (1-eps)*P + eps*Dir(alpha). Epsilon 0 disables noise.
	DirichletEpsilon float64
	DirichletAlpha   float64
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		CPuct:          1.41,
		Workers:        1,
		FPU:            0,
		DrawValue:      0,
		Temperature:    0,
		DirichletAlpha: 0.3,
	}
}

func (c *Config) sanitize() {
	if c.CPuct <= 0 {
		c.CPuct = 1.41
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.DirichletAlpha <= 0 {
		c.DirichletAlpha = 0.3
	}
}

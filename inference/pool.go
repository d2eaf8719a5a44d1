package inference

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Pool fans Predict calls out across multiple batchers, each driving its own
// evaluator session. This allows parallel backend execution while every
// individual session still sees well-formed batches.
type Pool struct {
	batchers []*Batcher
	rr       atomic.Uint64
}

// NewPool builds sessions batchers, creating one evaluator per batcher via
// newEvaluator. Already-created evaluators are closed if a later one fails.
func NewPool(newEvaluator func() (Evaluator, error), sessions int, cfg BatcherConfig) (*Pool, error) {
	if sessions <= 0 {
		sessions = 1
	}
	batchers := make([]*Batcher, 0, sessions)
	for i := 0; i < sessions; i++ {
		ev, err := newEvaluator()
		if err != nil {
			for _, b := range batchers {
				_ = b.Close()
			}
			return nil, fmt.Errorf("create evaluator %d/%d: %w", i+1, sessions, err)
		}
		batchers = append(batchers, NewBatcher(ev, cfg))
	}
	return &Pool{batchers: batchers}, nil
}

// Predict routes the request to a batcher round-robin.
func (p *Pool) Predict(ctx context.Context, input []float32) (float32, []float32, error) {
	if len(p.batchers) == 0 {
		return 0, nil, fmt.Errorf("inference pool has no sessions")
	}
	idx := int(p.rr.Add(1)-1) % len(p.batchers)
	return p.batchers[idx].Predict(ctx, input)
}

// Close shuts down every batcher, returning the first error.
func (p *Pool) Close() error {
	var firstErr error
	for _, b := range p.batchers {
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Stats aggregates runtime statistics across the pool.
func (p *Pool) Stats() RuntimeStats {
	var out RuntimeStats
	for _, b := range p.batchers {
		st := b.Stats()
		out.TotalBatches += st.TotalBatches
		out.TotalItems += st.TotalItems
		out.TotalRunNanos += st.TotalRunNanos
		out.QueueLen += st.QueueLen
		if st.LastBatchSize > out.LastBatchSize {
			out.LastBatchSize = st.LastBatchSize
		}
	}
	if out.TotalBatches > 0 {
		out.AvgBatchSize = float64(out.TotalItems) / float64(out.TotalBatches)
		out.AvgRunMs = (float64(out.TotalRunNanos) / 1e6) / float64(out.TotalBatches)
	}
	return out
}

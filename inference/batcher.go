package inference

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"
)

const (
	DefaultMaxBatchSize  = 128
	DefaultMaxBatchDelay = 1 * time.Millisecond
)

// ErrClosed is returned by Predict after the batcher shuts down.
var ErrClosed = errors.New("inference: batcher closed")

// BatcherConfig tunes the batching trade-off: small batches reduce result
// staleness for the search workers, large batches improve evaluator
// throughput.
type BatcherConfig struct {
	// MaxBatchSize caps how many pending requests one dispatch drains.
	MaxBatchSize int
	// MaxBatchDelay is how long a partial batch waits before flushing.
	MaxBatchDelay time.Duration
	// QueueDepth bounds the request queue. A full queue blocks submitters
	// rather than dropping requests. Defaults to 2*MaxBatchSize.
	QueueDepth int
}

func (c *BatcherConfig) sanitize() {
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = DefaultMaxBatchSize
	}
	if c.MaxBatchDelay <= 0 {
		c.MaxBatchDelay = DefaultMaxBatchDelay
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 2 * c.MaxBatchSize
	}
}

type request struct {
	input []float32
	resp  chan response
}

type response struct {
	pred Prediction
	err  error
}

// Batcher aggregates concurrent Predict calls into evaluator batches. One
// dispatch goroutine drains up to MaxBatchSize pending requests or flushes on
// the MaxBatchDelay ticker, invokes the evaluator once, and routes each
// result row back to its caller's response channel.
type Batcher struct {
	evaluator Evaluator
	cfg       BatcherConfig
	requests  chan request
	done      chan struct{}
	closeOnce sync.Once

	totalBatches  atomic.Int64
	totalItems    atomic.Int64
	totalRunNanos atomic.Int64
	lastBatchSize atomic.Int64
}

// NewBatcher starts a dispatch loop over the given evaluator. The batcher
// takes ownership of the evaluator and closes it on Close.
func NewBatcher(evaluator Evaluator, cfg BatcherConfig) *Batcher {
	cfg.sanitize()
	b := &Batcher{
		evaluator: evaluator,
		cfg:       cfg,
		requests:  make(chan request, cfg.QueueDepth),
		done:      make(chan struct{}),
	}
	go b.dispatchLoop()
	return b
}

// Close stops the dispatch loop and releases the evaluator. Pending requests
// fail with ErrClosed.
func (b *Batcher) Close() error {
	b.closeOnce.Do(func() { close(b.done) })
	return b.evaluator.Close()
}

// Predict submits one encoded position and blocks until its row of a batched
// evaluation returns. This is the single suspension point of a search worker.
func (b *Batcher) Predict(ctx context.Context, input []float32) (float32, []float32, error) {
	resp := make(chan response, 1)
	select {
	case b.requests <- request{input: input, resp: resp}:
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	case <-b.done:
		return 0, nil, ErrClosed
	}

	select {
	case r := <-resp:
		return r.pred.Value, r.pred.Policy, r.err
	case <-ctx.Done():
		// The dispatch loop still delivers into the buffered channel; the
		// abandoned response is collected with it.
		return 0, nil, ctx.Err()
	case <-b.done:
		return 0, nil, ErrClosed
	}
}

// Stats snapshots the batching counters.
func (b *Batcher) Stats() RuntimeStats {
	batches := b.totalBatches.Load()
	items := b.totalItems.Load()
	runNanos := b.totalRunNanos.Load()

	st := RuntimeStats{
		TotalBatches:  batches,
		TotalItems:    items,
		TotalRunNanos: runNanos,
		LastBatchSize: b.lastBatchSize.Load(),
		QueueLen:      len(b.requests),
	}
	if batches > 0 {
		st.AvgBatchSize = float64(items) / float64(batches)
		st.AvgRunMs = (float64(runNanos) / 1e6) / float64(batches)
	}
	return st
}

func (b *Batcher) dispatchLoop() {
	pending := make([]request, 0, b.cfg.MaxBatchSize)

	ticker := time.NewTicker(b.cfg.MaxBatchDelay)
	defer ticker.Stop()

	for {
		select {
		case req := <-b.requests:
			pending = append(pending, req)
			if len(pending) >= b.cfg.MaxBatchSize {
				b.runBatch(pending)
				pending = pending[:0]
			}
		case <-ticker.C:
			if len(pending) > 0 {
				b.runBatch(pending)
				pending = pending[:0]
			}
		case <-b.done:
			b.failBatch(pending, ErrClosed)
			return
		}
	}
}

// runBatch invokes the evaluator on the assembled batch, retrying once on
// failure before fanning the error out to every pending request: the search
// cannot make progress without evaluations, so a repeat failure is surfaced
// rather than swallowed.
func (b *Batcher) runBatch(requests []request) {
	inputs := make([][]float32, len(requests))
	for i := range requests {
		inputs[i] = requests[i].input
	}

	var preds []Prediction
	start := time.Now()
	err := retry.Do(
		func() error {
			var err error
			preds, err = b.evaluator.EvaluateBatch(inputs)
			return err
		},
		retry.Attempts(2),
		retry.LastErrorOnly(true),
	)

	b.totalBatches.Add(1)
	b.totalItems.Add(int64(len(requests)))
	b.totalRunNanos.Add(time.Since(start).Nanoseconds())
	b.lastBatchSize.Store(int64(len(requests)))

	if err != nil {
		b.failBatch(requests, err)
		return
	}
	if len(preds) != len(requests) {
		b.failBatch(requests, fmt.Errorf("evaluator returned %d rows for %d inputs", len(preds), len(requests)))
		return
	}
	for i := range requests {
		requests[i].resp <- response{pred: preds[i]}
	}
}

func (b *Batcher) failBatch(requests []request, err error) {
	for i := range requests {
		requests[i].resp <- response{err: fmt.Errorf("evaluate batch: %w", err)}
	}
}

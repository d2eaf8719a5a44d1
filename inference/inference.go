// Package inference provides the evaluation side of the engine: an Evaluator
// abstraction over batch-friendly backends, a Batcher that aggregates
// concurrent leaf requests from search workers into batches, and a Pool that
// fans batches out across multiple backend sessions.
package inference

// Prediction is one row of evaluator output: a value estimate in [-1, 1]
// from the perspective of the player to move, and a probability distribution
// over the rule set's full policy space.
type Prediction struct {
	Value  float32
	Policy []float32
}

// Evaluator maps a batch of encoded positions to predictions, one per input
// and in the same order. Implementations own any backend resources (an ONNX
// session, an accelerator context) and are driven by a single dispatch loop,
// never by search workers directly.
type Evaluator interface {
	EvaluateBatch(inputs [][]float32) ([]Prediction, error)
	Close() error
}

// RuntimeStats summarizes batching behavior, for tuning the batch size and
// delay knobs.
type RuntimeStats struct {
	TotalBatches  int64
	TotalItems    int64
	TotalRunNanos int64
	LastBatchSize int64
	QueueLen      int
	AvgBatchSize  float64
	AvgRunMs      float64
}

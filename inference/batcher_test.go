package inference

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// echoEvaluator returns each input's first float as the value, so tests can
// verify that batched rows are routed back to the right caller. failFirst
// makes the first N calls fail, exercising the retry path.
type echoEvaluator struct {
	mu         sync.Mutex
	batchSizes []int
	failFirst  int
	closed     atomic.Bool
}

func (e *echoEvaluator) EvaluateBatch(inputs [][]float32) ([]Prediction, error) {
	e.mu.Lock()
	e.batchSizes = append(e.batchSizes, len(inputs))
	fail := e.failFirst > 0
	if fail {
		e.failFirst--
	}
	e.mu.Unlock()
	if fail {
		return nil, errors.New("transient backend error")
	}

	preds := make([]Prediction, len(inputs))
	for i, in := range inputs {
		preds[i] = Prediction{Value: in[0], Policy: []float32{1}}
	}
	return preds, nil
}

func (e *echoEvaluator) Close() error {
	e.closed.Store(true)
	return nil
}

func (e *echoEvaluator) sizes() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.batchSizes...)
}

func TestBatcherRoutesRows(t *testing.T) {
	ev := &echoEvaluator{}
	b := NewBatcher(ev, BatcherConfig{MaxBatchSize: 8, MaxBatchDelay: time.Millisecond})
	defer b.Close()

	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 64; i++ {
		g.Go(func() error {
			want := float32(i)
			value, policy, err := b.Predict(ctx, []float32{want})
			if err != nil {
				return err
			}
			assert.Equal(t, want, value)
			assert.Len(t, policy, 1)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	total := 0
	for _, s := range ev.sizes() {
		assert.LessOrEqual(t, s, 8)
		total += s
	}
	assert.Equal(t, 64, total)
}

func TestBatcherFlushesPartialBatchOnDelay(t *testing.T) {
	ev := &echoEvaluator{}
	b := NewBatcher(ev, BatcherConfig{MaxBatchSize: 128, MaxBatchDelay: time.Millisecond})
	defer b.Close()

	// A single request never fills the batch; only the delay ticker can
	// dispatch it.
	value, _, err := b.Predict(context.Background(), []float32{42})
	require.NoError(t, err)
	assert.Equal(t, float32(42), value)
	assert.Equal(t, []int{1}, ev.sizes())
}

func TestBatcherRetriesOnce(t *testing.T) {
	ev := &echoEvaluator{failFirst: 1}
	b := NewBatcher(ev, BatcherConfig{MaxBatchSize: 4, MaxBatchDelay: time.Millisecond})
	defer b.Close()

	value, _, err := b.Predict(context.Background(), []float32{7})
	require.NoError(t, err)
	assert.Equal(t, float32(7), value)
	assert.Equal(t, []int{1, 1}, ev.sizes())
}

func TestBatcherRepeatFailureFansOut(t *testing.T) {
	ev := &echoEvaluator{failFirst: 2}
	b := NewBatcher(ev, BatcherConfig{MaxBatchSize: 4, MaxBatchDelay: time.Millisecond})
	defer b.Close()

	_, _, err := b.Predict(context.Background(), []float32{7})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "evaluate batch")
}

func TestBatcherPredictAfterClose(t *testing.T) {
	ev := &echoEvaluator{}
	b := NewBatcher(ev, BatcherConfig{})
	require.NoError(t, b.Close())
	assert.True(t, ev.closed.Load())

	_, _, err := b.Predict(context.Background(), []float32{1})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestBatcherPredictHonorsContext(t *testing.T) {
	ev := &echoEvaluator{}
	b := NewBatcher(ev, BatcherConfig{MaxBatchSize: 4, MaxBatchDelay: time.Hour})
	defer b.Close()

	// An hour-long delay with an unfilled batch: only cancellation returns.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, _, err := b.Predict(ctx, []float32{1})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBatcherStats(t *testing.T) {
	ev := &echoEvaluator{}
	b := NewBatcher(ev, BatcherConfig{MaxBatchSize: 2, MaxBatchDelay: time.Millisecond})
	defer b.Close()

	for i := 0; i < 6; i++ {
		_, _, err := b.Predict(context.Background(), []float32{1})
		require.NoError(t, err)
	}

	st := b.Stats()
	assert.EqualValues(t, 6, st.TotalItems)
	assert.Positive(t, st.TotalBatches)
	assert.Positive(t, st.AvgBatchSize)
}

func TestPoolRoundRobin(t *testing.T) {
	var created []*echoEvaluator
	p, err := NewPool(func() (Evaluator, error) {
		ev := &echoEvaluator{}
		created = append(created, ev)
		return ev, nil
	}, 2, BatcherConfig{MaxBatchSize: 1, MaxBatchDelay: time.Millisecond})
	require.NoError(t, err)
	require.Len(t, created, 2)

	for i := 0; i < 4; i++ {
		_, _, err := p.Predict(context.Background(), []float32{float32(i)})
		require.NoError(t, err)
	}
	// Round-robin routing splits the traffic evenly across sessions.
	assert.Len(t, created[0].sizes(), 2)
	assert.Len(t, created[1].sizes(), 2)

	require.NoError(t, p.Close())
	for _, ev := range created {
		assert.True(t, ev.closed.Load())
	}
}

func TestPoolCreateFailureClosesEarlier(t *testing.T) {
	var first *echoEvaluator
	_, err := NewPool(func() (Evaluator, error) {
		if first == nil {
			first = &echoEvaluator{}
			return first, nil
		}
		return nil, errors.New("device busy")
	}, 2, BatcherConfig{})
	require.Error(t, err)
	assert.True(t, first.closed.Load())
}

func TestUniformEvaluator(t *testing.T) {
	u := Uniform{PolicyDim: 4}
	preds, err := u.EvaluateBatch([][]float32{{0}, {1}})
	require.NoError(t, err)
	require.Len(t, preds, 2)
	for _, p := range preds {
		assert.Zero(t, p.Value)
		require.Len(t, p.Policy, 4)
		for _, v := range p.Policy {
			assert.Equal(t, float32(0.25), v)
		}
	}
}

func TestSoftmaxInPlace(t *testing.T) {
	row := []float32{1, 1, 1, 1}
	softmaxInPlace(row)
	for _, v := range row {
		assert.InDelta(t, 0.25, float64(v), 1e-6)
	}

	row = []float32{0, 100}
	softmaxInPlace(row)
	assert.InDelta(t, 0, float64(row[0]), 1e-6)
	assert.InDelta(t, 1, float64(row[1]), 1e-6)
}

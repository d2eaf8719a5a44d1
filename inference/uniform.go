package inference

// Uniform is an evaluator that knows nothing: value 0 and a uniform policy.
// It lets the engine run as pure visit-count MCTS when no model is available,
// and serves as a deterministic stub in tests.
type Uniform struct {
	PolicyDim int
}

func (u Uniform) EvaluateBatch(inputs [][]float32) ([]Prediction, error) {
	p := float32(1) / float32(u.PolicyDim)
	preds := make([]Prediction, len(inputs))
	for i := range preds {
		policy := make([]float32, u.PolicyDim)
		for j := range policy {
			policy[j] = p
		}
		preds[i] = Prediction{Policy: policy}
	}
	return preds, nil
}

func (u Uniform) Close() error { return nil }

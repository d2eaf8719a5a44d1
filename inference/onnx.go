package inference

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/rs/zerolog/log"
	ort "github.com/yalue/onnxruntime_go"
)

// OnnxConfig describes a model for OnnxEvaluator. InputShape is the
// per-sample tensor shape (the batch dimension is prepended); its product
// must equal the rule set's encoded size.
type OnnxConfig struct {
	ModelPath  string
	InputShape []int64
	PolicyDim  int

	// Tensor names; defaults are "input", "policy", "value".
	InputName  string
	PolicyName string
	ValueName  string
}

func (c *OnnxConfig) sanitize() {
	if c.InputName == "" {
		c.InputName = "input"
	}
	if c.PolicyName == "" {
		c.PolicyName = "policy"
	}
	if c.ValueName == "" {
		c.ValueName = "value"
	}
}

func (c *OnnxConfig) inputSize() int {
	size := 1
	for _, d := range c.InputShape {
		size *= int(d)
	}
	return size
}

var ortInitOnce sync.Once
var ortInitErr error

// OnnxEvaluator runs a policy/value network through ONNX Runtime. The policy
// head is expected to produce logits; rows are softmaxed before they are
// returned.
type OnnxEvaluator struct {
	session *ort.DynamicAdvancedSession
	cfg     OnnxConfig
}

// NewOnnxEvaluator loads the model and creates a session. ORT environment
// initialization is process-global and performed once.
func NewOnnxEvaluator(cfg OnnxConfig) (*OnnxEvaluator, error) {
	cfg.sanitize()
	if len(cfg.InputShape) == 0 || cfg.PolicyDim <= 0 {
		return nil, fmt.Errorf("onnx evaluator requires an input shape and policy dim")
	}

	if runtime.GOOS == "linux" {
		if p := os.Getenv("ORT_SHARED_LIBRARY_PATH"); p != "" {
			ort.SetSharedLibraryPath(p)
		} else if cwd, err := os.Getwd(); err == nil {
			for _, name := range []string{"libonnxruntime.so", "libonnxruntime.so.1"} {
				abs := filepath.Join(cwd, name)
				if _, err := os.Stat(abs); err == nil {
					ort.SetSharedLibraryPath(abs)
					break
				}
			}
		}
	}

	ortInitOnce.Do(func() {
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, fmt.Errorf("init onnxruntime: %w", ortInitErr)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	// The batcher is the only caller; let batches, not ORT threads, provide
	// the parallelism.
	options.SetIntraOpNumThreads(1)
	options.SetInterOpNumThreads(1)

	if cudaOptions, err := ort.NewCUDAProviderOptions(); err == nil {
		defer cudaOptions.Destroy()
		if err := options.AppendExecutionProviderCUDA(cudaOptions); err != nil {
			log.Warn().Err(err).Msg("CUDA provider unavailable, using CPU")
		} else {
			log.Info().Msg("CUDA provider enabled")
		}
	}

	session, err := ort.NewDynamicAdvancedSession(
		cfg.ModelPath,
		[]string{cfg.InputName},
		[]string{cfg.PolicyName, cfg.ValueName},
		options,
	)
	if err != nil {
		return nil, fmt.Errorf("create onnx session: %w", err)
	}
	return &OnnxEvaluator{session: session, cfg: cfg}, nil
}

func (e *OnnxEvaluator) Close() error {
	return e.session.Destroy()
}

func (e *OnnxEvaluator) EvaluateBatch(inputs [][]float32) ([]Prediction, error) {
	n := len(inputs)
	if n == 0 {
		return nil, nil
	}
	inputSize := e.cfg.inputSize()

	flat := make([]float32, 0, n*inputSize)
	for i, in := range inputs {
		if len(in) != inputSize {
			return nil, fmt.Errorf("input %d has %d floats, model expects %d", i, len(in), inputSize)
		}
		flat = append(flat, in...)
	}

	shape := append([]int64{int64(n)}, e.cfg.InputShape...)
	inputTensor, err := ort.NewTensor(ort.NewShape(shape...), flat)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	policyTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(int64(n), int64(e.cfg.PolicyDim)))
	if err != nil {
		return nil, fmt.Errorf("create policy tensor: %w", err)
	}
	defer policyTensor.Destroy()

	valueTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(int64(n), 1))
	if err != nil {
		return nil, fmt.Errorf("create value tensor: %w", err)
	}
	defer valueTensor.Destroy()

	if err := e.session.Run(
		[]ort.Value{inputTensor},
		[]ort.Value{policyTensor, valueTensor},
	); err != nil {
		return nil, fmt.Errorf("run onnx session: %w", err)
	}

	policyData := policyTensor.GetData()
	valueData := valueTensor.GetData()

	preds := make([]Prediction, n)
	for i := 0; i < n; i++ {
		row := make([]float32, e.cfg.PolicyDim)
		copy(row, policyData[i*e.cfg.PolicyDim:(i+1)*e.cfg.PolicyDim])
		softmaxInPlace(row)
		preds[i] = Prediction{
			Value:  valueData[i],
			Policy: row,
		}
	}
	return preds, nil
}

func softmaxInPlace(logits []float32) {
	if len(logits) == 0 {
		return
	}
	maxV := logits[0]
	for _, v := range logits[1:] {
		if v > maxV {
			maxV = v
		}
	}
	var sum float32
	for i, v := range logits {
		e := float32(math.Exp(float64(v - maxV)))
		logits[i] = e
		sum += e
	}
	if sum > 0 {
		inv := 1 / sum
		for i := range logits {
			logits[i] *= inv
		}
	}
}

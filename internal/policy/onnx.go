package policy

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

type ONNXConfig struct {
	ModelPath   string
	LibraryPath string
	InputName   string
	OutputName  string
	Assets      int
}

var (
	ortOnce sync.Once
	ortErr  error
)

func initializeORT(libPath string) error {
	ortOnce.Do(func() {
		if libPath == "" {
			libPath = "/usr/lib/libonnxruntime.so"
			if runtime.GOOS == "windows" {
				libPath = "onnxruntime.dll"
			} else if runtime.GOOS == "darwin" {
				libPath = "libonnxruntime.dylib"
			}
		}
		ort.SetSharedLibraryPath(libPath)
		ortErr = ort.InitializeEnvironment()
	})
	return ortErr
}

// ONNX runs a trained model with input [1, 5n+1] and output [1, 2n].
type ONNX struct {
	mu      sync.Mutex
	assets  int
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

func NewONNX(cfg ONNXConfig) (*ONNX, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("onnx model path is required")
	}
	if cfg.Assets <= 0 {
		return nil, errors.New("onnx policy needs at least one asset")
	}
	if err := initializeORT(cfg.LibraryPath); err != nil {
		return nil, fmt.Errorf("initialize onnxruntime: %w", err)
	}
	input, err := ort.NewTensor(ort.NewShape(1, int64(5*cfg.Assets+1)), make([]float32, 5*cfg.Assets+1))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(2*cfg.Assets)))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}
	session, err := ort.NewAdvancedSession(cfg.ModelPath,
		[]string{cfg.InputName}, []string{cfg.OutputName},
		[]ort.Value{input}, []ort.Value{output}, nil)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &ONNX{assets: cfg.Assets, session: session, input: input, output: output}, nil
}

func (o *ONNX) Predict(ctx context.Context, observation []float64) ([]float64, error) {
	if err := checkShape(observation, o.assets); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return nil, errors.New("onnx policy is closed")
	}
	data := o.input.GetData()
	for i, v := range observation {
		data[i] = float32(v)
	}
	if err := o.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	raw := o.output.GetData()
	out := make([]float64, len(raw))
	for i, v := range raw {
		out[i] = float64(v)
	}
	return out, nil
}

func (o *ONNX) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	var errs []error
	if o.session != nil {
		errs = append(errs, o.session.Destroy())
		o.session = nil
	}
	if o.input != nil {
		errs = append(errs, o.input.Destroy())
		o.input = nil
	}
	if o.output != nil {
		errs = append(errs, o.output.Destroy())
		o.output = nil
	}
	return errors.Join(errs...)
}

package detections

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"
)

// Availability is the outcome of Initialize.
type Availability int

const (
	// Disabled: mock forced by configuration, or ONNX Runtime is absent.
	Disabled Availability = iota
	// NotFound: the model could not be resolved or loaded.
	NotFound
	// Ready: a session is loaded and usable.
	Ready
)

func (a Availability) String() string {
	switch a {
	case Disabled:
		return "disabled"
	case NotFound:
		return "not_found"
	case Ready:
		return "ready"
	}
	return fmt.Sprintf("availability(%d)", int(a))
}

// Engine runs a tensor through the model.
type Engine interface {
	Infer(ctx context.Context, t Tensor) (RawOutput, error)
	Close() error
}

type EngineConfig struct {
	ModelPath   string
	LibraryPath string
	ForceMock   bool
	InputSize   int
	Sessions    int
	Timeout     time.Duration
}

// Initialize tries to bring up ONNX Runtime and load the model. Load
// failures are logged and reported as NotFound; startup never fails here.
func Initialize(cfg EngineConfig, log logrus.FieldLogger) (Availability, Engine) {
	if cfg.ForceMock {
		log.Info("Mock mode forced by configuration")
		return Disabled, nil
	}

	libPath, err := resolveLibrary(cfg.LibraryPath)
	if err != nil {
		log.WithError(err).Warn("ONNX Runtime unavailable, using mock detections")
		return Disabled, nil
	}

	if !ort.IsInitialized() {
		ort.SetSharedLibraryPath(libPath)
		if err := ort.InitializeEnvironment(); err != nil {
			log.WithError(err).WithField("library", libPath).Warn("Failed to initialize ONNX Runtime, using mock detections")
			return Disabled, nil
		}
	}

	if !modelExists(cfg.ModelPath) {
		log.WithField("model", cfg.ModelPath).Warn("Model file not found, using mock detections")
		ort.DestroyEnvironment()
		return NotFound, nil
	}

	engine, err := newOnnxEngine(cfg)
	if err != nil {
		log.WithError(err).WithField("model", cfg.ModelPath).Warn("Failed to load model, using mock detections")
		ort.DestroyEnvironment()
		return NotFound, nil
	}

	log.WithFields(logrus.Fields{
		"model":    cfg.ModelPath,
		"sessions": cfg.Sessions,
	}).Info("Model session ready")
	return Ready, engine
}

// ModelSession owns one ONNX Runtime session and its bound I/O tensors.
// The bound tensors make it unsafe to share between concurrent runs.
type ModelSession struct {
	Session *ort.AdvancedSession
	Input   *ort.Tensor[float32]
	Output  *ort.Tensor[float32]
	// planar is set for channel-first (NCHW) models.
	planar bool
	size   int
}

func (m *ModelSession) Destroy() {
	if m.Session != nil {
		m.Session.Destroy()
	}
	if m.Input != nil {
		m.Input.Destroy()
	}
	if m.Output != nil {
		m.Output.Destroy()
	}
}

func (m *ModelSession) run(t Tensor) (RawOutput, error) {
	dst := m.Input.GetData()
	if len(t.Data) != len(dst) {
		return RawOutput{}, newError(ErrInference, StageInference, nil,
			"tensor has %d values, model input expects %d", len(t.Data), len(dst))
	}

	if m.planar {
		interleavedToPlanar(dst, t.Data, m.size)
	} else {
		copy(dst, t.Data)
	}

	if err := m.Session.Run(); err != nil {
		return RawOutput{}, newError(ErrInference, StageInference, err, "model inference")
	}

	// The output tensor is reused by the next run, so hand out a copy.
	out := m.Output.GetData()
	data := make([]float32, len(out))
	copy(data, out)

	return RawOutput{
		Data:  data,
		Shape: append([]int64(nil), m.Output.GetShape()...),
	}, nil
}

func interleavedToPlanar(dst, src []float32, size int) {
	channelSize := size * size
	for i := 0; i < channelSize; i++ {
		dst[i] = src[i*channels]
		dst[channelSize+i] = src[i*channels+1]
		dst[channelSize*2+i] = src[i*channels+2]
	}
}

type modelIO struct {
	inputName   string
	outputName  string
	inputShape  ort.Shape
	outputShape ort.Shape
	planar      bool
}

// inspectModel reads the model's declared I/O and pins dynamic batch and
// spatial dimensions.
func inspectModel(modelPath string, size int) (modelIO, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return modelIO{}, fmt.Errorf("error reading model I/O info: %w", err)
	}
	if len(inputs) != 1 || len(outputs) == 0 {
		return modelIO{}, fmt.Errorf("expected 1 input and at least 1 output, got %d and %d", len(inputs), len(outputs))
	}

	in := inputs[0].Dimensions
	if len(in) != 4 {
		return modelIO{}, fmt.Errorf("expected rank 4 input, got %v", in)
	}

	var io modelIO
	io.inputName = inputs[0].Name
	io.outputName = outputs[0].Name

	switch {
	case in[1] == channels:
		io.planar = true
		io.inputShape = ort.NewShape(1, channels, int64(size), int64(size))
	case in[3] == channels:
		io.inputShape = ort.NewShape(1, int64(size), int64(size), channels)
	default:
		return modelIO{}, fmt.Errorf("cannot find a 3-channel axis in input %v", in)
	}

	out := append(ort.Shape(nil), outputs[0].Dimensions...)
	for i, d := range out {
		if d > 0 {
			continue
		}
		if i != 0 {
			return modelIO{}, fmt.Errorf("output %v has a dynamic non-batch dimension", out)
		}
		out[i] = 1
	}
	io.outputShape = out

	return io, nil
}

func newModelSession(modelPath string, io modelIO, size int) (*ModelSession, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating session options: %w", err)
	}
	defer options.Destroy()

	options.SetIntraOpNumThreads(runtime.NumCPU())
	options.SetInterOpNumThreads(runtime.NumCPU())

	inputTensor, err := ort.NewEmptyTensor[float32](io.inputShape)
	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](io.outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("error creating output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{io.inputName},
		[]string{io.outputName},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		options,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("error creating session: %w", err)
	}

	return &ModelSession{
		Session: session,
		Input:   inputTensor,
		Output:  outputTensor,
		planar:  io.planar,
		size:    size,
	}, nil
}

type onnxEngine struct {
	pool    *SessionPool[*ModelSession]
	timeout time.Duration
}

func newOnnxEngine(cfg EngineConfig) (*onnxEngine, error) {
	size := cfg.InputSize
	if size <= 0 {
		size = DefaultInputSize
	}

	io, err := inspectModel(cfg.ModelPath, size)
	if err != nil {
		return nil, err
	}

	pool, err := NewSessionPool(cfg.Sessions, func() (*ModelSession, error) {
		return newModelSession(cfg.ModelPath, io, size)
	})
	if err != nil {
		return nil, err
	}

	return &onnxEngine{pool: pool, timeout: cfg.Timeout}, nil
}

func (e *onnxEngine) Infer(ctx context.Context, t Tensor) (RawOutput, error) {
	return inferWithPool(ctx, e.pool, e.timeout, func(s *ModelSession) (RawOutput, error) {
		return s.run(t)
	})
}

func (e *onnxEngine) Metrics() PoolSnapshot {
	return e.pool.Metrics()
}

// Close waits for in-flight runs before tearing down the environment they
// execute in.
func (e *onnxEngine) Close() error {
	e.pool.Destroy()
	e.pool.Wait()
	return ort.DestroyEnvironment()
}

type inferResult struct {
	out RawOutput
	err error
}

// inferWithPool runs fn on a pooled session, bounded by timeout. When the
// bound expires the caller gets ErrInference right away; the session goes
// back to the pool only once the in-flight run has finished.
func inferWithPool[S Session](ctx context.Context, pool *SessionPool[S], timeout time.Duration,
	fn func(S) (RawOutput, error)) (RawOutput, error) {
	if pool == nil {
		return RawOutput{}, newError(ErrSessionUnavailable, StageInference, nil, "no session loaded")
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	session, err := pool.Acquire(ctx)
	if err != nil {
		return RawOutput{}, newError(ErrSessionUnavailable, StageInference, err, "acquire session")
	}

	done := make(chan inferResult, 1)
	go func() {
		defer pool.Release(session)
		defer func() {
			if r := recover(); r != nil {
				done <- inferResult{err: newError(ErrInference, StageInference, nil, "engine panic: %v", r)}
			}
		}()
		out, err := fn(session)
		done <- inferResult{out: out, err: err}
	}()

	select {
	case res := <-done:
		return res.out, res.err
	case <-ctx.Done():
		return RawOutput{}, newError(ErrInference, StageInference, ctx.Err(), "inference abandoned")
	}
}

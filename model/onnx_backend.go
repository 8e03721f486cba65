package model

import (
	"fmt"
	"log/slog"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/cwbudde/ddsp-synth/feature"
	"github.com/cwbudde/ddsp-synth/internal/ddspconst"
)

// ortInitOnce guards the process-wide ONNX Runtime environment, grounded
// on the same once-per-process pattern used for vendored ORT bindings
// elsewhere in the corpus (the environment must not be initialized twice).
var (
	ortInitOnce sync.Once
	ortInitErr  error
)

func ensureEnvironment() error {
	ortInitOnce.Do(func() {
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

// delegateAttempt names one accelerator option to try, in priority order.
// Each is attempted in Load; a failure falls through to the next, and
// exhausting every option without a successful plain-CPU session returns
// ErrDelegate.
type delegateAttempt struct {
	name  string
	apply func(*ort.SessionOptions) error
	isCPU bool // true for the final plain-CPU fallback
}

func delegateAttempts() []delegateAttempt {
	return []delegateAttempt{
		{name: "cuda", apply: func(o *ort.SessionOptions) error {
			cudaOpts, err := ort.NewCUDAProviderOptions()
			if err != nil {
				return err
			}
			defer cudaOpts.Destroy()
			return o.AppendExecutionProviderCUDA(cudaOpts)
		}},
		{name: "cpu", apply: func(o *ort.SessionOptions) error {
			return nil // default CPU execution, no provider appended
		}, isCPU: true},
	}
}

// OnnxBackend runs the trained DDSP decoder through ONNX Runtime. Tensors
// are allocated once in Load and reused for every Call, mirroring the
// persistent-tensor pattern of a streaming ONNX consumer: copy inputs in,
// Run, copy outputs out, carry the hidden state forward by copying the
// state-out tensor back into the state-in tensor.
type OnnxBackend struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	loaded  bool
	logger  *slog.Logger

	tF0      *ort.Tensor[float32]
	tLoud    *ort.Tensor[float32]
	tState   *ort.Tensor[float32]
	tAmp     *ort.Tensor[float32]
	tHarm    *ort.Tensor[float32]
	tNoise   *ort.Tensor[float32]
	tStateN  *ort.Tensor[float32]

	state *State
}

// NewOnnxBackend creates an unloaded backend. logger may be nil, in which
// case slog.Default() is used for delegate-fallback warnings.
func NewOnnxBackend(logger *slog.Logger) *OnnxBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &OnnxBackend{logger: logger, state: NewState()}
}

func (b *OnnxBackend) IsLoaded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loaded
}

// Load verifies the seven required tensor names against the model's
// metadata, allocates persistent input/output tensors, attempts each
// delegate in priority order, and zeros the hidden state.
func (b *OnnxBackend) Load(path string, threads int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.loaded {
		b.closeLocked()
	}

	if err := ensureEnvironment(); err != nil {
		return wrapLoad(err)
	}

	inputInfo, outputInfo, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return wrapLoad(err)
	}
	if err := verifyTensorNames(inputInfo, outputInfo); err != nil {
		return err
	}

	tF0, err := ort.NewEmptyTensor[float32](ort.NewShape(1))
	if err != nil {
		return wrapLoad(err)
	}
	tLoud, err := ort.NewEmptyTensor[float32](ort.NewShape(1))
	if err != nil {
		tF0.Destroy()
		return wrapLoad(err)
	}
	tState, err := ort.NewEmptyTensor[float32](ort.NewShape(1, ddspconst.HiddenStateSize))
	if err != nil {
		tF0.Destroy()
		tLoud.Destroy()
		return wrapLoad(err)
	}
	tAmp, err := ort.NewEmptyTensor[float32](ort.NewShape(1))
	if err != nil {
		tF0.Destroy()
		tLoud.Destroy()
		tState.Destroy()
		return wrapLoad(err)
	}
	tHarm, err := ort.NewEmptyTensor[float32](ort.NewShape(1, ddspconst.NumHarmonics))
	if err != nil {
		tF0.Destroy()
		tLoud.Destroy()
		tState.Destroy()
		tAmp.Destroy()
		return wrapLoad(err)
	}
	tNoise, err := ort.NewEmptyTensor[float32](ort.NewShape(1, ddspconst.NumNoiseBands))
	if err != nil {
		tF0.Destroy()
		tLoud.Destroy()
		tState.Destroy()
		tAmp.Destroy()
		tHarm.Destroy()
		return wrapLoad(err)
	}
	tStateN, err := ort.NewEmptyTensor[float32](ort.NewShape(1, ddspconst.HiddenStateSize))
	if err != nil {
		tF0.Destroy()
		tLoud.Destroy()
		tState.Destroy()
		tAmp.Destroy()
		tHarm.Destroy()
		tNoise.Destroy()
		return wrapLoad(err)
	}

	inputNames := []string{InputF0Name, InputLoudnessName, InputStateName}
	outputNames := []string{OutputAmplitudeName, OutputHarmonicsName, OutputNoiseName, OutputStateName}
	inputs := []ort.Value{tF0, tLoud, tState}
	outputs := []ort.Value{tAmp, tHarm, tNoise, tStateN}

	session, usedCPUOnly, err := createSessionWithFallback(path, inputNames, outputNames, inputs, outputs, threads, b.logger)
	if err != nil {
		tF0.Destroy()
		tLoud.Destroy()
		tState.Destroy()
		tAmp.Destroy()
		tHarm.Destroy()
		tNoise.Destroy()
		tStateN.Destroy()
		if usedCPUOnly {
			return err // ErrDelegate: every option, including plain CPU, failed
		}
		return wrapLoad(err)
	}

	b.session = session
	b.tF0, b.tLoud, b.tState = tF0, tLoud, tState
	b.tAmp, b.tHarm, b.tNoise, b.tStateN = tAmp, tHarm, tNoise, tStateN
	b.state.Reset()
	b.loaded = true
	return nil
}

func verifyTensorNames(inputs, outputs []ort.InputOutputInfo) error {
	have := make(map[string]bool, len(inputs)+len(outputs))
	for _, i := range inputs {
		have[i.Name] = true
	}
	for _, o := range outputs {
		have[o.Name] = true
	}
	for _, name := range requiredTensorNames {
		if !have[name] {
			return fmt.Errorf("%w: %q", ErrTensorShape, name)
		}
	}
	return nil
}

// createSessionWithFallback tries each delegate in priority order. Every
// delegate or session-creation failure is logged at Warn (a failure to
// create the session options is not logged) and the loop falls through to
// the next; only exhausting the plain-CPU option
// too is a hard failure (ErrDelegate).
func createSessionWithFallback(
	path string,
	inputNames, outputNames []string,
	inputs, outputs []ort.Value,
	threads int,
	logger *slog.Logger,
) (session *ort.AdvancedSession, exhaustedCPU bool, err error) {
	var lastErr error
	for _, attempt := range delegateAttempts() {
		opts, oErr := ort.NewSessionOptions()
		if oErr != nil {
			lastErr = oErr
			continue
		}
		if threads > 0 {
			_ = opts.SetIntraOpNumThreads(threads)
		}
		if aErr := attempt.apply(opts); aErr != nil {
			logger.Warn("ddsp: delegate unavailable, falling back", "delegate", attempt.name, "error", aErr)
			opts.Destroy()
			lastErr = aErr
			continue
		}
		s, sErr := ort.NewAdvancedSession(path, inputNames, outputNames, inputs, outputs, opts)
		opts.Destroy()
		if sErr != nil {
			logger.Warn("ddsp: session creation failed for delegate, falling back", "delegate", attempt.name, "error", sErr)
			lastErr = sErr
			if attempt.isCPU {
				return nil, true, fmt.Errorf("%w: %v", ErrDelegate, sErr)
			}
			continue
		}
		return s, false, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no delegate attempts configured")
	}
	return nil, true, fmt.Errorf("%w: %v", ErrDelegate, lastErr)
}

// Call runs one inference frame. On failure the hidden state is left
// untouched so the next frame can retry from the last good state.
func (b *OnnxBackend) Call(in feature.AudioFeatures, out *SynthesisControls) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.loaded {
		return ErrNotLoaded
	}

	copy(b.tF0.GetData(), []float32{float32(in.F0Norm)})
	copy(b.tLoud.GetData(), []float32{float32(in.LoudnessNorm)})
	copy(b.tState.GetData(), b.state.Hidden)

	if err := b.session.Run(); err != nil {
		return fmt.Errorf("%w: %v", ErrInference, err)
	}

	out.Amplitude = b.tAmp.GetData()[0]
	copy(out.Harmonics, b.tHarm.GetData())
	copy(out.NoiseAmps, b.tNoise.GetData())
	copy(b.state.Hidden, b.tStateN.GetData())

	if sanitizeHarmonics(out.Harmonics) {
		out.Amplitude = 0
	}
	out.F0Hz = in.F0Hz
	return nil
}

// Reset zeros the hidden state without touching the loaded session.
func (b *OnnxBackend) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state.Reset()
}

// Close releases the session and every allocated tensor. Safe to call
// multiple times and on an unloaded backend.
func (b *OnnxBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closeLocked()
	return nil
}

func (b *OnnxBackend) closeLocked() {
	if b.session != nil {
		b.session.Destroy()
		b.session = nil
	}
	if b.tF0 != nil {
		b.tF0.Destroy()
	}
	if b.tLoud != nil {
		b.tLoud.Destroy()
	}
	if b.tState != nil {
		b.tState.Destroy()
	}
	if b.tAmp != nil {
		b.tAmp.Destroy()
	}
	if b.tHarm != nil {
		b.tHarm.Destroy()
	}
	if b.tNoise != nil {
		b.tNoise.Destroy()
	}
	if b.tStateN != nil {
		b.tStateN.Destroy()
	}
	b.tF0, b.tLoud, b.tState = nil, nil, nil
	b.tAmp, b.tHarm, b.tNoise, b.tStateN = nil, nil, nil, nil
	b.loaded = false
}

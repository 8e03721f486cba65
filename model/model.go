// Package model adapts the external tensor interpreter that runs the
// trained DDSP decoder. It owns the recurrent hidden state across frames
// and exposes a small capability interface so the concrete backend can be
// swapped (a real ONNX Runtime session in production, a deterministic
// mock in tests) without the pipeline knowing which it has.
package model

import (
	"errors"
	"fmt"

	"github.com/cwbudde/ddsp-synth/feature"
	"github.com/cwbudde/ddsp-synth/internal/ddspconst"
)

// Tensor names the trained model is required to expose. These are model
// artifacts, not conventions this package invents, and must match the
// trained graph exactly.
const (
	InputF0Name      = "call_f0_scaled:0"
	InputLoudnessName = "call_pw_scaled:0"
	InputStateName   = "call_state:0"

	OutputAmplitudeName = "StatefulPartitionedCall:0"
	OutputHarmonicsName = "StatefulPartitionedCall:1"
	OutputNoiseName     = "StatefulPartitionedCall:2"
	OutputStateName     = "StatefulPartitionedCall:3"
)

var requiredTensorNames = []string{
	InputF0Name, InputLoudnessName, InputStateName,
	OutputAmplitudeName, OutputHarmonicsName, OutputNoiseName, OutputStateName,
}

// Sentinel errors distinguishing the ways loading or running the control
// model can fail. Wrap with %w so callers can test with errors.Is.
var (
	ErrLoadFailed   = errors.New("model: load failed")
	ErrTensorShape  = errors.New("model: required tensor missing")
	ErrDelegate     = errors.New("model: no execution delegate available")
	ErrInference    = errors.New("model: inference call failed")
	ErrNotLoaded    = errors.New("model: backend not loaded")
)

// SynthesisControls is the per-frame output of the control model: overall
// amplitude, the harmonic distribution, and the noise magnitude spectrum.
// F0Hz is a passthrough of the input f0, not a model output.
type SynthesisControls struct {
	Amplitude float32
	Harmonics []float32 // len NumHarmonics
	NoiseAmps []float32 // len NumNoiseBands
	F0Hz      float64
}

// NewSynthesisControls allocates a zeroed SynthesisControls with
// correctly sized slices.
func NewSynthesisControls() *SynthesisControls {
	return &SynthesisControls{
		Harmonics: make([]float32, ddspconst.NumHarmonics),
		NoiseAmps: make([]float32, ddspconst.NumNoiseBands),
	}
}

// State is the recurrent hidden state carried across inference calls.
type State struct {
	Hidden []float32 // len HiddenStateSize
}

// NewState allocates a zeroed hidden state.
func NewState() *State {
	return &State{Hidden: make([]float32, ddspconst.HiddenStateSize)}
}

// Reset zeros the hidden state in place.
func (s *State) Reset() {
	for i := range s.Hidden {
		s.Hidden[i] = 0
	}
}

// Backend is the capability set a control-model implementation provides.
// The concrete backend is chosen once at construction time; callers never
// switch backends per call.
type Backend interface {
	// Load opens the model file, allocates tensors, resolves the seven
	// required tensor names, and zeros the hidden state. On any failure
	// the backend is left unloaded.
	Load(path string, threads int) error

	// Call runs one inference frame, sanitizing NaN harmonics and setting
	// out.F0Hz = in.F0Hz. On an invocation error it returns a wrapped
	// ErrInference and leaves the hidden state unchanged.
	Call(in feature.AudioFeatures, out *SynthesisControls) error

	// Reset zeros the hidden state without reloading the model.
	Reset()

	// IsLoaded reports whether Load has succeeded and Close has not been
	// called since.
	IsLoaded() bool

	// Close releases the interpreter and any delegate/session resources.
	// Safe to call on an unloaded backend.
	Close() error
}

func sanitizeHarmonics(h []float32) (anyNaN bool) {
	for i, v := range h {
		if v != v { // NaN check without importing math for a single use
			h[i] = 0
			anyNaN = true
		}
	}
	return anyNaN
}

func wrapLoad(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrLoadFailed, err)
}

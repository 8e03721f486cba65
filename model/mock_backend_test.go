package model

import (
	"math"

	"github.com/cwbudde/ddsp-synth/feature"
	"github.com/cwbudde/ddsp-synth/internal/ddspconst"
)

// MockBackend is a deterministic, allocation-free-per-call stand-in for a
// real ONNX session, grounded on piano/hammer.go's HammerModel interface
// pattern (small interface, a concrete struct, and a test-only alternate
// implementation satisfying the same interface).
type MockBackend struct {
	loaded bool
	state  *State

	// InjectNaNOnCall, if set, causes the first harmonic of the next Call
	// to come back NaN, simulating a pathological model output (S5).
	InjectNaNOnCall bool

	// FailNextCall, if set, causes the next Call to return ErrInference
	// without advancing state (S-series underrun/failure scenarios).
	FailNextCall bool

	// Amplitude/Harmonics/NoiseAmps are returned verbatim (after NaN
	// injection and sanitization) on each successful Call.
	Amplitude float32
	Harmonics []float32
	NoiseAmps []float32
}

// NewMockBackend returns a MockBackend producing a flat harmonic
// distribution, an all-zero noise spectrum, and amplitude 0.5 until
// reconfigured.
func NewMockBackend() *MockBackend {
	h := make([]float32, ddspconst.NumHarmonics)
	n := make([]float32, ddspconst.NumNoiseBands)
	for i := range h {
		h[i] = 1.0 / ddspconst.NumHarmonics
	}
	return &MockBackend{
		state:     NewState(),
		Amplitude: 0.5,
		Harmonics: h,
		NoiseAmps: n,
	}
}

func (m *MockBackend) Load(path string, threads int) error {
	if path == "" {
		return ErrLoadFailed
	}
	m.state.Reset()
	m.loaded = true
	return nil
}

func (m *MockBackend) IsLoaded() bool { return m.loaded }

func (m *MockBackend) Call(in feature.AudioFeatures, out *SynthesisControls) error {
	if !m.loaded {
		return ErrNotLoaded
	}
	if m.FailNextCall {
		m.FailNextCall = false
		return ErrInference
	}

	out.Amplitude = m.Amplitude
	copy(out.Harmonics, m.Harmonics)
	copy(out.NoiseAmps, m.NoiseAmps)

	if m.InjectNaNOnCall {
		m.InjectNaNOnCall = false
		out.Harmonics[0] = float32(math.NaN())
	}

	if sanitizeHarmonics(out.Harmonics) {
		out.Amplitude = 0
	}
	out.F0Hz = in.F0Hz

	// Carry a trivial recurrence forward so Reset() is observable in tests.
	m.state.Hidden[0]++
	return nil
}

func (m *MockBackend) Reset() { m.state.Reset() }

func (m *MockBackend) Close() error {
	m.loaded = false
	return nil
}

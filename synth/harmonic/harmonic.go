// Package harmonic implements the phase-continuous additive harmonic
// synthesizer: a sinusoid bank driven by a harmonic distribution and f0,
// with "midway lerp" envelopes that bound pitch slew to half a hop to
// avoid audible glide artifacts.
package harmonic

import (
	"math"

	dspcore "github.com/cwbudde/algo-dsp/dsp/core"

	"github.com/cwbudde/ddsp-synth/internal/ddspconst"
	"github.com/cwbudde/ddsp-synth/model"
)

const (
	h   = ddspconst.NumHarmonics
	hop = ddspconst.HopSize
	sr  = float64(ddspconst.ModelSampleRate)
)

// State is the cross-frame memory a Synthesizer carries: the running
// phase and the previous frame's f0/harmonic distribution/amplitude, used
// as the start point for the next frame's midway-lerp envelopes.
type State struct {
	PrevPhase     float64
	HasPrevF0     bool
	PrevF0        float64
	PrevHarmonics []float32
	PrevAmp       float32
}

// Reset zeros all cross-frame memory and clears HasPrevF0, so the next
// frame's envelope uses its own f0 as both start and end point.
func (s *State) Reset() {
	s.PrevPhase = 0
	s.HasPrevF0 = false
	s.PrevF0 = 0
	for i := range s.PrevHarmonics {
		s.PrevHarmonics[i] = 0
	}
	s.PrevAmp = 0
}

// Synthesizer renders one hop (320 samples at 16kHz) per call. All scratch
// buffers are allocated once at construction; Render never allocates.
type Synthesizer struct {
	state State

	normDist   []float32 // scratch: Nyquist-filtered, normalized, amplitude-scaled
	freqEnv    []float64 // scratch: length hop
	ampEnv     []float64 // scratch: length hop, reused per harmonic
	phaseAccum []float64 // scratch: length hop
	out        []float32 // scratch: length hop, returned to caller (owned, overwritten each call)
}

// New creates a Synthesizer with state and scratch buffers zeroed.
func New() *Synthesizer {
	s := &Synthesizer{
		normDist:   make([]float32, h),
		freqEnv:    make([]float64, hop),
		ampEnv:     make([]float64, hop),
		phaseAccum: make([]float64, hop),
		out:        make([]float32, hop),
	}
	s.state.PrevHarmonics = make([]float32, h)
	return s
}

// Reset clears all cross-frame state.
func (s *Synthesizer) Reset() {
	s.state.Reset()
}

// normalizeDistribution zeros harmonics at or above Nyquist, then
// sum-normalizes the survivors and scales by amplitude.
func normalizeDistribution(dst []float32, harmonics []float32, f0Hz float64, amplitude float32) {
	var sum float32
	for k := 0; k < h; k++ {
		fk := f0Hz * float64(k+1)
		if fk >= ddspconst.NyquistHz {
			dst[k] = 0
			continue
		}
		dst[k] = harmonics[k]
		sum += harmonics[k]
	}
	if sum <= 0 {
		for k := range dst {
			dst[k] = 0
		}
		return
	}
	for k := range dst {
		dst[k] = dst[k] / sum * amplitude
	}
}

// midwayLerp fills env (length hop) with linear interpolation from start
// to end across the first half of the hop, holding end across the second
// half. This avoids an audible swoop on sudden pitch/amplitude jumps
// while still reaching the new value well before the hop ends.
func midwayLerp(env []float64, start, end float64) {
	half := len(env) / 2
	if half == 0 {
		for i := range env {
			env[i] = end
		}
		return
	}
	for i := 0; i < half; i++ {
		t := float64(i) / float64(half)
		env[i] = start + (end-start)*t
	}
	for i := half; i < len(env); i++ {
		env[i] = end
	}
}

// Render produces one hop of harmonic audio from the decoder's controls.
func (s *Synthesizer) Render(controls *model.SynthesisControls) []float32 {
	normalizeDistribution(s.normDist, controls.Harmonics, controls.F0Hz, controls.Amplitude)

	f0 := controls.F0Hz
	prevF0 := f0
	if s.state.HasPrevF0 {
		prevF0 = s.state.PrevF0
	}
	midwayLerp(s.freqEnv, prevF0, f0)

	for i := range s.out {
		s.out[i] = 0
	}

	// Phase accumulator: convert the fundamental's frequency envelope to
	// radians/sample, prefix-sum it, and add the phase carried from the
	// previous hop. This single phase track is shared by every harmonic:
	// harmonic k evaluates sin(phase[n]*(k+1)).
	radPerSample := 2.0 * math.Pi / sr
	var running float64
	for i := 0; i < hop; i++ {
		running += s.freqEnv[i] * radPerSample
		s.phaseAccum[i] = s.state.PrevPhase + running
	}

	for k := 0; k < h; k++ {
		startAmp := float64(s.state.PrevHarmonics[k])
		endAmp := float64(s.normDist[k])
		midwayLerp(s.ampEnv, startAmp, endAmp)

		mult := float64(k + 1)
		for i := 0; i < hop; i++ {
			s.out[i] += float32(math.Sin(s.phaseAccum[i]*mult) * s.ampEnv[i])
		}
	}

	// Carry the fundamental's phase forward, wrapped to [0, 2*pi).
	last := s.phaseAccum[hop-1]
	wrapped := math.Mod(last, 2*math.Pi)
	if wrapped < 0 {
		wrapped += 2 * math.Pi
	}
	s.state.PrevPhase = dspcore.FlushDenormals(wrapped)

	s.state.HasPrevF0 = true
	s.state.PrevF0 = f0
	copy(s.state.PrevHarmonics, s.normDist)
	s.state.PrevAmp = controls.Amplitude

	return s.out
}

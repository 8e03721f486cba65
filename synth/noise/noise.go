// Package noise implements the stochastic component of the DDSP decoder's
// output: a time-varying FIR, designed each frame by frequency sampling
// from the decoder's noise magnitude spectrum, applied to white noise via
// FFT convolution.
package noise

import (
	"crypto/rand"
	"encoding/binary"
	"math"
	mrand "math/rand/v2"

	algofft "github.com/cwbudde/algo-fft"
	dspcore "github.com/cwbudde/algo-dsp/dsp/core"

	"github.com/cwbudde/ddsp-synth/internal/ddspconst"
)

const (
	// firLen is the length of the designed FIR (and of the one-time Hann
	// window), equal to 2*(NumNoiseBands-1) so the frequency-sampled
	// spectrum has exactly NumNoiseBands bins.
	firLen = ddspconst.ImpulseLength

	hop      = ddspconst.HopSize
	convSize = ddspconst.ConvFFTSize
	convBins = convSize/2 + 1

	// groupDelayOffset crops the convolution result to compensate for the
	// FIR's linear-phase group delay. The textbook value is (firLen-1)/2;
	// the extra "-1" matches observed reference behavior and is tracked
	// as an open question rather than silently "corrected".
	groupDelayOffset = (firLen-1)/2 - 1
)

// Synthesizer renders one hop of filtered-noise audio per call. All scratch
// buffers are allocated once at construction; Render never allocates.
type Synthesizer struct {
	hannWindow []float64 // zero-phase Hann, length firLen, fixed at construction

	firPlan  *algofft.PlanRealT[float64, complex128] // length firLen, used for the inverse design FFT
	convPlan *algofft.PlanRealT[float64, complex128] // length convSize, used for forward/inverse convolution

	rng *mrand.Rand

	spectrum []complex128 // scratch: length firLen/2+1, the frequency-sampled design spectrum
	impulse  []float64    // scratch: length firLen, raw then windowed impulse response
	fir      [convSize]float64

	noiseTime []float64 // scratch: length convSize, white noise input
	firSpec   []complex128
	noiseSpec []complex128
	convTime  []float64 // scratch: length convSize, convolution result before crop

	out []float32 // scratch: length hop, returned to caller
}

// New builds a Synthesizer with a nondeterministic RNG seed and computes
// the fixed zero-phase Hann window used by every frame's FIR design.
func New() *Synthesizer {
	s := &Synthesizer{
		hannWindow: make([]float64, firLen),
		spectrum:   make([]complex128, firLen/2+1),
		impulse:    make([]float64, firLen),
		noiseTime:  make([]float64, convSize),
		firSpec:    make([]complex128, convBins),
		noiseSpec:  make([]complex128, convBins),
		convTime:   make([]float64, convSize),
		out:        make([]float32, hop),
	}

	firPlan, err := algofft.NewPlanReal64(firLen)
	if err != nil {
		panic("noise: failed to build FIR design FFT plan: " + err.Error())
	}
	convPlan, err := algofft.NewPlanReal64(convSize)
	if err != nil {
		panic("noise: failed to build convolution FFT plan: " + err.Error())
	}
	s.firPlan = firPlan
	s.convPlan = convPlan

	buildZeroPhaseHann(s.hannWindow)
	s.rng = mrand.New(mrand.NewPCG(seedFromCrypto(), seedFromCrypto()))

	return s
}

// seedFromCrypto reads 8 bytes from crypto/rand for a nondeterministic
// default seed. On the vanishingly rare read failure, a fixed fallback
// keeps construction infallible.
func seedFromCrypto() uint64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0x9e3779b97f4a7c15
	}
	return binary.LittleEndian.Uint64(buf[:])
}

// SetSeed reseeds the noise generator deterministically, for repeatable
// tests. Designed filter state and output history are untouched.
func (s *Synthesizer) SetSeed(seed1, seed2 uint64) {
	s.rng = mrand.New(mrand.NewPCG(seed1, seed2))
}

// buildZeroPhaseHann fills w (length firLen) with a Hann window rotated by
// firLen/2 so its peak sits at index 0.
func buildZeroPhaseHann(w []float64) {
	n := len(w)
	tmp := make([]float64, n)
	for i := 0; i < n; i++ {
		tmp[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n))
	}
	half := n / 2
	for i := 0; i < n; i++ {
		w[i] = tmp[(i+half)%n]
	}
}

// Reset zeros scratch and output buffers. RNG state is preserved; call
// SetSeed explicitly to reseed.
func (s *Synthesizer) Reset() {
	for i := range s.out {
		s.out[i] = 0
	}
	for i := range s.convTime {
		s.convTime[i] = 0
	}
	for i := range s.impulse {
		s.impulse[i] = 0
	}
}

// Render produces one hop of filtered-noise audio from the decoder's noise
// magnitude spectrum (length NumNoiseBands).
func (s *Synthesizer) Render(noiseAmps []float32) []float32 {
	// Step 1: FIR design by frequency sampling. Real magnitude, zero phase.
	for k := range s.spectrum {
		var mag float64
		if k < len(noiseAmps) {
			mag = float64(noiseAmps[k])
		}
		s.spectrum[k] = complex(mag, 0)
	}
	if err := s.firPlan.Inverse(s.impulse, s.spectrum); err != nil {
		for i := range s.impulse {
			s.impulse[i] = 0
		}
	}

	// Step 2: window and rotate into a causal linear-phase FIR, zero-padded
	// into the convolution buffer.
	for i := range s.fir {
		s.fir[i] = 0
	}
	// The impulse and window are windowed together at the same zero-phase
	// index before rotation, not multiplied post-rotation against a
	// still-rotated window value: rotating only one of the two operands
	// misaligns the taper entirely (peak and zero-crossing swap places).
	half := firLen / 2
	for i := 0; i < firLen; i++ {
		j := (i + half) % firLen
		s.fir[i] = s.impulse[j] * s.hannWindow[j]
	}

	// Step 3: white noise fill.
	for i := range s.noiseTime {
		s.noiseTime[i] = s.rng.Float64()*2 - 1
	}

	// Step 4: FFT convolution.
	firBuf := s.fir[:]
	if err := s.convPlan.Forward(s.firSpec, firBuf); err != nil {
		for i := range s.out {
			s.out[i] = 0
		}
		return s.out
	}
	if err := s.convPlan.Forward(s.noiseSpec, s.noiseTime); err != nil {
		for i := range s.out {
			s.out[i] = 0
		}
		return s.out
	}
	for k := range s.firSpec {
		s.firSpec[k] *= s.noiseSpec[k]
	}
	if err := s.convPlan.Inverse(s.convTime, s.firSpec); err != nil {
		for i := range s.out {
			s.out[i] = 0
		}
		return s.out
	}

	// Step 5: crop with group-delay compensation, zero for out-of-range.
	for i := 0; i < hop; i++ {
		src := i + groupDelayOffset
		if src < 0 || src >= convSize {
			s.out[i] = 0
			continue
		}
		s.out[i] = float32(dspcore.FlushDenormals(s.convTime[src]))
	}

	return s.out
}

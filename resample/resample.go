// Package resample upsamples the 16 kHz model-rate hop produced by the
// synthesizers to the host's output sample rate.
package resample

import (
	"fmt"

	dspresample "github.com/cwbudde/algo-dsp/dsp/resample"

	"github.com/cwbudde/ddsp-synth/internal/ddspconst"
)

// Resampler wraps a windowed-sinc fractional-rate interpolator, driven once
// per hop so its internal history splices hops seamlessly.
type Resampler struct {
	hostRate float64
	r        *dspresample.Resampler

	in64 []float64
	out  []float32 // steady-state scratch, grown lazily, never shrunk
}

// New builds a Resampler from the fixed model rate (16 kHz) to hostRate.
func New(hostRate float64) (*Resampler, error) {
	r := &Resampler{hostRate: hostRate}
	if err := r.rebuild(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Resampler) rebuild() error {
	inner, err := dspresample.NewForRates(
		float64(ddspconst.ModelSampleRate),
		r.hostRate,
		dspresample.WithQuality(dspresample.QualityBest),
	)
	if err != nil {
		return fmt.Errorf("resample: build resampler: %w", err)
	}
	r.r = inner
	return nil
}

// Process upsamples one model-rate hop, returning the host-rate samples;
// hop itself is not modified. The returned slice is owned by the Resampler and is overwritten
// by the next call.
func (r *Resampler) Process(hop []float32) []float32 {
	if cap(r.in64) < len(hop) {
		r.in64 = make([]float64, len(hop))
	}
	r.in64 = r.in64[:len(hop)]
	for i, v := range hop {
		r.in64[i] = float64(v)
	}

	out := r.r.Process(r.in64)

	if cap(r.out) < len(out) {
		r.out = make([]float32, len(out))
	}
	r.out = r.out[:len(out)]
	for i, v := range out {
		r.out[i] = float32(v)
	}
	return r.out
}

// Reset recreates the underlying resampler, discarding its internal
// history. algo-dsp's resampler exposes no in-place reset primitive, so a
// fresh one is built, mirroring how a convolver rebuilds its resampler on
// every IR load rather than resetting one in place.
func (r *Resampler) Reset() error {
	return r.rebuild()
}

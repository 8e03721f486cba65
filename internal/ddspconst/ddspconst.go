// Package ddspconst holds the fixed constants of the trained DDSP decoder
// and shared derived sizes. The feature, model, synthesizer, resampler and
// pipeline packages import this one rather than re-declaring these numbers.
package ddspconst

const (
	// ModelSampleRate is the sample rate the decoder and both synthesizers
	// operate at, fixed by the trained model.
	ModelSampleRate = 16000

	// FrameSize is the decoder's analysis window in samples.
	FrameSize = 1024

	// HopSize is the number of samples between successive frames (20 ms
	// at ModelSampleRate).
	HopSize = 320

	// NumHarmonics is H, the harmonic distribution length.
	NumHarmonics = 60

	// NumNoiseBands is B, the filtered-noise magnitude spectrum length.
	NumNoiseBands = 65

	// ImpulseLength is L, the FIR length derived from NumNoiseBands.
	ImpulseLength = (NumNoiseBands - 1) * 2

	// HiddenStateSize is S, the recurrent hidden state width.
	HiddenStateSize = 512

	// ConvFFTSize is the FFT size used for the noise synthesizer's
	// frequency-domain convolution. Chosen so HopSize+ImpulseLength <= it.
	ConvFFTSize = 512

	// PitchMinHz and PitchMaxHz bound the valid f0 range (MIDI 0..127).
	PitchMinHz = 8.18
	PitchMaxHz = 12543.84

	// ReferenceA4Hz/ReferenceA4MIDI anchor the MIDI<->Hz conversion.
	ReferenceA4Hz   = 440.0
	ReferenceA4MIDI = 69.0

	// NyquistHz is the decoder-rate Nyquist frequency; harmonics at or
	// above this are inaudible at ModelSampleRate and must be zeroed.
	NyquistHz = ModelSampleRate / 2

	// DefaultRingCapacity is the empirically chosen ring buffer size from
	// the reference implementation (~1.28s at 48kHz). Any capacity
	// satisfying the ring buffer's read/write invariant works; this is
	// just a comfortably large baseline, raised further in
	// pipeline.Prepare for large host blocks.
	DefaultRingCapacity = 61440

	// DefaultWorkerIntervalMS is the worker's default wake interval.
	DefaultWorkerIntervalMS = 20
)

// Package feature implements the pure Hz/MIDI/normalized pitch and
// dB/normalized loudness conversions used at the boundary of the control
// model. NormalizedPitch and MapFromLog10 clamp f0 to [PitchMinHz,
// PitchMaxHz] and FreqFromNoteAndBend clamps the bend to [0,16383] before
// converting; OffsetPitch, NormalizedLoudness and DenormalizeLoudness do
// not clamp their inputs. No function allocates.
package feature

import (
	"math"

	"github.com/cwbudde/algo-approx"
	"github.com/cwbudde/ddsp-synth/internal/ddspconst"
)

// AudioFeatures is the normalized input handed to the control model for
// a single inference frame.
type AudioFeatures struct {
	F0Hz         float64
	LoudnessDB   float64
	F0Norm       float64 // [0,1]
	LoudnessNorm float64 // [0,1]
}

const ln2 = 0.69314718055994530942

// pow2 computes 2^x via the corpus's fast exponential approximation
// (algo-approx.FastExp operates on float32; this module works in float64
// for the rest of the pitch math, so the approximation is used only for
// the multiplicative ratio and widened back to float64).
func pow2(x float64) float64 {
	return float64(approx.FastExp(float32(x * ln2)))
}

func clampHz(hz float64) float64 {
	if hz < ddspconst.PitchMinHz {
		return ddspconst.PitchMinHz
	}
	if hz > ddspconst.PitchMaxHz {
		return ddspconst.PitchMaxHz
	}
	return hz
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// NormalizedPitch clamps f_hz to the valid pitch range, converts to MIDI
// note number, and returns MIDI/127 in [0,1].
func NormalizedPitch(fHz float64) float64 {
	fHz = clampHz(fHz)
	midi := 12.0*math.Log2(fHz/ddspconst.ReferenceA4Hz) + ddspconst.ReferenceA4MIDI
	return midi / 127.0
}

// OffsetPitch shifts fHz by the given number of semitones: f*2^(s/12).
func OffsetPitch(fHz float64, semitones float64) float64 {
	return fHz * pow2(semitones/12.0)
}

// FreqFromNoteAndBend converts a MIDI note plus a 14-bit pitch bend value
// (0..16383, centered at 8192, ±2 semitones at the extremes) to Hz.
func FreqFromNoteAndBend(note int, bend int) float64 {
	if bend < 0 {
		bend = 0
	}
	if bend > 16383 {
		bend = 16383
	}
	bendSemitones := float64(bend-8192) / (16384.0 / 4.0) / 12.0
	exp := (float64(note)-ddspconst.ReferenceA4MIDI)/12.0 + bendSemitones
	return ddspconst.ReferenceA4Hz * pow2(exp)
}

// MapFromLog10 is the MIDI-mode pitch normalization: a linear map of
// log10(f) from log10(PitchMinHz) to log10(PitchMaxHz) onto [0,1]. This is
// distinct from NormalizedPitch's MIDI-semitone mapping.
func MapFromLog10(fHz float64) float64 {
	fHz = clampHz(fHz)
	lo := math.Log10(ddspconst.PitchMinHz)
	hi := math.Log10(ddspconst.PitchMaxHz)
	return clamp01((math.Log10(fHz) - lo) / (hi - lo))
}

// NormalizedLoudness maps dB to a normalized value: db/80 + 1, so
// -80dB -> 0 and 0dB -> 1.
func NormalizedLoudness(db float64) float64 {
	return db/80.0 + 1.0
}

// DenormalizeLoudness is the exact inverse of NormalizedLoudness.
func DenormalizeLoudness(norm float64) float64 {
	return (norm - 1.0) * 80.0
}

// Build assembles AudioFeatures from raw f0 (Hz) and a normalized
// loudness. LoudnessDB is derived from loudnessNorm via
// DenormalizeLoudness, and LoudnessNorm is stored clamped to [0,1].
func Build(f0Hz float64, loudnessNorm float64) AudioFeatures {
	return AudioFeatures{
		F0Hz:         f0Hz,
		LoudnessDB:   DenormalizeLoudness(loudnessNorm),
		F0Norm:       NormalizedPitch(f0Hz),
		LoudnessNorm: clamp01(loudnessNorm),
	}
}

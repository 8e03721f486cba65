package pipeline

import (
	"errors"
	"math"
	"testing"
	"time"

	algofft "github.com/cwbudde/algo-fft"

	"github.com/cwbudde/ddsp-synth/feature"
	"github.com/cwbudde/ddsp-synth/internal/ddspconst"
	"github.com/cwbudde/ddsp-synth/model"
)

// fakeBackend is a deterministic model.Backend for pipeline tests,
// grounded on the same HammerModel-interface pattern the model package's
// own mock uses: a small capability interface with a test-only
// implementation, here local to this package since model.MockBackend is
// not exported outside its own test binary.
type fakeBackend struct {
	loaded      bool
	failNext    bool
	injectNaN   bool
	amplitude   float32
	harmonics   []float32
	noiseAmps   []float32
	hiddenTicks float32
}

func newFakeBackend() *fakeBackend {
	h := make([]float32, ddspconst.NumHarmonics)
	n := make([]float32, ddspconst.NumNoiseBands)
	// Decaying 1/k distribution: the fundamental carries the most energy,
	// so the spectral-peak tests below find f0 itself rather than whichever
	// equal-weight harmonic happens to fall closest to an FFT bin center.
	for i := range h {
		h[i] = 1.0 / float32(i+1)
	}
	return &fakeBackend{amplitude: 0.5, harmonics: h, noiseAmps: n}
}

func (b *fakeBackend) Load(path string, threads int) error {
	if path == "" {
		return model.ErrLoadFailed
	}
	b.loaded = true
	return nil
}

func (b *fakeBackend) IsLoaded() bool { return b.loaded }

func (b *fakeBackend) Call(in feature.AudioFeatures, out *model.SynthesisControls) error {
	if !b.loaded {
		return model.ErrNotLoaded
	}
	if b.failNext {
		b.failNext = false
		return model.ErrInference
	}
	out.Amplitude = b.amplitude
	copy(out.Harmonics, b.harmonics)
	copy(out.NoiseAmps, b.noiseAmps)
	if b.injectNaN {
		b.injectNaN = false
		out.Harmonics[0] = float32(math.NaN())
		for i, v := range out.Harmonics {
			if v != v {
				out.Harmonics[i] = 0
				out.Amplitude = 0
			}
		}
	}
	out.F0Hz = in.F0Hz
	b.hiddenTicks++
	return nil
}

func (b *fakeBackend) Reset()       { b.hiddenTicks = 0 }
func (b *fakeBackend) Close() error { b.loaded = false; return nil }

func newTestPipeline(t *testing.T, sr float64, block int) (*Pipeline, *fakeBackend) {
	t.Helper()
	backend := newFakeBackend()
	p := New(backend, nil)
	if err := p.Prepare(Config{SampleRate: sr, BlockSize: block}); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if !p.LoadModel("dummy.onnx", 1) {
		t.Fatal("LoadModel failed")
	}
	return p, backend
}

func TestPrepareRejectsBadConfig(t *testing.T) {
	p := New(newFakeBackend(), nil)
	if err := p.Prepare(Config{SampleRate: 0, BlockSize: 512}); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for zero sample rate, got %v", err)
	}
	if err := p.Prepare(Config{SampleRate: 48000, BlockSize: 0}); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for zero block size, got %v", err)
	}
}

// S1 - Silent start.
func TestSilentStart(t *testing.T) {
	p, _ := newTestPipeline(t, 48000, 512)
	out := make([]float32, 512)
	n := p.NextBlock(out)
	if n > 512 {
		t.Fatalf("NextBlock returned %d, want <= 512", n)
	}
	for i, v := range out {
		if math.IsNaN(float64(v)) {
			t.Fatalf("out[%d] is NaN on silent start", i)
		}
	}
}

// S5 - NaN sanitize.
func TestNaNSanitizeRecovers(t *testing.T) {
	p, backend := newTestPipeline(t, 48000, 512)
	backend.injectNaN = true
	p.TriggerRender()

	out := make([]float32, 512)
	p.NextBlock(out)
	for i, v := range out {
		if math.IsNaN(float64(v)) {
			t.Fatalf("out[%d] is NaN after sanitize", i)
		}
	}

	// Subsequent frame should recover normally.
	p.TriggerRender()
	out2 := make([]float32, 512)
	n := p.NextBlock(out2)
	if n == 0 {
		t.Fatal("expected samples after recovery frame")
	}
}

// S6 - Underrun.
func TestUnderrunReturnsPartialNoError(t *testing.T) {
	p, _ := newTestPipeline(t, 48000, 512)
	// Worker never started and never triggered: ring is empty.
	out := make([]float32, 512)
	n := p.NextBlock(out)
	if n != 0 {
		t.Fatalf("NextBlock on empty ring returned %d, want 0", n)
	}
	for i, v := range out {
		if v != 0 {
			t.Fatalf("out[%d] = %f on underrun, want 0", i, v)
		}
	}
}

func TestInferenceErrorIncrementsCounterAndSkipsFrame(t *testing.T) {
	p, backend := newTestPipeline(t, 48000, 512)
	before := p.InferenceErrorCount()
	backend.failNext = true
	p.TriggerRender()
	if p.InferenceErrorCount() != before+1 {
		t.Fatalf("InferenceErrorCount = %d, want %d", p.InferenceErrorCount(), before+1)
	}
}

func TestGainSettersClamp(t *testing.T) {
	p, _ := newTestPipeline(t, 48000, 512)
	p.SetHarmonicGain(-5)
	if v := math.Float32frombits(uint32(p.harmonicGain.Load())); v != 0 {
		t.Fatalf("harmonicGain = %f after setting -5, want clamped to 0", v)
	}
	p.SetNoiseGain(100)
	if v := math.Float32frombits(uint32(p.noiseGain.Load())); v != 10 {
		t.Fatalf("noiseGain = %f after setting 100, want clamped to 10", v)
	}
}

func TestSetF0HzClampsToPitchRange(t *testing.T) {
	p, _ := newTestPipeline(t, 48000, 512)
	p.SetF0Hz(1.0)
	if got := math.Float64frombits(p.f0Hz.Load()); got != ddspconst.PitchMinHz {
		t.Fatalf("f0Hz = %f after setting 1.0, want clamped to PitchMinHz", got)
	}
}

// drainSamples runs enough worker iterations to collect at least n samples
// at the pipeline's configured rate, used by the FFT-based peak-frequency
// assertions below.
func drainSamples(p *Pipeline, n int) []float32 {
	var samples []float32
	out := make([]float32, 512)
	for len(samples) < n {
		p.TriggerRender()
		k := p.NextBlock(out)
		samples = append(samples, out[:k]...)
	}
	return samples[:n]
}

// peakFrequencyHz returns the frequency of the largest-magnitude bin in
// samples' spectrum, computed via a real FFT of size len(samples).
func peakFrequencyHz(t *testing.T, samples []float32, sampleRate float64) float64 {
	t.Helper()
	fftSize := len(samples)
	plan, err := algofft.NewPlanReal64(fftSize)
	if err != nil {
		t.Fatalf("fft plan: %v", err)
	}
	buf := make([]float64, fftSize)
	for i, v := range samples {
		buf[i] = float64(v)
	}
	spec := make([]complex128, fftSize/2+1)
	if err := plan.Forward(spec, buf); err != nil {
		t.Fatalf("fft forward: %v", err)
	}

	binHz := sampleRate / float64(fftSize)
	peakBin, peakMag := 0, 0.0
	for k := 1; k < len(spec); k++ {
		mag := math.Hypot(real(spec[k]), imag(spec[k]))
		if mag > peakMag {
			peakMag = mag
			peakBin = k
		}
	}
	return float64(peakBin) * binHz
}

// S2 - Steady A4: peak frequency in the output FFT is near 440 Hz.
func TestSteadyA4PeaksNear440(t *testing.T) {
	p, _ := newTestPipeline(t, 16000, 512)
	p.SetF0Hz(440)
	p.SetLoudnessNorm(0.8)

	samples := drainSamples(p, 8192)
	peakHz := peakFrequencyHz(t, samples, 16000)
	if math.Abs(peakHz-440) > 20 {
		t.Fatalf("peak frequency = %.1f Hz, want near 440 Hz", peakHz)
	}
}

// S3 - Pitch glide: after changing f0 from 220 to 440, the fundamental
// tracks the change within one hop and no first-difference spike appears
// at the transition (the harmonic synthesizer's midway-lerp envelope is
// exactly what bounds this slew).
func TestPitchGlideTracksWithoutDiscontinuity(t *testing.T) {
	p, _ := newTestPipeline(t, 16000, 320)
	p.SetF0Hz(220)
	p.SetLoudnessNorm(0.8)

	// Settle at 220 Hz, then glide to 440 Hz and render one transition hop.
	_ = drainSamples(p, 4*ddspconst.HopSize)
	p.SetF0Hz(440)
	transition := drainSamples(p, ddspconst.HopSize)

	var maxInternalJump float32
	for i := 1; i < len(transition); i++ {
		d := transition[i] - transition[i-1]
		if d < 0 {
			d = -d
		}
		if d > maxInternalJump {
			maxInternalJump = d
		}
	}

	// After the glide settles, the fundamental should read near 440 Hz.
	settled := drainSamples(p, 8192)
	peakHz := peakFrequencyHz(t, settled, 16000)
	if math.Abs(peakHz-440) > 20 {
		t.Fatalf("peak frequency after glide = %.1f Hz, want near 440 Hz", peakHz)
	}
	if maxInternalJump > 1.0 {
		t.Fatalf("implausibly large sample-to-sample jump during glide transition: %f", maxInternalJump)
	}
}

// S4 - Pitch shift: with f0=440 and pitch_shift=+12 semitones, the
// observed fundamental is 880 Hz.
func TestPitchShiftOneOctaveUp(t *testing.T) {
	p, _ := newTestPipeline(t, 16000, 512)
	p.SetF0Hz(440)
	p.SetLoudnessNorm(0.8)
	p.SetPitchShift(12)

	samples := drainSamples(p, 8192)
	peakHz := peakFrequencyHz(t, samples, 16000)
	if math.Abs(peakHz-880) > 20 {
		t.Fatalf("peak frequency = %.1f Hz, want near 880 Hz with +12 semitone shift", peakHz)
	}
}

func TestStartStopIdempotent(t *testing.T) {
	p, _ := newTestPipeline(t, 48000, 512)
	p.Start(5 * time.Millisecond)
	p.Start(5 * time.Millisecond) // no-op, must not deadlock or double-spawn
	time.Sleep(20 * time.Millisecond)
	p.Stop()
	p.Stop() // no-op
}

func TestResetIdempotent(t *testing.T) {
	p, _ := newTestPipeline(t, 48000, 512)
	p.TriggerRender()
	p.Reset()
	p.Reset()
	if p.CurrentPitch() != 0 {
		t.Fatalf("CurrentPitch = %f after double Reset, want 0", p.CurrentPitch())
	}
}

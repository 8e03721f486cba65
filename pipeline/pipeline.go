// Package pipeline wires the control model, the two synthesizers, the
// resampler, and the output ring buffer into the two-thread engine a host
// embeds: an audio thread that only calls NextBlock and the setters/
// getters, and a worker thread that renders frames on a timer.
package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cwbudde/ddsp-synth/feature"
	"github.com/cwbudde/ddsp-synth/internal/ddspconst"
	"github.com/cwbudde/ddsp-synth/model"
	"github.com/cwbudde/ddsp-synth/resample"
	"github.com/cwbudde/ddsp-synth/ringbuf"
	"github.com/cwbudde/ddsp-synth/synth/harmonic"
	"github.com/cwbudde/ddsp-synth/synth/noise"
)

// ErrConfig is returned by Prepare when given a non-positive sample rate
// or block size.
var ErrConfig = errors.New("pipeline: invalid configuration")

const (
	defaultPitchShiftSemitones = 0.0
	minGain                    = 0.0
	maxGain                    = 10.0
)

func clampGain(g float32) float32 {
	if g < minGain {
		return minGain
	}
	if g > maxGain {
		return maxGain
	}
	return g
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

// Pipeline owns every long-lived resource of a single synthesis instance:
// the control model backend, both DSP synthesizers, the resampler, and the
// SPSC output ring. It is constructed once, Prepare'd for a host sample
// rate and block size, then driven by Start/Stop (or TriggerRender) on a
// worker thread and NextBlock on the audio thread.
type Pipeline struct {
	backend model.Backend
	harm    *harmonic.Synthesizer
	ns      *noise.Synthesizer
	res     *resample.Resampler
	ring    *ringbuf.RingBuffer
	logger  *slog.Logger

	hostRate     float64
	blockSize    int
	userHopSize  int
	ringCapacity int

	f0Hz         atomic.Uint64 // float64 bits
	loudnessNorm atomic.Uint64 // float64 bits
	pitchShift   atomic.Uint64 // float64 bits
	harmonicGain atomic.Uint64 // float32 bits widened via math.Float32bits
	noiseGain    atomic.Uint64

	currentPitch atomic.Uint64 // float64 bits, normalized pitch published by the worker
	currentRMS   atomic.Uint64 // float64 bits, loudness_norm published by the worker

	overflowCount       atomic.Uint64
	inferenceErrorCount atomic.Uint64

	running  atomic.Bool
	stopping atomic.Bool
	wg       sync.WaitGroup

	// mix/controlsOut are worker-thread-only scratch buffers.
	// They are allocated in Prepare and never touched by the audio thread.
	controlsOut *model.SynthesisControls
	mix         []float32
}

// Config is the parameter set passed to Prepare.
type Config struct {
	SampleRate float64
	BlockSize  int
}

// New constructs an unprepared Pipeline around the given control model
// backend. logger may be nil, in which case slog.Default() is used.
func New(backend model.Backend, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		backend:     backend,
		harm:        harmonic.New(),
		ns:          noise.New(),
		logger:      logger,
		controlsOut: model.NewSynthesisControls(),
	}
	p.f0Hz.Store(math.Float64bits(440))
	p.loudnessNorm.Store(math.Float64bits(0))
	p.pitchShift.Store(math.Float64bits(defaultPitchShiftSemitones))
	p.harmonicGain.Store(uint64(math.Float32bits(1)))
	p.noiseGain.Store(uint64(math.Float32bits(1)))
	return p
}

// Prepare (re)computes the host hop size from SR and block size,
// (re)allocates the resampler and ring buffer, then resets all state. It
// is the only operation besides LoadModel allowed to allocate outside the
// steady-state worker loop.
func (p *Pipeline) Prepare(cfg Config) error {
	if cfg.SampleRate <= 0 || cfg.BlockSize <= 0 {
		return fmt.Errorf("%w: sampleRate=%v blockSize=%v", ErrConfig, cfg.SampleRate, cfg.BlockSize)
	}

	p.hostRate = cfg.SampleRate
	p.blockSize = cfg.BlockSize
	p.userHopSize = int(math.Floor(float64(ddspconst.HopSize) * cfg.SampleRate / float64(ddspconst.ModelSampleRate)))
	if p.userHopSize < 1 {
		p.userHopSize = 1
	}

	ringCap := ddspconst.DefaultRingCapacity
	if need := 4 * maxInt(p.userHopSize, p.blockSize); need > ringCap {
		ringCap = need
	}
	p.ringCapacity = ringCap

	res, err := resample.New(cfg.SampleRate)
	if err != nil {
		return fmt.Errorf("pipeline: prepare resampler: %w", err)
	}
	p.res = res
	p.ring = ringbuf.New(ringCap)
	p.mix = make([]float32, ddspconst.HopSize)

	p.Reset()
	return nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// LoadModel loads the control model backend. Returns false if loading
// failed; the pipeline remains usable (NextBlock returns silence).
func (p *Pipeline) LoadModel(path string, threads int) bool {
	if err := p.backend.Load(path, threads); err != nil {
		p.logger.Warn("ddsp: model load failed", "path", path, "error", err)
		return false
	}
	return true
}

// Start spawns the worker goroutine on the given interval if not already
// running. A second call while running is a no-op. interval <= 0 selects
// the default 20 ms.
func (p *Pipeline) Start(interval time.Duration) {
	if interval <= 0 {
		interval = time.Duration(ddspconst.DefaultWorkerIntervalMS) * time.Millisecond
	}
	if !p.running.CompareAndSwap(false, true) {
		return
	}
	p.stopping.Store(false)
	p.wg.Add(1)
	go p.workerLoop(interval)
}

// Stop signals the worker to exit after its current iteration and joins
// it. Safe to call when not running.
func (p *Pipeline) Stop() {
	if !p.running.Load() {
		return
	}
	p.stopping.Store(true)
	p.wg.Wait()
	p.running.Store(false)
}

// SetF0Hz clamps to [PitchMinHz, PitchMaxHz] and publishes atomically.
func (p *Pipeline) SetF0Hz(hz float64) {
	p.f0Hz.Store(math.Float64bits(clampHz(hz)))
}

// SetLoudnessNorm clamps to [0,1] and publishes atomically.
func (p *Pipeline) SetLoudnessNorm(norm float64) {
	p.loudnessNorm.Store(math.Float64bits(clamp01(norm)))
}

// SetLoudnessDB converts to normalized loudness and publishes atomically.
func (p *Pipeline) SetLoudnessDB(db float64) {
	p.SetLoudnessNorm(feature.NormalizedLoudness(db))
}

// SetPitchShift publishes an unclamped semitone offset atomically.
func (p *Pipeline) SetPitchShift(semitones float64) {
	p.pitchShift.Store(math.Float64bits(semitones))
}

// SetHarmonicGain clamps to [0,10] and publishes atomically.
func (p *Pipeline) SetHarmonicGain(gain float32) {
	p.harmonicGain.Store(uint64(math.Float32bits(clampGain(gain))))
}

// SetNoiseGain clamps to [0,10] and publishes atomically.
func (p *Pipeline) SetNoiseGain(gain float32) {
	p.noiseGain.Store(uint64(math.Float32bits(clampGain(gain))))
}

// ProcessBlock is a no-op: synth mode has no audio-input path. It exists
// for API symmetry with hosts that expect a process-block entry point,
// and is a documented extension point for future audio-input support.
func (p *Pipeline) ProcessBlock(_ []float32) {}

// NextBlock is the audio thread's sole entry point into the pipeline. It
// pops up to len(out) samples, silence-pads any underrun, and returns the
// number of samples actually dequeued from the ring (not the padded
// total). Never blocks, never allocates.
func (p *Pipeline) NextBlock(out []float32) int {
	if p.ring == nil {
		for i := range out {
			out[i] = 0
		}
		return 0
	}

	ranges, _ := p.ring.PrepareRead(len(out))

	pos := 0
	for _, rg := range ranges {
		pos += copy(out[pos:], rg)
	}
	p.ring.CommitRead(pos)

	for i := pos; i < len(out); i++ {
		out[i] = 0
	}
	return pos
}

// TriggerRender runs one worker iteration inline, for hosts without a
// dedicated worker thread (and for deterministic offline rendering/tests).
func (p *Pipeline) TriggerRender() {
	p.runOnce()
}

// Reset resets the synthesizers, model hidden state, ring buffer, and
// resampler. There is no audio-input path to prime with silence here
// (control comes from the Set* parameters, not from analyzing live
// audio); rebuilding the resampler already leaves it in the same
// zeroed-history state that priming it with silence would.
// Must not be called concurrently with a running worker or NextBlock;
// callers should Stop first.
func (p *Pipeline) Reset() {
	p.harm.Reset()
	p.ns.Reset()
	p.backend.Reset()
	if p.ring != nil {
		p.ring.Reset()
	}
	if p.res != nil {
		_ = p.res.Reset()
	}
	p.currentPitch.Store(0)
	p.currentRMS.Store(0)
}

// CurrentPitch returns the last normalized pitch the worker published.
func (p *Pipeline) CurrentPitch() float64 {
	return math.Float64frombits(p.currentPitch.Load())
}

// CurrentRMS returns the last loudness_norm the worker published.
func (p *Pipeline) CurrentRMS() float64 {
	return math.Float64frombits(p.currentRMS.Load())
}

// OverflowCount returns the number of samples dropped because the ring
// could not accept a full hop.
func (p *Pipeline) OverflowCount() uint64 {
	return p.overflowCount.Load()
}

// InferenceErrorCount returns the number of worker iterations that
// aborted due to a control-model inference failure.
func (p *Pipeline) InferenceErrorCount() uint64 {
	return p.inferenceErrorCount.Load()
}

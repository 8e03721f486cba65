package pipeline

import (
	"math"
	"time"

	"github.com/cwbudde/ddsp-synth/feature"
)

// workerLoop runs runOnce on a fixed interval until Stop sets stopping.
// Missing a deadline is tolerated: an overrun simply shortens the next
// sleep rather than being treated as an error.
func (p *Pipeline) workerLoop(interval time.Duration) {
	defer p.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if p.stopping.Load() {
			return
		}
		start := time.Now()
		p.runOnce()
		elapsed := time.Since(start)

		sleep := interval - elapsed
		if sleep < 0 {
			sleep = 0
		}
		timer := time.NewTimer(sleep)
		select {
		case <-timer.C:
		case <-ticker.C:
			timer.Stop()
		}
	}
}

// runOnce implements one worker iteration: snapshot controls, run
// inference, scale by the gain controls, synthesize, resample, and enqueue.
// On an inference failure the iteration aborts after incrementing the
// error counter; no audio is produced for that frame and hidden state is
// left untouched by the backend.
func (p *Pipeline) runOnce() {
	f0 := math.Float64frombits(p.f0Hz.Load())
	loudnessNorm := math.Float64frombits(p.loudnessNorm.Load())
	pitchShift := math.Float64frombits(p.pitchShift.Load())
	harmonicGain := math.Float32frombits(uint32(p.harmonicGain.Load()))
	noiseGain := math.Float32frombits(uint32(p.noiseGain.Load()))

	shiftedF0 := feature.OffsetPitch(f0, pitchShift)
	in := feature.Build(shiftedF0, loudnessNorm)

	p.currentPitch.Store(math.Float64bits(in.F0Norm))
	p.currentRMS.Store(math.Float64bits(in.LoudnessNorm))

	if err := p.backend.Call(in, p.controlsOut); err != nil {
		p.inferenceErrorCount.Add(1)
		p.logger.Warn("ddsp: inference call failed, skipping frame", "error", err)
		return
	}

	p.controlsOut.Amplitude *= harmonicGain
	for i := range p.controlsOut.NoiseAmps {
		p.controlsOut.NoiseAmps[i] *= noiseGain
	}

	harmOut := p.harm.Render(p.controlsOut)
	noiseOut := p.ns.Render(p.controlsOut.NoiseAmps)

	for i := range p.mix {
		p.mix[i] = harmOut[i] + noiseOut[i]
	}

	resampled := p.res.Process(p.mix)

	ranges := p.ring.PrepareWrite(len(resampled))
	written := 0
	for _, rg := range ranges {
		written += copy(rg, resampled[written:])
	}
	p.ring.CommitWrite(written)
	if written < len(resampled) {
		p.overflowCount.Add(uint64(len(resampled) - written))
	}
}

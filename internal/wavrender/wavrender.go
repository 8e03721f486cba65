// Package wavrender batch-renders a control trajectory to a WAV file by
// repeatedly driving a pipeline's worker loop inline, grounded on
// cmd/piano-render's offline block-rendering loop, adapted here to a
// mono DDSP output and to a deterministic list of control segments
// instead of a single note-on/note-off envelope.
package wavrender

import (
	"fmt"
	"os"
	"time"

	"github.com/cwbudde/wav"
	"github.com/go-audio/audio"

	"github.com/cwbudde/ddsp-synth/pipeline"
)

// Segment is one leg of a piecewise-constant control trajectory: hold f0
// and loudness for Duration before the next segment takes effect.
type Segment struct {
	F0Hz       float64
	LoudnessDB float64
	Duration   time.Duration
}

// RenderToFile drives p's worker loop inline via TriggerRender, applying
// each segment's controls for its duration, and writes the accumulated
// mono output to a 16-bit PCM WAV file at sampleRate. p must already be
// Prepare'd (with a matching SampleRate) and have a model loaded.
func RenderToFile(p *pipeline.Pipeline, segments []Segment, sampleRate int, outputPath string) error {
	samples, err := Render(p, segments, sampleRate)
	if err != nil {
		return err
	}

	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("wavrender: create %s: %w", outputPath, err)
	}
	defer file.Close()

	encoder := wav.NewEncoder(file, sampleRate, 16, 1, 1)
	defer encoder.Close()

	buf := &audio.Float32Buffer{
		Format: &audio.Format{
			SampleRate:  sampleRate,
			NumChannels: 1,
		},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := encoder.Write(buf); err != nil {
		return fmt.Errorf("wavrender: write %s: %w", outputPath, err)
	}
	return nil
}

// Render drives p's worker loop inline through every segment and returns
// the accumulated mono output, without touching the filesystem. It exists
// separately from RenderToFile so tests can assert on the raw samples.
func Render(p *pipeline.Pipeline, segments []Segment, sampleRate int) ([]float32, error) {
	const pullBlock = 512

	var out []float32
	pull := make([]float32, pullBlock)

	for _, seg := range segments {
		p.SetF0Hz(seg.F0Hz)
		p.SetLoudnessDB(seg.LoudnessDB)

		frames := int(seg.Duration.Seconds() * float64(sampleRate))
		rendered := 0
		for rendered < frames {
			p.TriggerRender()
			n := p.NextBlock(pull)
			if n > frames-rendered {
				n = frames - rendered
			}
			out = append(out, pull[:n]...)
			rendered += n
		}
	}
	return out, nil
}

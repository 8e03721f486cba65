// Command ddsp-render renders a single held note through the DDSP
// pipeline to a WAV file, exercising the core end-to-end the way
// cmd/piano-render exercises the physical-modeling engine.
package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/cwbudde/ddsp-synth/feature"
	"github.com/cwbudde/ddsp-synth/internal/wavrender"
	"github.com/cwbudde/ddsp-synth/model"
	"github.com/cwbudde/ddsp-synth/pipeline"
	"github.com/cwbudde/ddsp-synth/preset"
)

func main() {
	note := flag.Int("note", 69, "MIDI note number (69 = A4 = 440 Hz)")
	bend := flag.Int("bend", 8192, "14-bit pitch bend (0..16383, centered at 8192)")
	loudnessDB := flag.Float64("loudness-db", math.NaN(), "Loudness in dB (defaults to the preset's default_loudness_db)")
	duration := flag.Float64("duration", 2.0, "Duration in seconds")
	sampleRate := flag.Int("sample-rate", 0, "Render sample rate in Hz (defaults to the preset's sample_rate)")
	blockSize := flag.Int("block-size", 0, "Pipeline block size (defaults to the preset's block_size)")
	modelPath := flag.String("model", "", "Path to the ONNX decoder model (defaults to the preset's model_path, then DDSP_MODEL_PATH)")
	threads := flag.Int("threads", 0, "Inference thread count (defaults to the preset's model_threads)")
	presetPath := flag.String("preset", "", "Optional preset JSON file; explicit flags override its values")
	output := flag.String("output", "output.wav", "Output WAV file path")
	flag.Parse()

	cfg := preset.Default()
	if *presetPath != "" {
		loaded, err := preset.LoadJSON(*presetPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ddsp-render: load preset %q: %v\n", *presetPath, err)
			os.Exit(1)
		}
		cfg = loaded
	}

	if *modelPath != "" {
		cfg.ModelPath = *modelPath
	}
	if cfg.ModelPath == "" {
		cfg.ModelPath = os.Getenv("DDSP_MODEL_PATH")
	}
	if cfg.ModelPath == "" {
		fmt.Fprintln(os.Stderr, "ddsp-render: -model is required (or set DDSP_MODEL_PATH, or supply -preset with model_path)")
		os.Exit(1)
	}
	if *sampleRate > 0 {
		cfg.SampleRate = float64(*sampleRate)
	}
	if *blockSize > 0 {
		cfg.BlockSize = *blockSize
	}
	if *threads > 0 {
		cfg.ModelThreads = *threads
	}
	effectiveLoudnessDB := cfg.DefaultLoudnessDB
	if !math.IsNaN(*loudnessDB) {
		effectiveLoudnessDB = *loudnessDB
	}

	backend := model.NewOnnxBackend(nil)
	p := pipeline.New(backend, nil)
	if err := p.Prepare(pipeline.Config{SampleRate: cfg.SampleRate, BlockSize: cfg.BlockSize}); err != nil {
		fmt.Fprintf(os.Stderr, "ddsp-render: prepare: %v\n", err)
		os.Exit(1)
	}
	if !p.LoadModel(cfg.ModelPath, cfg.ModelThreads) {
		fmt.Fprintf(os.Stderr, "ddsp-render: failed to load model %q\n", cfg.ModelPath)
		os.Exit(1)
	}
	defer backend.Close()

	f0 := feature.FreqFromNoteAndBend(*note, *bend)
	fmt.Printf("Rendering note %d (bend %d -> %.2f Hz) for %.2fs at %.0f Hz into %s\n",
		*note, *bend, f0, *duration, cfg.SampleRate, *output)

	segs := []wavrender.Segment{
		{F0Hz: f0, LoudnessDB: effectiveLoudnessDB, Duration: time.Duration(*duration * float64(time.Second))},
	}
	if err := wavrender.RenderToFile(p, segs, int(cfg.SampleRate), *output); err != nil {
		fmt.Fprintf(os.Stderr, "ddsp-render: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Successfully wrote %s\n", *output)
}

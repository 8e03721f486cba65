// Command ddsp-bench soak-tests the pipeline's worker loop: it starts the
// real worker goroutine and a simulated audio-thread consumer side by
// side for a fixed duration and reports overflow/inference-error counts.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/cwbudde/ddsp-synth/model"
	"github.com/cwbudde/ddsp-synth/pipeline"
)

func main() {
	soakFor := flag.Duration("duration", 10*time.Second, "How long to run the soak test")
	sampleRate := flag.Int("sample-rate", 48000, "Pipeline sample rate")
	blockSize := flag.Int("block-size", 512, "Audio-thread pull size")
	workerInterval := flag.Duration("interval", 20*time.Millisecond, "Worker iteration interval")
	modelPath := flag.String("model", "", "Path to the ONNX decoder model")
	threads := flag.Int("threads", 1, "Inference thread count")
	pullInterval := flag.Duration("pull-interval", 10*time.Millisecond, "Simulated audio callback period")
	flag.Parse()

	if *modelPath == "" {
		if env := os.Getenv("DDSP_MODEL_PATH"); env != "" {
			*modelPath = env
		} else {
			fmt.Fprintln(os.Stderr, "ddsp-bench: -model is required (or set DDSP_MODEL_PATH)")
			os.Exit(1)
		}
	}

	backend := model.NewOnnxBackend(nil)
	p := pipeline.New(backend, nil)
	if err := p.Prepare(pipeline.Config{SampleRate: float64(*sampleRate), BlockSize: *blockSize}); err != nil {
		fmt.Fprintf(os.Stderr, "ddsp-bench: prepare: %v\n", err)
		os.Exit(1)
	}
	if !p.LoadModel(*modelPath, *threads) {
		fmt.Fprintf(os.Stderr, "ddsp-bench: failed to load model %q\n", *modelPath)
		os.Exit(1)
	}
	defer backend.Close()

	p.SetF0Hz(440)
	p.SetLoudnessDB(-12)
	p.Start(*workerInterval)

	deadline := time.Now().Add(*soakFor)
	pullTicker := time.NewTicker(*pullInterval)
	defer pullTicker.Stop()

	buf := make([]float32, *blockSize)
	var totalPulled, totalUnderrun uint64
	for time.Now().Before(deadline) {
		<-pullTicker.C
		n := p.NextBlock(buf)
		totalPulled += uint64(n)
		if n < len(buf) {
			totalUnderrun += uint64(len(buf) - n)
		}
	}

	p.Stop()

	fmt.Printf("Soak test complete after %s\n", *soakFor)
	fmt.Printf("  samples pulled:        %d\n", totalPulled)
	fmt.Printf("  samples underrun:      %d\n", totalUnderrun)
	fmt.Printf("  ring overflow count:   %d\n", p.OverflowCount())
	fmt.Printf("  inference error count: %d\n", p.InferenceErrorCount())
}

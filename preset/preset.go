// Package preset loads a JSON-described configuration for a pipeline
// instance: model path, default gains, worker interval, and ring buffer
// capacity override. Optional fields use pointers so "unset" and "zero"
// are distinguishable, applied on top of hard-coded defaults.
package preset

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config is the resolved configuration of a pipeline instance, after a
// File has been applied over Default().
type Config struct {
	ModelPath         string
	ModelThreads      int
	SampleRate        float64
	BlockSize         int
	WorkerIntervalMS  int
	RingCapacity      int
	HarmonicGain      float32
	NoiseGain         float32
	DefaultF0Hz       float64
	DefaultLoudnessDB float64
}

// Default returns the hard-coded baseline configuration a File is applied
// on top of.
func Default() *Config {
	return &Config{
		ModelThreads:      1,
		SampleRate:        48000,
		BlockSize:         512,
		WorkerIntervalMS:  20,
		RingCapacity:      61440,
		HarmonicGain:      1,
		NoiseGain:         1,
		DefaultF0Hz:       440,
		DefaultLoudnessDB: -20,
	}
}

// File is the JSON schema for a pipeline preset. Every field is optional
// and, when absent (or, for ModelPath, empty), leaves the corresponding
// Default() value untouched.
type File struct {
	ModelPath         string   `json:"model_path"`
	ModelThreads      *int     `json:"model_threads"`
	SampleRate        *float64 `json:"sample_rate"`
	BlockSize         *int     `json:"block_size"`
	WorkerIntervalMS  *int     `json:"worker_interval_ms"`
	RingCapacity      *int     `json:"ring_capacity"`
	HarmonicGain      *float32 `json:"harmonic_gain"`
	NoiseGain         *float32 `json:"noise_gain"`
	DefaultF0Hz       *float64 `json:"default_f0_hz"`
	DefaultLoudnessDB *float64 `json:"default_loudness_db"`
}

// LoadJSON reads a preset file and applies it on top of Default(). A
// relative ModelPath is resolved against the preset file's directory, the
// same way the piano preset loader resolves a relative IR path.
func LoadJSON(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("preset: read %s: %w", path, err)
	}

	var f File
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("preset: parse %s: %w", path, err)
	}

	cfg := Default()
	if err := ApplyFile(cfg, &f); err != nil {
		return nil, fmt.Errorf("preset: %s: %w", path, err)
	}

	if cfg.ModelPath != "" && !filepath.IsAbs(cfg.ModelPath) {
		base := filepath.Dir(path)
		cfg.ModelPath = filepath.Clean(filepath.Join(base, cfg.ModelPath))
	}
	return cfg, nil
}

// ApplyFile applies a parsed File onto an existing Config, validating each
// field as it is copied over.
func ApplyFile(dst *Config, f *File) error {
	if dst == nil {
		return fmt.Errorf("nil destination config")
	}
	if f == nil {
		return nil
	}

	if f.ModelPath != "" {
		dst.ModelPath = f.ModelPath
	}
	if f.ModelThreads != nil {
		if *f.ModelThreads < 0 {
			return fmt.Errorf("model_threads must be >= 0")
		}
		dst.ModelThreads = *f.ModelThreads
	}
	if f.SampleRate != nil {
		if *f.SampleRate <= 0 {
			return fmt.Errorf("sample_rate must be > 0")
		}
		dst.SampleRate = *f.SampleRate
	}
	if f.BlockSize != nil {
		if *f.BlockSize <= 0 {
			return fmt.Errorf("block_size must be > 0")
		}
		dst.BlockSize = *f.BlockSize
	}
	if f.WorkerIntervalMS != nil {
		if *f.WorkerIntervalMS <= 0 {
			return fmt.Errorf("worker_interval_ms must be > 0")
		}
		dst.WorkerIntervalMS = *f.WorkerIntervalMS
	}
	if f.RingCapacity != nil {
		if *f.RingCapacity <= 0 {
			return fmt.Errorf("ring_capacity must be > 0")
		}
		dst.RingCapacity = *f.RingCapacity
	}
	if f.HarmonicGain != nil {
		if *f.HarmonicGain < 0 || *f.HarmonicGain > 10 {
			return fmt.Errorf("harmonic_gain must be in [0,10]")
		}
		dst.HarmonicGain = *f.HarmonicGain
	}
	if f.NoiseGain != nil {
		if *f.NoiseGain < 0 || *f.NoiseGain > 10 {
			return fmt.Errorf("noise_gain must be in [0,10]")
		}
		dst.NoiseGain = *f.NoiseGain
	}
	if f.DefaultF0Hz != nil {
		if *f.DefaultF0Hz <= 0 {
			return fmt.Errorf("default_f0_hz must be > 0")
		}
		dst.DefaultF0Hz = *f.DefaultF0Hz
	}
	if f.DefaultLoudnessDB != nil {
		dst.DefaultLoudnessDB = *f.DefaultLoudnessDB
	}
	return nil
}

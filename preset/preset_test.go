package preset

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultsUnchangedByEmptyFile(t *testing.T) {
	cfg := Default()
	if err := ApplyFile(cfg, &File{}); err != nil {
		t.Fatalf("ApplyFile: %v", err)
	}
	if *cfg != *Default() {
		t.Fatalf("empty File mutated defaults: %+v", cfg)
	}
}

func TestLoadJSONAppliesOverridesAndResolvesModelPath(t *testing.T) {
	dir := t.TempDir()
	modelPath := filepath.Join(dir, "decoder.onnx")
	if err := os.WriteFile(modelPath, []byte("fake"), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}

	presetPath := filepath.Join(dir, "preset.json")
	content := `{
  "model_path": "decoder.onnx",
  "model_threads": 4,
  "sample_rate": 44100,
  "harmonic_gain": 1.5,
  "noise_gain": 0.5
}`
	if err := os.WriteFile(presetPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write preset: %v", err)
	}

	cfg, err := LoadJSON(presetPath)
	if err != nil {
		t.Fatalf("LoadJSON: %v", err)
	}
	if cfg.ModelPath != modelPath {
		t.Fatalf("model path mismatch: got=%q want=%q", cfg.ModelPath, modelPath)
	}
	if cfg.ModelThreads != 4 {
		t.Fatalf("model_threads = %d, want 4", cfg.ModelThreads)
	}
	if cfg.SampleRate != 44100 {
		t.Fatalf("sample_rate = %f, want 44100", cfg.SampleRate)
	}
	if cfg.HarmonicGain != 1.5 || cfg.NoiseGain != 0.5 {
		t.Fatalf("gain fields mismatch: %+v", cfg)
	}
	// Fields absent from the file keep their Default() value.
	if cfg.BlockSize != Default().BlockSize {
		t.Fatalf("block_size changed despite absent from file: %d", cfg.BlockSize)
	}
}

func TestLoadJSONRejectsOutOfRangeGain(t *testing.T) {
	dir := t.TempDir()
	presetPath := filepath.Join(dir, "preset.json")
	content := `{"harmonic_gain": 20}`
	if err := os.WriteFile(presetPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write preset: %v", err)
	}
	if _, err := LoadJSON(presetPath); err == nil {
		t.Fatal("expected error for harmonic_gain out of [0,10]")
	}
}

func TestLoadJSONRejectsMissingFile(t *testing.T) {
	if _, err := LoadJSON(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing preset file")
	}
}

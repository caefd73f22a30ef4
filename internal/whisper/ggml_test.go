package whisper

import (
	"context"
	"path/filepath"
	"testing"

	"podpirate/whisper-service/config"
)

func TestGGMLModelPath(t *testing.T) {
	tests := []struct {
		name, dir, want string
	}{
		{"base", "/models", filepath.Join("/models", "ggml-base.bin")},
		{"large-v3", "models", filepath.Join("models", "ggml-large-v3.bin")},
		{"/opt/whisper/custom.bin", "/models", "/opt/whisper/custom.bin"},
		{"custom.bin", "/models", "custom.bin"},
	}

	for _, tt := range tests {
		got := ggmlModelPath(config.ModelConfig{Name: tt.name, ModelDir: tt.dir})
		if got != tt.want {
			t.Errorf("ggmlModelPath(%q, %q) = %q, want %q", tt.name, tt.dir, got, tt.want)
		}
	}
}

func TestLoadUnknownBackend(t *testing.T) {
	cfg := config.Default().Model
	cfg.Backend = "vosk"

	if _, err := Load(context.Background(), cfg, testLogger()); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

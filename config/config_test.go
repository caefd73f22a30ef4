package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func mapLookup(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(mapLookup(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Model.Name != "base" || cfg.Model.Device != "cpu" || cfg.Model.ComputeType != "int8" {
		t.Errorf("unexpected model defaults: %+v", cfg.Model)
	}
	if cfg.Model.Backend != BackendFasterWhisper {
		t.Errorf("expected backend %s, got %s", BackendFasterWhisper, cfg.Model.Backend)
	}
	if cfg.Addr() != ":8000" {
		t.Errorf("expected :8000, got %s", cfg.Addr())
	}
	if cfg.MaxUploadBytes() != 512<<20 {
		t.Errorf("unexpected upload limit %d", cfg.MaxUploadBytes())
	}
	if cfg.Server.MaxConcurrency != 1 {
		t.Errorf("expected serialized model access by default, got %d", cfg.Server.MaxConcurrency)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	cfg, err := load(mapLookup(map[string]string{
		"WHISPER_MODEL":           "large-v3",
		"WHISPER_DEVICE":          "cuda",
		"WHISPER_COMPUTE_TYPE":    "float16",
		"PORT":                    "9000",
		"WHISPER_MAX_CONCURRENCY": "2",
		"LOG_LEVEL":               "debug",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Model.Name != "large-v3" || cfg.Model.Device != "cuda" || cfg.Model.ComputeType != "float16" {
		t.Errorf("env not applied: %+v", cfg.Model)
	}
	if cfg.Server.Port != 9000 || cfg.Server.MaxConcurrency != 2 {
		t.Errorf("env not applied: %+v", cfg.Server)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected debug, got %s", cfg.Log.Level)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "whisper.toml")
	content := `
[model]
name = "small"
device = "auto"

[server]
port = 8100
queue_size = 4
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := load(mapLookup(map[string]string{
		"WHISPER_CONFIG": path,
		"PORT":           "8200",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Model.Name != "small" || cfg.Model.Device != "auto" {
		t.Errorf("file not applied: %+v", cfg.Model)
	}
	if cfg.Model.ComputeType != "int8" {
		t.Errorf("default lost after file load: %s", cfg.Model.ComputeType)
	}
	if cfg.Server.QueueSize != 4 {
		t.Errorf("expected queue size 4, got %d", cfg.Server.QueueSize)
	}
	if cfg.Server.Port != 8200 {
		t.Errorf("env should win over file, got port %d", cfg.Server.Port)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"device", map[string]string{"WHISPER_DEVICE": "tpu"}, "Device"},
		{"compute type", map[string]string{"WHISPER_COMPUTE_TYPE": "int4"}, "ComputeType"},
		{"backend", map[string]string{"WHISPER_BACKEND": "vosk"}, "Backend"},
		{"grpc without addr", map[string]string{"WHISPER_BACKEND": "grpc"}, "GRPCAddr"},
		{"concurrency", map[string]string{"WHISPER_MAX_CONCURRENCY": "0"}, "MaxConcurrency"},
		{"port not a number", map[string]string{"PORT": "http"}, "PORT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(mapLookup(tt.env))
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error mentioning %s, got %v", tt.want, err)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	if _, err := NewLogger("info", "json"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if _, err := NewLogger("info", "xml"); err == nil {
		t.Errorf("expected error for unknown format")
	}
	if _, err := NewLogger("loud", "text"); err == nil {
		t.Errorf("expected error for unknown level")
	}
}
